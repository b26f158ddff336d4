package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/abcpipeline/audiobook-organizer/internal/sanitize"
	"github.com/abcpipeline/audiobook-organizer/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover book directories under the source roots without touching any manifest",
	Long: `Scan walks the configured source roots and reports how many book
directories it finds, without creating or updating any per-book manifest.

A book directory is the first directory a walk encounters that directly
contains an audio file; everything below it (CD1/CD2 subfolders, cover
art, text files) belongs to that one book and is not descended into
separately, matching internal/batch's own discovery walk.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringSlice("source", nil, "source root(s) to scan (repeatable)")
	viper.BindPFlag("source_roots", scanCmd.Flags().Lookup("source"))
}

func runScan(cmd *cobra.Command, args []string) error {
	util.SetVerbose(GetConfigBool("verbose"))
	util.SetQuiet(GetConfigBool("quiet"))

	roots := GetConfigStringSlice("source_roots")
	if len(roots) == 0 {
		return fmt.Errorf("at least one source root is required (use --source or set source_roots in config)")
	}

	total := 0
	for _, root := range roots {
		count := 0
		err := discoverBookDirsForScan(root, func(dir string) {
			count++
			files, _ := audioFilesIn(dir)
			util.InfoLog("  %s (%d audio files)", dir, len(files))
		})
		if err != nil {
			util.WarnLog("walk %s: %v", root, err)
			continue
		}
		util.SuccessLog("%s: %d book directories found", root, count)
		total += count
	}

	util.InfoLog("")
	util.SuccessLog("Total: %d book directories across %d source root(s)", total, len(roots))
	return nil
}

// discoverBookDirsForScan mirrors internal/batch.discoverBookDirs:
// the first directory that directly contains an audio file is a book
// directory, and the walk does not descend into it.
func discoverBookDirsForScan(root string, report func(dir string)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if sanitize.AudioExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
				report(path)
				return filepath.SkipDir
			}
		}
		return nil
	})
}
