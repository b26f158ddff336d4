package main

import (
	"context"
	"fmt"

	"github.com/abcpipeline/audiobook-organizer/internal/sanitize"
	"github.com/abcpipeline/audiobook-organizer/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve metadata (path + tags + catalog + LLM) without moving any files",
	Long: `Resolve fuses the same path-parsing, embedded-tag, catalog-search, and
LLM-disambiguation signals the organize stage uses, and writes the result
into each book's metadata.* manifest fields — without planning or
committing a destination move.

Useful for reviewing what the pipeline would decide about a book's
author/title/series/position before letting organize act on it.`,
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringSlice("source", nil, "source root(s) to scan (repeatable)")
	resolveCmd.Flags().Bool("resolve-all", false, "always consult the LLM resolver, even above the catalog threshold")
	resolveCmd.Flags().String("asin", "", "override catalog lookup with a specific ASIN")

	viper.BindPFlag("source_roots", resolveCmd.Flags().Lookup("source"))
	viper.BindPFlag("resolve-all", resolveCmd.Flags().Lookup("resolve-all"))
	viper.BindPFlag("asin", resolveCmd.Flags().Lookup("asin"))
}

func runResolve(cmd *cobra.Command, args []string) error {
	util.SetVerbose(GetConfigBool("verbose"))
	util.SetQuiet(GetConfigBool("quiet"))

	roots := GetConfigStringSlice("source_roots")
	if len(roots) == 0 {
		return fmt.Errorf("at least one source root is required (use --source or set source_roots in config)")
	}

	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	ctx := context.Background()
	resolved := 0
	for _, root := range roots {
		err := discoverBookDirsForScan(root, func(dir string) {
			if err := resolveOneBook(ctx, p, dir); err != nil {
				util.WarnLog("resolve %s: %v", dir, err)
				return
			}
			resolved++
		})
		if err != nil {
			util.WarnLog("walk %s: %v", root, err)
		}
	}

	util.SuccessLog("Resolved metadata for %d book(s)", resolved)
	return nil
}

func resolveOneBook(ctx context.Context, p *Pipeline, sourceDir string) error {
	bookHash, err := sanitize.BookHash(sourceDir)
	if err != nil {
		return fmt.Errorf("compute book hash: %w", err)
	}

	if !p.Manifest.Exists(bookHash) {
		if err := p.Manifest.Create(bookHash, sourceDir, false); err != nil {
			return fmt.Errorf("create manifest: %w", err)
		}
	}

	files, err := audioFilesIn(sourceDir)
	if err != nil {
		return fmt.Errorf("list audio files: %w", err)
	}

	hint, err := p.resolveHint(ctx, sourceDir, files)
	if err != nil {
		return fmt.Errorf("resolve hint: %w", err)
	}

	p.Events.LogResolve(bookHash, sourceDir, "resolve command, no files moved")

	return p.Manifest.Update(bookHash, map[string]interface{}{
		"metadata": map[string]interface{}{
			"author":   hint.Author,
			"title":    hint.Title,
			"series":   hint.Series,
			"position": hint.Position,
			"year":     hint.Year,
			"asin":     hint.ASIN,
		},
	})
}
