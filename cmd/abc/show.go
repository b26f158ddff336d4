package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/abcpipeline/audiobook-organizer/internal/ledger"
	"github.com/abcpipeline/audiobook-organizer/internal/manifest"
	"github.com/abcpipeline/audiobook-organizer/internal/sanitize"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <book-hash-or-source-dir>",
	Short: "Print a book's manifest, or its ledger history with --history",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().Bool("history", false, "show past batch-run outcomes from the ledger instead of the current manifest")
}

func runShow(cmd *cobra.Command, args []string) error {
	bookHash, err := resolveBookHash(args[0])
	if err != nil {
		return err
	}

	showHistory, _ := cmd.Flags().GetBool("history")
	if showHistory {
		return showBookHistory(bookHash)
	}
	return showBookManifest(bookHash)
}

// resolveBookHash accepts either a literal book hash or a source
// directory path still present on disk, computing the hash for the
// latter the same way internal/batch does during a real run.
func resolveBookHash(arg string) (string, error) {
	if info, err := os.Stat(arg); err == nil && info.IsDir() {
		return sanitize.BookHash(arg)
	}
	return arg, nil
}

func showBookManifest(bookHash string) error {
	manifestDir := GetConfigString("manifest_dir", "manifests")
	store, err := manifest.New(manifestDir)
	if err != nil {
		return fmt.Errorf("open manifest store: %w", err)
	}

	doc, err := store.Load(bookHash)
	if err != nil {
		return fmt.Errorf("load manifest for %s: %w", bookHash, err)
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func showBookHistory(bookHash string) error {
	ledgerPath := GetConfigString("ledger_path", "abc-ledger.db")
	l, err := ledger.Open(ledgerPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer l.Close()

	outcomes, err := l.History(bookHash)
	if err != nil {
		return fmt.Errorf("query history for %s: %w", bookHash, err)
	}
	if len(outcomes) == 0 {
		fmt.Printf("no ledger history for %s\n", bookHash)
		return nil
	}

	for _, o := range outcomes {
		line := fmt.Sprintf("%s  %-10s  %s", o.RecordedAt.Format("2006-01-02 15:04:05"), o.Status, o.SourcePath)
		if o.FailedStage != "" {
			line += fmt.Sprintf("  stage=%s", o.FailedStage)
		}
		if o.ErrorMessage != "" {
			line += fmt.Sprintf("  error=%s: %s", o.ErrorCategory, o.ErrorMessage)
		}
		fmt.Println(line)
	}
	return nil
}
