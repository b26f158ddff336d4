package main

import (
	"context"
	"fmt"

	"github.com/abcpipeline/audiobook-organizer/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run only the validate stage over a source root",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringSlice("source", nil, "source root(s) to scan (repeatable)")
	validateCmd.Flags().String("library-root", "", "destination library root (unused by validate, required by the pipeline builder)")
	validateCmd.Flags().Bool("force", false, "re-validate even if already validated")

	viper.BindPFlag("source_roots", validateCmd.Flags().Lookup("source"))
	viper.BindPFlag("library_root", validateCmd.Flags().Lookup("library-root"))
	viper.BindPFlag("force", validateCmd.Flags().Lookup("force"))
}

func runValidate(cmd *cobra.Command, args []string) error {
	return runSingleModeCommand(cmd, "validate")
}

// runSingleModeCommand shares the batch-run plumbing (lock, discovery,
// worker pool, ledger, summary) across every mode-scoped subcommand;
// only the stage subset named by mode differs.
func runSingleModeCommand(cmd *cobra.Command, mode string) error {
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
	for _, root := range roots {
		if _, err := runBatchOnce(ctx, p, root, mode); err != nil {
			return err
		}
	}
	return nil
}
