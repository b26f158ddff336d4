package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Run the convert mode's full stage list (validate, concat, convert, organize, cleanup)",
	Long: `Convert mode runs the same stage list as run mode (spec.md §3:
"convert mode = full list"); it is kept as its own subcommand for
operators who think in terms of "get this drop folder converted and
filed" rather than "run the pipeline".`,
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().StringSlice("source", nil, "source root(s) to scan (repeatable)")
	convertCmd.Flags().String("library-root", "", "destination library root")
	convertCmd.Flags().Bool("dry-run", false, "plan but do not move or convert files")
	convertCmd.Flags().Bool("force", false, "re-run every stage even if already completed")
	convertCmd.Flags().Bool("resolve-all", false, "always consult the LLM resolver, even above the catalog threshold")
	convertCmd.Flags().String("asin", "", "override catalog lookup with a specific ASIN")

	viper.BindPFlag("source_roots", convertCmd.Flags().Lookup("source"))
	viper.BindPFlag("library_root", convertCmd.Flags().Lookup("library-root"))
	viper.BindPFlag("dry-run", convertCmd.Flags().Lookup("dry-run"))
	viper.BindPFlag("force", convertCmd.Flags().Lookup("force"))
	viper.BindPFlag("resolve-all", convertCmd.Flags().Lookup("resolve-all"))
	viper.BindPFlag("asin", convertCmd.Flags().Lookup("asin"))
}

func runConvert(cmd *cobra.Command, args []string) error {
	return runSingleModeCommand(cmd, "convert")
}
