package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var organizeCmd = &cobra.Command{
	Use:   "organize",
	Short: "Run only the organize stage over a source root",
	RunE:  runOrganize,
}

func init() {
	rootCmd.AddCommand(organizeCmd)
	organizeCmd.Flags().StringSlice("source", nil, "source root(s) to scan (repeatable)")
	organizeCmd.Flags().String("library-root", "", "destination library root")
	organizeCmd.Flags().Bool("dry-run", false, "plan but do not move files")
	organizeCmd.Flags().Bool("force", false, "re-organize even if already organized")
	organizeCmd.Flags().Bool("resolve-all", false, "always consult the LLM resolver, even above the catalog threshold")
	organizeCmd.Flags().String("asin", "", "override catalog lookup with a specific ASIN")

	viper.BindPFlag("source_roots", organizeCmd.Flags().Lookup("source"))
	viper.BindPFlag("library_root", organizeCmd.Flags().Lookup("library-root"))
	viper.BindPFlag("dry-run", organizeCmd.Flags().Lookup("dry-run"))
	viper.BindPFlag("force", organizeCmd.Flags().Lookup("force"))
	viper.BindPFlag("resolve-all", organizeCmd.Flags().Lookup("resolve-all"))
	viper.BindPFlag("asin", organizeCmd.Flags().Lookup("asin"))
}

func runOrganize(cmd *cobra.Command, args []string) error {
	return runSingleModeCommand(cmd, "organize")
}
