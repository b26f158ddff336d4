package main

import (
	"fmt"
	"os"

	"github.com/abcpipeline/audiobook-organizer/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "abc",
		Short: "Audiobook Library Organizer - resumable audiobook ingest and library layout",
		Long: `abc is a deterministic, resumable audiobook processing pipeline.
It takes a messy drop folder of ripped or downloaded audiobooks and produces
a validated, converted, and consistently organized library, with per-book
audit manifests and a batch run ledger.`,
		Version: Version,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/example.yaml)")
	rootCmd.PersistentFlags().String("manifest-dir", "manifests", "per-book manifest directory")
	rootCmd.PersistentFlags().String("ledger", "abc-ledger.db", "batch run ledger database file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")

	// Bind flags to viper
	viper.BindPFlag("manifest_dir", rootCmd.PersistentFlags().Lookup("manifest-dir"))
	viper.BindPFlag("ledger_path", rootCmd.PersistentFlags().Lookup("ledger"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("example")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ABC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
