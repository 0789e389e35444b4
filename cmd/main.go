package main

import (
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	sqlitePath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "poolify",
		Short:         "Group-ordering pools with chat and savings stats",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.toml", "path to the TOML config file (optional)")
	rootCmd.PersistentFlags().StringVar(&opts.sqlitePath, "sqlite", "", "use a SQLite database file instead of Postgres")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newSweepCmd(opts),
		newMigrateCmd(opts),
	)
	return rootCmd
}
