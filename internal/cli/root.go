// Package cli implements the tradesim command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X ...".
var Version = "dev"

// RootConfig holds the persistent flags shared by every subcommand.
type RootConfig struct {
	ConfigPath string
	EnvFile    string
	DBPath     string
	Driver     string
	LogLevel   string
	LogFile    string
}

func NewRootCmd() *cobra.Command {
	rc := &RootConfig{}

	cmd := &cobra.Command{
		Use:           "tradesim",
		Short:         "tradesim: oracle-driven backtesting with a persistent journal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global / persistent flags
	cmd.PersistentFlags().StringVar(&rc.ConfigPath, "config", "", "Path to config file (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&rc.EnvFile, "env-file", ".env", "Environment file loaded before the config")
	cmd.PersistentFlags().StringVar(&rc.DBPath, "db", "", "Store DSN (SQLite path or PostgreSQL URL); overrides store.dsn")
	cmd.PersistentFlags().StringVar(&rc.Driver, "driver", "", "Store driver: memory|sqlite|postgres; overrides store.driver")
	cmd.PersistentFlags().StringVar(&rc.LogLevel, "log-level", "", "Log level: debug|info|warn|error")
	cmd.PersistentFlags().StringVar(&rc.LogFile, "log-file", "", "Append log output to this file")

	cmd.AddCommand(
		newRunCmd(rc),
		newAccountCmd(rc),
		newTaskCmd(rc),
		newStatsCmd(rc),
		newExportCmd(rc),
		newDecisionsCmd(rc),
		newDataCmd(rc),
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tradesim %s\n", Version)
		},
	})

	return cmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
