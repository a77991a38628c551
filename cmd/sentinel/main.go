// Package main is the entry point for the sentinel binary.
// It runs the governor against a plant, replays audit ledgers and prints
// build information.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultLogLevel = "info"

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for sentinel
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Runtime safety governor for robotic actuation",
		Long: `Sentinel sits between a motion planner and the actuators. Every control
tick it adapts a plant model, checks stability, cross-checks the model
against a nominal reference and enforces a timing budget, then scales the
command and appends a hash-chained audit record.

Example:
  sentinel run --config sentinel.yaml
  sentinel simulate --ticks 2000 --drift 1.5
  sentinel ledger verify --path data/audit`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error); overrides the config file")

	rootCmd.AddCommand(
		newRunCmd(),
		newSimulateCmd(),
		newLedgerCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "sentinel %s (commit %s)\n", version, commit)
			return err
		},
	}
}
