// Package cli provides the dnsproxy command-line surface: `serve` runs the
// recursive proxy, `query` is a one-shot test client, and
// `telemetry-worker` runs a standalone Asynq consumer for the durable
// telemetry sink. Structure grounded on the teacher's internal/cli package
// (NewRootCmd composing subcommands, each subcommand owning its own flags).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// PackageVersion is the current version of the CLI.
const PackageVersion = "1.0.0"

// NewRootCmd creates the root CLI command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "dnsproxy",
		Short:   "Recursive DNS proxy with threat-index blocking and response caching",
		Long:    `A recursive DNS proxy that classifies queries against a threat index and a heuristic classifier, caches upstream responses, and optionally suggests typo corrections.`,
		Version: PackageVersion,
	}

	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewQueryCommand())
	rootCmd.AddCommand(NewTelemetryWorkerCommand())
	return rootCmd
}

// Execute runs the CLI.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
