// Package cmd provides the CLI commands for quarry.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quarry-search/quarry/internal/logging"
	"github.com/quarry-search/quarry/pkg/version"
)

var logLevel string

// NewRootCmd creates the root command for the quarry CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarry",
		Short: "Hybrid retrieval engine for tenant-scoped document collections",
		Long: `Quarry retrieves document chunks by fusing vector similarity with
keyword matching: queries are expanded, dispatched to both backends in
parallel, score-normalized, fused, trimmed, and cached.

Run 'quarry index <path>' to build a corpus, then 'quarry search <query>'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.SetupStderr(logLevel)
		},
	}

	cmd.SetVersionTemplate("quarry version {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
