// Package cmd implements the eventpipe command-line interface.
package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "eventpipe",
	Short: "Self-healing event scraping pipeline",
	Long: `eventpipe discovers municipal event sources, scrapes and normalizes
their listings, deduplicates the results and persists them with
embeddings for semantic search.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command with signal-aware cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(daemonCommand())
	rootCmd.AddCommand(coordinateCommand())
	rootCmd.AddCommand(workCommand())
	rootCmd.AddCommand(discoverCommand())
	rootCmd.AddCommand(healCommand())
	rootCmd.AddCommand(enrichCommand())
	rootCmd.AddCommand(dlqCommand())
	rootCmd.AddCommand(sourcesCommand())
	rootCmd.AddCommand(migrateCommand())
}
