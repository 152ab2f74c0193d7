// Package cli is the command line surface of the scraper: one-shot scrape
// runs, the queue worker and the monitor daemon.
package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// logLevel overrides LOG_LEVEL when set.
	logLevel string

	rootCmd = &cobra.Command{
		Use:          "imovel-scraper",
		Short:        "Adaptive scraper for Caixa property auction listings",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command until it returns or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(scrapeCommand())
	rootCmd.AddCommand(dueCommand())
	rootCmd.AddCommand(catalogCommand("catalog", "Scrape new and stale listings of the catalog feed", false))
	rootCmd.AddCommand(catalogCommand("full", "Scrape every listing of the catalog feed", true))
	rootCmd.AddCommand(workerCommand())
	rootCmd.AddCommand(monitorCommand())
	rootCmd.AddCommand(resetCommand())
	rootCmd.AddCommand(exportCommand())
	rootCmd.AddCommand(reportCommand())
}

// printJSON writes v to the command's stdout as indented JSON.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
