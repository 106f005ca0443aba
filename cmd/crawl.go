// Package cmd defines the CLI commands for the betline-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand, which performs one full pass
// over the configured sports.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one prematch crawl",
		Long: `Fetches the sport catalog, selects the configured sport families and
prints the first events of every top league with their open markets and
runners.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	stats, err := appInstance.Run(cmd.Context())
	if errors.Is(err, context.Canceled) {
		logger.Warn("crawl interrupted",
			zap.Int("events_emitted", stats.EventsEmitted),
			zap.Duration("elapsed", stats.Elapsed),
		)
		return nil
	}
	if err != nil {
		if cerr := closeApp(cmd.Context()); cerr != nil {
			logger.Warn("failed to close application", zap.Error(cerr))
		}
		return fmt.Errorf("run crawler: %w", err)
	}

	logger.Info("crawl command finished",
		zap.Int("events_emitted", stats.EventsEmitted),
		zap.Int("events_skipped", stats.EventsSkipped),
	)
	return nil
}
