// Package main provides the docindex CLI: the HTTP API server, the indexing
// worker and the stale task reaper.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bull/docindex/internal/app"
	"github.com/bull/docindex/internal/config"
	"github.com/bull/docindex/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "docindex",
	Short: "Document indexing service",
	Long: `docindex stores uploaded documents and indexes them into ordered,
embedded chunks through a queue of background tasks.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, workerCmd, reapCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration, sets up logging and connects the app.
// The returned context is cancelled on SIGINT or SIGTERM.
func bootstrap(cmd *cobra.Command) (context.Context, *app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warn("Shutdown error", "error", err)
		}
		stop()
	}
	return ctx, a, cleanup, nil
}
