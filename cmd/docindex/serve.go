package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bull/docindex/internal/api"
	"github.com/bull/docindex/internal/app"
	"github.com/bull/docindex/internal/config"
	"github.com/bull/docindex/internal/worker"
)

var embeddedWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serves the document API on PORT and runs the stale task reaper.

With --embedded-worker the indexing worker runs in the same process, which
is required when QUEUE_DRIVER=memory.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&embeddedWorker, "embedded-worker", false, "run indexing workers in this process")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, a, cleanup, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if a.Config.Queue.Driver == config.DriverMemory && !embeddedWorker {
		a.Logger.Warn("Memory queue without --embedded-worker: index requests will never be processed")
	}

	var w *worker.Worker
	if embeddedWorker {
		if w, err = a.Worker(); err != nil {
			return err
		}
	}
	return serve(ctx, a, w)
}

// serve runs the HTTP server, the reaper and, when w is non-nil, the worker
// until ctx is cancelled or one of them fails. Nothing in here can fail
// before the goroutines start, so returning always means they have stopped.
func serve(ctx context.Context, a *app.App, w *worker.Worker) error {
	cfg := a.Config
	handler := api.NewDocumentHandler(a.Coordinator, a.Uploads(), a.Logger)
	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           api.NewRouter(handler, a.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		a.Coordinator.RunReaper(gctx, cfg.Worker.ReapInterval, cfg.Worker.TaskTimeout)
		return nil
	})
	if w != nil {
		g.Go(func() error {
			w.Run(gctx, cfg.Worker.Concurrency)
			return nil
		})
	}
	return g.Wait()
}
