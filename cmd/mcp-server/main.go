// Package main provides the MCP server entry point for docindex.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bull/docindex/internal/app"
	"github.com/bull/docindex/internal/config"
	"github.com/bull/docindex/internal/logging"
	mcpserver "github.com/bull/docindex/internal/mcp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// The memory queue is only visible to this process, so it runs the workers too.
	if cfg.Queue.Driver == config.DriverMemory {
		w, err := a.Worker()
		if err != nil {
			logger.Error("Failed to create worker", "error", err)
			os.Exit(1)
		}
		go w.Run(ctx, cfg.Worker.Concurrency)
		go a.Coordinator.RunReaper(ctx, cfg.Worker.ReapInterval, cfg.Worker.TaskTimeout)
	}

	server := mcpserver.NewServer(&mcpserver.Config{
		Indexer: a.Coordinator,
		Owner:   cfg.MCP.Owner,
	})
	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.App.Port,
		Handler:           mcpserver.NewMux(server, &mcpserver.HTTPOptions{Stateless: true}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if cfg.MCP.ServerMode {
		// HTTP mode: serve MCP over HTTP for remote clients
		logger.Info("Starting HTTP server", "addr", srv.Addr, "mcp", "/mcp", "health", "/health")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
		return
	}

	// Stdio mode for local clients, with the health endpoint in the background
	go func() {
		logger.Info("Starting health server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Health server error", "error", err)
		}
	}()

	logger.Info("Starting docindex MCP server (stdio mode)")
	if err := server.Run(ctx); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
