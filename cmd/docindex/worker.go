package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/bull/docindex/internal/config"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run indexing workers",
	Long: `Consumes task ids from the Redis queue, indexes each document and reports
the result. Unacknowledged tasks left by a crashed worker are requeued on start.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVarP(&workerConcurrency, "concurrency", "c", 0, "number of consume loops (default WORKER_CONCURRENCY)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, a, cleanup, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if a.Config.Queue.Driver != config.DriverRedis {
		return errors.New("the worker command needs QUEUE_DRIVER=redis; use serve --embedded-worker with the memory queue")
	}

	w, err := a.Worker()
	if err != nil {
		return err
	}
	n := workerConcurrency
	if n <= 0 {
		n = a.Config.Worker.Concurrency
	}
	w.Run(ctx, n)
	return nil
}
