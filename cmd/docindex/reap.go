package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var reapMaxAge time.Duration

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Fail indexing tasks that have been processing too long",
	Long: `Runs one reaper pass: every task processing for longer than --max-age
(default TASK_TIMEOUT) is marked failed together with its document. Suitable
for a cron job when serve is not running.`,
	RunE: runReap,
}

func init() {
	reapCmd.Flags().DurationVar(&reapMaxAge, "max-age", 0, "maximum processing time (default TASK_TIMEOUT)")
}

func runReap(cmd *cobra.Command, args []string) error {
	ctx, a, cleanup, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	maxAge := reapMaxAge
	if maxAge <= 0 {
		maxAge = a.Config.Worker.TaskTimeout
	}
	n, err := a.Coordinator.ReapStale(ctx, maxAge)
	if err != nil {
		return err
	}
	fmt.Printf("Reaped %d stale task(s) older than %s\n", n, maxAge)
	return nil
}
