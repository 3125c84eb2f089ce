package indexer

import (
	"context"
	"time"
)

// RunReaper calls ReapStale every interval until ctx is cancelled.
func (c *Coordinator) RunReaper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("Reaper started", "interval", interval, "max_age", maxAge)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Reaper stopped")
			return
		case <-ticker.C:
			n, err := c.ReapStale(ctx, maxAge)
			if err != nil {
				c.logger.Error("Reap failed", "error", err)
				continue
			}
			if n > 0 {
				c.logger.Info("Reaped stale tasks", "count", n)
			}
		}
	}
}
