// Package metrics logs periodic snapshots of server activity, grounded on
// the teacher's metrics goroutine: a single ticker, one log line per tick,
// silent when there is nothing to report.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"videobroker/internal/ingest"
	"videobroker/internal/link"
)

// Run logs Link Manager registration counts and active ingestion pipeline
// counts every interval until ctx is canceled.
func Run(ctx context.Context, manager *link.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := manager.Stats(ctx)
			if err != nil {
				return
			}
			active := ingest.ActiveCount()
			if stats.Users > 0 || stats.Devices > 0 || active > 0 {
				slog.Info("metrics", "users", stats.Users, "devices", stats.Devices, "active_ingestions", active)
			}
		}
	}
}
