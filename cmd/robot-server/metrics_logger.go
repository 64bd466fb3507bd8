package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/robonav-server/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"accepted", snap.Accepted,
					"rejected", snap.Rejected,
					"completed", snap.Completed,
					"aborted", snap.Aborted,
					"auth_failures", snap.AuthFail,
					"collisions", snap.Collisions,
					"active", snap.Active,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
