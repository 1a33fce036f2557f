package main

import (
	"context"
	"time"

	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
	"github.com/piresc/nebengjek-dispatch/services/trips"
)

// runSweeper persists expiry for stale waiting trips every interval until ctx is done.
// Reads already treat those trips as expired; the sweep only converges storage.
func runSweeper(ctx context.Context, tripUC trips.TripUC, interval time.Duration) {
	if interval <= 0 {
		logger.Info("Expiry sweeper disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(ctx, tripUC, interval)
		}
	}
}

func sweepOnce(ctx context.Context, tripUC trips.TripUC, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	expired, err := tripUC.ExpireStale(ctx)
	if err != nil {
		logger.Warn("Expiry sweep failed", logger.Int("expired", expired), logger.Err(err))
		return
	}
	if expired > 0 {
		logger.Info("Expired stale trips", logger.Int("count", expired))
	}
}
