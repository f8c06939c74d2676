// Copyright 2025 James Ross
package recovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/seo-batch/job-engine/internal/jobstore"
	"github.com/seo-batch/job-engine/internal/obs"
)

const recoveredReason = "Recovered stuck job (no heartbeat >= 10m)"

// Loop runs the stuck-job sweep (C11) on a fixed cadence: jobs whose
// lease has expired and whose heartbeat has gone stale are failed and
// released so another worker can pick up whatever survives.
type Loop struct {
	Store      *jobstore.Store
	Log        *zap.Logger
	Interval   time.Duration
	StaleAfter time.Duration
}

func (l *Loop) logger() *zap.Logger {
	if l.Log == nil {
		return zap.NewNop()
	}
	return l.Log
}

// Run blocks until ctx is cancelled, ticking at Interval.
func (l *Loop) Run(ctx context.Context) {
	interval := l.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	staleAfter := l.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx, staleAfter)
		}
	}
}

func (l *Loop) tick(ctx context.Context, staleAfter time.Duration) {
	stuck, err := l.Store.FindStuck(ctx, time.Now(), staleAfter)
	if err != nil {
		l.logger().Warn("recovery: find stuck failed", obs.Err(err))
		return
	}

	for _, job := range stuck {
		if err := l.Store.RecoverStuck(ctx, job.ID, recoveredReason); err != nil {
			l.logger().Error("recovery: recover stuck failed", obs.JobID(job.ID), obs.Err(err))
			continue
		}
		obs.RecoveryRecovered.Inc()
		l.logger().Warn("recovered stuck job", obs.JobID(job.ID), obs.Tenant(job.Tenant), obs.String("reason", recoveredReason))
	}
}
