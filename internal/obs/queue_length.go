// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/seo-batch/job-engine/internal/config"
)

// lengthSource is satisfied by *broker.Broker; kept as an interface here
// so obs doesn't need to import broker for a single sampling call.
type lengthSource interface {
	Lengths(ctx context.Context) (ready int64, delayed int64, err error)
}

// StartQueueLengthUpdater samples the dispatch broker's ready/delayed set
// sizes and updates the QueueLength gauge on a fixed interval.
func StartQueueLengthUpdater(ctx context.Context, cfg *config.Config, b lengthSource, log *zap.Logger) {
	interval := 2 * time.Second
	if cfg.Observability.QueueSampleInterval > 0 {
		interval = cfg.Observability.QueueSampleInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ready, delayed, err := b.Lengths(ctx)
				if err != nil {
					log.Debug("queue length poll error", Err(err))
					continue
				}
				QueueLength.WithLabelValues("ready").Set(float64(ready))
				QueueLength.WithLabelValues("delayed").Set(float64(delayed))
			}
		}
	}()
}
