// Copyright 2025 James Ross
package storeapi

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleFunc is invoked whenever a response's cost telemetry forces a
// pacing sleep, so the caller can refresh its lease/heartbeat while
// blocked.
type ThrottleFunc func(waitMs int64, status ThrottleStatus)

// pacer reproduces spec §4.7's cost-pacing rule — sleep synchronously
// when currentlyAvailable drops below minAvailable, for
// ceil((minAvailable-currentlyAvailable)/restoreRate) seconds clamped to
// [0, maxWait] — on top of a golang.org/x/time/rate limiter kept in sync
// with the server's advertised restore rate, so calls made between
// throttle responses are paced smoothly rather than bursting back-to-back
// the instant the sleep ends.
type pacer struct {
	minAvailable float64
	maxWait      time.Duration
	limiter      *rate.Limiter
}

func newPacer(minAvailable float64, maxWait time.Duration) *pacer {
	return &pacer{
		minAvailable: minAvailable,
		maxWait:      maxWait,
		limiter:      rate.NewLimiter(rate.Inf, 1),
	}
}

// observe updates the limiter from the latest throttle status and returns
// the synchronous wait this status demands, per spec's formula.
func (p *pacer) observe(status ThrottleStatus) time.Duration {
	if status.RestoreRate > 0 {
		p.limiter.SetLimit(rate.Limit(status.RestoreRate))
		p.limiter.SetBurst(int(math.Max(1, status.CurrentlyAvailable)))
	}

	if status.CurrentlyAvailable >= p.minAvailable || status.RestoreRate <= 0 {
		return 0
	}

	seconds := (p.minAvailable - status.CurrentlyAvailable) / status.RestoreRate
	wait := time.Duration(math.Ceil(seconds)) * time.Second
	if wait > p.maxWait {
		wait = p.maxWait
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// wait blocks for the limiter-governed pacing delay ahead of the next
// call, independent of the synchronous throttle-status sleep.
func (p *pacer) wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
