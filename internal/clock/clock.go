// Copyright 2025 James Ross
package clock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Backoff computes a jittered exponential delay for the given attempt
// number (1-indexed): base*2^min(3,attempt-1) + attempt*500ms + U(0,250ms).
func Backoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 3 {
		shift = 3
	}
	d := base * time.Duration(1<<uint(shift))
	d += time.Duration(attempt) * 500 * time.Millisecond
	d += jitter(250 * time.Millisecond)
	return d
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}

// TimeoutError distinguishes a deadline exceeded from any other error an
// operation might return.
type TimeoutError struct {
	Label string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Label, e.After)
}

// Timeout runs op under a context bounded by d. op should itself respect
// ctx for best-effort cancellation; Timeout does not forcibly abort it.
func Timeout(ctx context.Context, d time.Duration, label string, op func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(cctx)
	}()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TimeoutError{Label: label, After: d}
	}
}
