// Copyright 2025 James Ross
package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffMonotonicAndCapped(t *testing.T) {
	base := 1 * time.Second
	prevMin := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		d := Backoff(attempt, base)
		floor := base*time.Duration(1<<uint(min3(attempt-1))) + time.Duration(attempt)*500*time.Millisecond
		if d < floor {
			t.Fatalf("attempt %d: backoff %s below floor %s", attempt, d, floor)
		}
		if d < prevMin {
			t.Fatalf("attempt %d: backoff %s should not shrink below prior floor %s", attempt, d, prevMin)
		}
		prevMin = floor
	}
}

func min3(n int) int {
	if n > 3 {
		return 3
	}
	if n < 0 {
		return 0
	}
	return n
}

func TestTimeoutReturnsDistinguishedError(t *testing.T) {
	err := Timeout(context.Background(), 10*time.Millisecond, "slow-op", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *TimeoutError, got %v (%T)", err, err)
	}
	if timeoutErr.Label != "slow-op" {
		t.Fatalf("unexpected label: %s", timeoutErr.Label)
	}
}

func TestTimeoutPropagatesOuterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Timeout(ctx, time.Second, "op", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTimeoutReturnsOpResultWhenFast(t *testing.T) {
	want := errors.New("boom")
	err := Timeout(context.Background(), time.Second, "op", func(ctx context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
