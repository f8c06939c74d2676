// Copyright 2025 James Ross
package callguard

import (
	"testing"
	"time"
)

func TestGuardTransitions(t *testing.T) {
	g := New(2*time.Second, 200*time.Millisecond, 0.5, 2)
	if g.Health() != Healthy {
		t.Fatal("expected healthy")
	}
	g.Record(false)
	g.Record(false)
	time.Sleep(10 * time.Millisecond)
	if g.Health() != Unhealthy {
		t.Fatal("expected unhealthy")
	}
	if g.Allow() != false {
		t.Fatal("should not allow until cooldown")
	}
	time.Sleep(250 * time.Millisecond)
	if g.Allow() != true {
		t.Fatal("should allow a probe once cooldown elapses")
	}
	g.Record(true)
	if g.Health() != Healthy {
		t.Fatal("expected healthy after successful probe")
	}
}
