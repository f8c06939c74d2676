// Copyright 2025 James Ross
package classify

import (
	"errors"
	"testing"
	"time"
)

func TestClassifyAuthFailures(t *testing.T) {
	for _, status := range []int{401, 403} {
		c := Classify(Input{HTTPStatus: status})
		if c.Transient {
			t.Fatalf("status %d: expected permanent, got transient", status)
		}
		if c.UserMessage != "authentication failed" {
			t.Fatalf("status %d: unexpected message %q", status, c.UserMessage)
		}
	}
}

func TestClassifyRateLimited(t *testing.T) {
	c := Classify(Input{HTTPStatus: 429, RetryAfterHeader: 3 * time.Second})
	if !c.Transient {
		t.Fatal("expected transient")
	}
	if c.RetryAfter != 3*time.Second {
		t.Fatalf("unexpected retry-after: %s", c.RetryAfter)
	}
}

func TestClassifyContextTooLong(t *testing.T) {
	c := Classify(Input{HTTPStatus: 400, Err: errors.New("maximum context length exceeded")})
	if c.Transient {
		t.Fatal("expected permanent")
	}
	if c.UserMessage != "input too long" {
		t.Fatalf("unexpected message %q", c.UserMessage)
	}
}

func TestClassifyOtherClientErrorsArePermanent(t *testing.T) {
	c := Classify(Input{HTTPStatus: 400, Err: errors.New("missing field foo")})
	if c.Transient {
		t.Fatal("expected permanent")
	}
	c = Classify(Input{HTTPStatus: 404})
	if c.Transient || c.UserMessage != "not found" {
		t.Fatalf("unexpected classification: %+v", c)
	}
}

func TestClassifyServerErrorsAreTransient(t *testing.T) {
	for _, status := range []int{500, 502, 503, 599} {
		c := Classify(Input{HTTPStatus: status})
		if !c.Transient {
			t.Fatalf("status %d: expected transient", status)
		}
	}
}

func TestClassifyTimeout(t *testing.T) {
	c := Classify(Input{Timeout: true})
	if !c.Transient {
		t.Fatal("expected transient")
	}
}

func TestClassifyNetworkError(t *testing.T) {
	c := Classify(Input{Err: errors.New("dial tcp: connection reset by peer")})
	if !c.Transient {
		t.Fatal("expected transient")
	}
}

func TestClassifyGraphQLThrottleMessage(t *testing.T) {
	c := Classify(Input{HTTPStatus: 200, GraphQLMessages: []string{"Throttled: too many requests, please retry"}})
	if !c.Transient {
		t.Fatal("expected transient")
	}
	if c.UserMessage != "rate limited" {
		t.Fatalf("unexpected message %q", c.UserMessage)
	}
}

func TestClassifyGraphQLNonThrottleMessageIsPermanentAndPreserved(t *testing.T) {
	c := Classify(Input{HTTPStatus: 200, GraphQLMessages: []string{"Invalid id gid://store/Article/42"}})
	if c.Transient {
		t.Fatal("expected permanent")
	}
	if c.UserMessage != "Invalid id gid://store/Article/42" {
		t.Fatalf("expected GraphQL error text preserved, got %q", c.UserMessage)
	}
}

func TestClassifyUnknownErrorDefaultsTransient(t *testing.T) {
	c := Classify(Input{Err: errors.New("something odd")})
	if !c.Transient {
		t.Fatal("expected transient default for unrecognized errors")
	}
}

func TestClassifyCleanSuccess(t *testing.T) {
	c := Classify(Input{HTTPStatus: 200})
	if c.Transient {
		t.Fatal("expected non-transient for a clean success")
	}
}

func TestEscalateAfterExhaustedRetries(t *testing.T) {
	c := Classification{Transient: true, UserMessage: "server error"}
	escalated := Escalate(c, 5, 5)
	if escalated.Transient {
		t.Fatal("expected escalation to permanent")
	}
	if escalated.UserMessage != "server error (exhausted retries)" {
		t.Fatalf("unexpected message %q", escalated.UserMessage)
	}
}

func TestEscalateLeavesBudgetedAttemptsAlone(t *testing.T) {
	c := Classification{Transient: true, UserMessage: "server error"}
	escalated := Escalate(c, 2, 5)
	if !escalated.Transient {
		t.Fatal("expected to remain transient before budget exhausted")
	}
}
