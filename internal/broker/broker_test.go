// Copyright 2025 James Ross
package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

func newTestBroker(t *testing.T, policy Policy) (*Broker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, zaptest.NewLogger(t), "test", policy), mr
}

func TestEnqueueIsIdempotent(t *testing.T) {
	b, _ := newTestBroker(t, DefaultPolicy)
	ctx := context.Background()

	if err := b.Enqueue(ctx, "job-1", KindGenerate); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := b.Enqueue(ctx, "job-1", KindGenerate); err != nil {
		t.Fatalf("repeat enqueue should be a no-op, got error: %v", err)
	}

	n, err := b.client.LLen(ctx, b.readyKey()).Result()
	if err != nil {
		t.Fatalf("llen: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one ready entry after repeat enqueue, got %d", n)
	}
}

func TestConsumeSuccessRemovesMessage(t *testing.T) {
	b, _ := newTestBroker(t, DefaultPolicy)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := b.Enqueue(ctx, "job-2", KindPublish); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var handled int32
	go func() {
		b.Consume(ctx, "consumer-1", 10*time.Millisecond, func(ctx context.Context, msg Message) error {
			atomic.AddInt32(&handled, 1)
			cancel()
			return nil
		})
	}()

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&handled) == 0 {
		select {
		case <-deadline:
			t.Fatal("handler was never invoked")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	externalID := ExternalID("job-2", KindPublish)
	exists, err := b.client.HExists(context.Background(), b.payloadKey(), externalID).Result()
	if err != nil {
		t.Fatalf("hexists: %v", err)
	}
	if exists {
		t.Fatal("expected payload to be removed after successful handling")
	}
}

func TestFailedMessageReschedulesThenExhausts(t *testing.T) {
	b, mr := newTestBroker(t, Policy{Attempts: 2, BaseBackoff: time.Millisecond})
	ctx := context.Background()

	if err := b.Enqueue(ctx, "job-3", KindGenerate); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	externalID, err := b.client.BRPopLPush(ctx, b.readyKey(), b.processingKey("c1"), 0).Result()
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if externalID != ExternalID("job-3", KindGenerate) {
		t.Fatalf("unexpected external id %q", externalID)
	}

	b.handleOne(ctx, "c1", externalID, func(ctx context.Context, msg Message) error {
		return errors.New("boom")
	})

	score, err := b.client.ZScore(ctx, b.delayedKey(), externalID).Result()
	if err != nil {
		t.Fatalf("expected message in delayed set after first failure: %v", err)
	}
	if score <= 0 {
		t.Fatalf("unexpected score %f", score)
	}

	mr.FastForward(time.Second)
	// promoteOnce compares scores against the wall clock, not miniredis's
	// clock, so wait out the 1ms backoff for real.
	time.Sleep(10 * time.Millisecond)
	b.promoteOnce(ctx)

	externalID, err = b.client.BRPopLPush(ctx, b.readyKey(), b.processingKey("c1"), 0).Result()
	if err != nil {
		t.Fatalf("pop after promote: %v", err)
	}

	b.handleOne(ctx, "c1", externalID, func(ctx context.Context, msg Message) error {
		if msg.Attempt != 1 {
			t.Fatalf("expected attempt 1 on second try, got %d", msg.Attempt)
		}
		return errors.New("boom again")
	})

	exists, err := b.client.HExists(ctx, b.payloadKey(), externalID).Result()
	if err != nil {
		t.Fatalf("hexists: %v", err)
	}
	if exists {
		t.Fatal("expected payload removed once attempts budget is exhausted")
	}
}

func TestRequeueAbandonedMovesMessagesBack(t *testing.T) {
	b, _ := newTestBroker(t, DefaultPolicy)
	ctx := context.Background()

	if err := b.Enqueue(ctx, "job-4", KindGenerate); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	externalID, err := b.client.BRPopLPush(ctx, b.readyKey(), b.processingKey("dead-consumer"), 0).Result()
	if err != nil {
		t.Fatalf("pop: %v", err)
	}

	n, err := b.RequeueAbandoned(ctx, "dead-consumer")
	if err != nil {
		t.Fatalf("requeue abandoned: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 requeued message, got %d", n)
	}

	head, err := b.client.LRange(ctx, b.readyKey(), 0, -1).Result()
	if err != nil {
		t.Fatalf("lrange: %v", err)
	}
	if len(head) != 1 || head[0] != externalID {
		t.Fatalf("expected requeued message back on ready list, got %v", head)
	}
}
