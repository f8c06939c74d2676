// Copyright 2025 James Ross
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Policy controls the attempts/backoff applied to a message that a
// handler reports as failed.
type Policy struct {
	Attempts    int
	BaseBackoff time.Duration
}

// DefaultPolicy matches spec §4.5: three attempts, exponential backoff
// starting at two seconds.
var DefaultPolicy = Policy{Attempts: 3, BaseBackoff: 2 * time.Second}

// Broker is an at-least-once Redis work queue: a ready list, a
// per-consumer processing list (BRPOPLPUSH handoff, reaped on timeout by
// the caller's own stuck-message scan), and a delayed sorted set for
// backoff/lock-busy re-delivery.
type Broker struct {
	client    *redis.Client
	log       *zap.Logger
	namespace string
	policy    Policy
}

func New(client *redis.Client, log *zap.Logger, namespace string, policy Policy) *Broker {
	if namespace == "" {
		namespace = "jobqueue:dispatch"
	}
	if policy.Attempts <= 0 {
		policy = DefaultPolicy
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{client: client, log: log, namespace: namespace, policy: policy}
}

func (b *Broker) readyKey() string          { return b.namespace + ":ready" }
func (b *Broker) delayedKey() string        { return b.namespace + ":delayed" }
func (b *Broker) payloadKey() string        { return b.namespace + ":payload" }
func (b *Broker) activeKey(id string) string { return b.namespace + ":active:" + id }
func (b *Broker) processingKey(consumerID string) string {
	return fmt.Sprintf("%s:worker:%s:processing", b.namespace, consumerID)
}
func (b *Broker) heartbeatKey(consumerID string) string {
	return fmt.Sprintf("%s:worker:%s:heartbeat", b.namespace, consumerID)
}

// Enqueue adds a {jobId, kind} message under its deterministic external
// id. A repeat enqueue of an already-active message (still in ready,
// processing, or delayed) is a silent no-op.
func (b *Broker) Enqueue(ctx context.Context, jobID string, kind Kind) error {
	externalID := ExternalID(jobID, kind)

	set, err := b.client.SetNX(ctx, b.activeKey(externalID), 1, 24*time.Hour).Result()
	if err != nil {
		return fmt.Errorf("broker: enqueue active-check: %w", err)
	}
	if !set {
		b.log.Debug("enqueue no-op, already active", zap.String("external_id", externalID))
		return nil
	}

	msg := Message{JobID: jobID, Kind: kind, ExternalID: externalID, Attempt: 0}
	payload, err := msg.marshal()
	if err != nil {
		_ = b.client.Del(ctx, b.activeKey(externalID)).Err()
		return fmt.Errorf("broker: marshal message: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.payloadKey(), externalID, payload)
	pipe.LPush(ctx, b.readyKey(), externalID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("broker: enqueue %s: %w", externalID, err)
	}
	return nil
}

// Remove best-effort removes a message; silent if it has already moved to
// active processing or completed.
func (b *Broker) Remove(ctx context.Context, jobID string, kind Kind) error {
	externalID := ExternalID(jobID, kind)
	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, b.readyKey(), 0, externalID)
	pipe.ZRem(ctx, b.delayedKey(), externalID)
	pipe.HDel(ctx, b.payloadKey(), externalID)
	pipe.Del(ctx, b.activeKey(externalID))
	_, err := pipe.Exec(ctx)
	return err
}

// Handler processes one message; a returned error is treated as a
// transient failure eligible for the policy's backoff/attempts budget.
type Handler func(ctx context.Context, msg Message) error

// DelayError is returned by a Handler to request redelivery after After
// without consuming an attempt, used when a resource the handler needs
// (the per-tenant lock) is temporarily held elsewhere.
type DelayError struct {
	After time.Duration
}

func (e *DelayError) Error() string {
	return fmt.Sprintf("broker: delay redelivery %s", e.After)
}

// Consume runs a single consumer loop: BRPOPLPUSH from ready into this
// consumer's processing list, heartbeat alongside it, invoke handler,
// then remove-on-complete or reschedule/remove-on-fail.
func (b *Broker) Consume(ctx context.Context, consumerID string, popTimeout time.Duration, handler Handler) error {
	processing := b.processingKey(consumerID)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		externalID, err := b.client.BRPopLPush(ctx, b.readyKey(), processing, popTimeout).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn("brpoplpush error", zap.Error(err))
			continue
		}

		if err := b.client.Set(ctx, b.heartbeatKey(consumerID), time.Now().Unix(), popTimeout*2).Err(); err != nil {
			b.log.Warn("heartbeat set failed", zap.Error(err))
		}

		b.handleOne(ctx, consumerID, externalID, handler)
	}
}

func (b *Broker) handleOne(ctx context.Context, consumerID, externalID string, handler Handler) {
	raw, err := b.client.HGet(ctx, b.payloadKey(), externalID).Result()
	if err != nil {
		b.log.Warn("payload missing for dequeued message", zap.String("external_id", externalID), zap.Error(err))
		b.client.LRem(ctx, b.processingKey(consumerID), 0, externalID)
		return
	}
	msg, err := unmarshalMessage(raw)
	if err != nil {
		b.log.Warn("payload unmarshal failed", zap.String("external_id", externalID), zap.Error(err))
		b.client.LRem(ctx, b.processingKey(consumerID), 0, externalID)
		return
	}

	handlerErr := handler(ctx, msg)

	var delayErr *DelayError
	if errors.As(handlerErr, &delayErr) {
		untilUnixMs := time.Now().Add(delayErr.After).UnixMilli()
		if err := b.Delay(ctx, consumerID, msg.JobID, msg.Kind, untilUnixMs); err != nil {
			b.log.Error("delay redelivery failed", zap.String("external_id", externalID), zap.Error(err))
		}
		return
	}

	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, b.processingKey(consumerID), 0, externalID)

	if handlerErr == nil {
		pipe.HDel(ctx, b.payloadKey(), externalID)
		pipe.Del(ctx, b.activeKey(externalID))
		if _, err := pipe.Exec(ctx); err != nil {
			b.log.Error("remove-on-complete failed", zap.String("external_id", externalID), zap.Error(err))
		}
		return
	}

	msg.Attempt++
	if msg.Attempt >= b.policy.Attempts {
		pipe.HDel(ctx, b.payloadKey(), externalID)
		pipe.Del(ctx, b.activeKey(externalID))
		if _, err := pipe.Exec(ctx); err != nil {
			b.log.Error("remove-on-fail failed", zap.String("external_id", externalID), zap.Error(err))
		}
		b.log.Warn("message exhausted attempts", zap.String("external_id", externalID), zap.Error(handlerErr))
		return
	}

	delay := b.policy.BaseBackoff * time.Duration(1<<uint(msg.Attempt-1))
	dueAt := time.Now().Add(delay).UnixMilli()
	payload, _ := msg.marshal()
	pipe.HSet(ctx, b.payloadKey(), externalID, payload)
	pipe.ZAdd(ctx, b.delayedKey(), redis.Z{Score: float64(dueAt), Member: externalID})
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Error("reschedule failed", zap.String("external_id", externalID), zap.Error(err))
	}
}

// Delay bounces an in-flight message back to the delayed set until
// untilUnixMs without touching its attempt count, used when the tenant
// lock is busy (spec §4.12).
func (b *Broker) Delay(ctx context.Context, consumerID, jobID string, kind Kind, untilUnixMs int64) error {
	externalID := ExternalID(jobID, kind)
	pipe := b.client.TxPipeline()
	pipe.LRem(ctx, b.processingKey(consumerID), 0, externalID)
	pipe.ZAdd(ctx, b.delayedKey(), redis.Z{Score: float64(untilUnixMs), Member: externalID})
	_, err := pipe.Exec(ctx)
	return err
}

// Promote runs in the background, moving due delayed messages back onto
// the ready list. Mirrors the teacher's ticker-driven background loops
// (queue-length updater, reaper).
func (b *Broker) Promote(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.promoteOnce(ctx)
		}
	}
}

func (b *Broker) promoteOnce(ctx context.Context) {
	now := float64(time.Now().UnixMilli())
	due, err := b.client.ZRangeByScore(ctx, b.delayedKey(), &redis.ZRangeBy{Min: "0", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		b.log.Warn("promote scan failed", zap.Error(err))
		return
	}
	for _, externalID := range due {
		pipe := b.client.TxPipeline()
		pipe.ZRem(ctx, b.delayedKey(), externalID)
		pipe.LPush(ctx, b.readyKey(), externalID)
		if _, err := pipe.Exec(ctx); err != nil {
			b.log.Warn("promote move failed", zap.String("external_id", externalID), zap.Error(err))
		}
	}
}

// Lengths reports the current size of the ready list and delayed set, for
// the background queue-length gauge.
func (b *Broker) Lengths(ctx context.Context) (ready int64, delayed int64, err error) {
	ready, err = b.client.LLen(ctx, b.readyKey()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("broker: ready length: %w", err)
	}
	delayed, err = b.client.ZCard(ctx, b.delayedKey()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("broker: delayed length: %w", err)
	}
	return ready, delayed, nil
}

// ProcessingHeartbeatStale reports whether a consumer's heartbeat key is
// missing, which marks its processing list as abandoned. The recovery
// loop does not call it.
func (b *Broker) ProcessingHeartbeatStale(ctx context.Context, consumerID string) (bool, error) {
	exists, err := b.client.Exists(ctx, b.heartbeatKey(consumerID)).Result()
	if err != nil {
		return false, err
	}
	return exists == 0, nil
}

// RequeueAbandoned drains a dead consumer's processing list back onto the
// ready list, the broker-level counterpart to the teacher's reaper.
func (b *Broker) RequeueAbandoned(ctx context.Context, consumerID string) (int, error) {
	key := b.processingKey(consumerID)
	n := 0
	for {
		externalID, err := b.client.RPop(ctx, key).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return n, err
		}
		if err := b.client.LPush(ctx, b.readyKey(), externalID).Err(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
