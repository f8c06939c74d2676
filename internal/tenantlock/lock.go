// Copyright 2025 James Ross
package tenantlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Refresh/Release when the caller's owner token
// no longer matches what's stored (expired, or stolen after expiry).
var ErrNotHeld = errors.New("tenantlock: owner does not hold this lock")

// DefaultTTL is the per-tenant lock lifetime when the caller doesn't
// specify one. It must stay comfortably above the longest expected pause
// between dispatcher heartbeats.
const DefaultTTL = 15 * time.Minute

// Locker serializes work per tenant: at most one owner holds tenant's key
// at a time. Acquire/Refresh/Release are all single round-trips (Acquire
// is a SET NX PX; Refresh/Release are Lua CAS scripts comparing the
// stored value against the caller's token before mutating).
type Locker struct {
	client    *redis.Client
	namespace string
}

// New wraps an already-configured go-redis client.
func New(client *redis.Client, namespace string) *Locker {
	if namespace == "" {
		namespace = "tenantlock"
	}
	return &Locker{client: client, namespace: namespace}
}

func (l *Locker) keyName(tenant string) string {
	return fmt.Sprintf("%s:%s", l.namespace, tenant)
}

// Acquire sets the tenant's key to owner with NX+PX semantics: it
// succeeds only if no one currently holds the lock.
func (l *Locker) Acquire(ctx context.Context, tenant, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ok, err := l.client.SetNX(ctx, l.keyName(tenant), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("tenantlock: acquire %s: %w", tenant, err)
	}
	return ok, nil
}

var refreshScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Refresh extends the tenant's lock TTL only when owner still matches the
// value stored in Redis.
func (l *Locker) Refresh(ctx context.Context, tenant, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	res, err := refreshScript.Run(ctx, l.client, []string{l.keyName(tenant)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("tenantlock: refresh %s: %w", tenant, err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	else
		return 0
	end
`)

// Release deletes the tenant's lock key only when owner still matches.
// Releasing a lock you've already lost deletes nothing and returns
// ErrNotHeld.
func (l *Locker) Release(ctx context.Context, tenant, owner string) error {
	res, err := releaseScript.Run(ctx, l.client, []string{l.keyName(tenant)}, owner).Int()
	if err != nil {
		return fmt.Errorf("tenantlock: release %s: %w", tenant, err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

// Owner returns the current owner of the tenant's lock, or "" if unheld.
func (l *Locker) Owner(ctx context.Context, tenant string) (string, error) {
	owner, err := l.client.Get(ctx, l.keyName(tenant)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("tenantlock: owner %s: %w", tenant, err)
	}
	return owner, nil
}
