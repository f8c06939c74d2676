// Copyright 2025 James Ross
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Code enumerates the Reserve outcome codes spec §4.8 defines.
type Code string

const (
	CodeOK             Code = "OK"
	CodeLimitExceeded  Code = "LimitExceeded"
)

// Result is the outcome of one Reserve call.
type Result struct {
	OK        bool
	Code      Code
	Used      int
	Remaining int
}

// Counter reserves free-tier usage against a tenant's monthly cap in a
// Postgres SERIALIZABLE transaction, matching the pack's
// coordinator-retries-on-conflict idiom for contended counters.
type Counter struct {
	pool *pgxpool.Pool
	log  *zap.Logger
	loc  *time.Location
}

// New builds a Counter. tz is the fixed timezone month keys are computed
// in (spec's FreeTimeZone); it falls back to UTC if it fails to load.
func New(pool *pgxpool.Pool, log *zap.Logger, tz string) *Counter {
	if log == nil {
		log = zap.NewNop()
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return &Counter{pool: pool, log: log, loc: loc}
}

// MonthKey returns the stable YYYY-MM key for t in the counter's fixed
// timezone.
func (c *Counter) MonthKey(t time.Time) string {
	return t.In(c.loc).Format("2006-01")
}

// Reserve implements spec §4.8: upsert the (tenant, monthKey) row, read
// used, reject if used+n exceeds L, otherwise debit n and return the new
// totals. Makes up to 3 attempts, retrying on a serialization conflict
// (40001/40P01) and sleeping 50·attempt ms between tries.
func (c *Counter) Reserve(ctx context.Context, tenant string, n, limit int) (Result, error) {
	monthKey := c.MonthKey(time.Now())

	var result Result
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		result, err = c.reserveOnce(ctx, tenant, monthKey, n, limit)
		if err == nil {
			return result, nil
		}
		if !isSerializationConflict(err) {
			return Result{}, err
		}
		if attempt == 3 {
			break
		}
		select {
		case <-time.After(time.Duration(50*attempt) * time.Millisecond):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return Result{}, fmt.Errorf("usage: reserve %s after retries: %w", tenant, err)
}

func (c *Counter) reserveOnce(ctx context.Context, tenant, monthKey string, n, limit int) (Result, error) {
	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return Result{}, fmt.Errorf("usage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO usage_monthly (tenant, month_key, used) VALUES ($1, $2, 0)
		ON CONFLICT (tenant, month_key) DO NOTHING
	`, tenant, monthKey)
	if err != nil {
		return Result{}, fmt.Errorf("usage: upsert row: %w", err)
	}

	var used int
	if err := tx.QueryRow(ctx, `
		SELECT used FROM usage_monthly WHERE tenant = $1 AND month_key = $2 FOR UPDATE
	`, tenant, monthKey).Scan(&used); err != nil {
		return Result{}, fmt.Errorf("usage: read used: %w", err)
	}

	if used+n > limit {
		if err := tx.Commit(ctx); err != nil {
			return Result{}, fmt.Errorf("usage: commit reject tx: %w", err)
		}
		return Result{OK: false, Code: CodeLimitExceeded, Used: used, Remaining: limit - used}, nil
	}

	newUsed := used + n
	if _, err := tx.Exec(ctx, `
		UPDATE usage_monthly SET used = $3 WHERE tenant = $1 AND month_key = $2
	`, tenant, monthKey, newUsed); err != nil {
		return Result{}, fmt.Errorf("usage: debit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("usage: commit reserve tx: %w", err)
	}

	c.log.Debug("usage reserved", zap.String("tenant", tenant), zap.String("month_key", monthKey), zap.Int("n", n), zap.Int("used", newUsed))
	return Result{OK: true, Code: CodeOK, Used: newUsed, Remaining: limit - newUsed}, nil
}

func isSerializationConflict(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		state := pgErr.SQLState()
		return state == "40001" || state == "40P01"
	}
	return false
}
