//go:build integration

// Copyright 2025 James Ross
package recovery

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/seo-batch/job-engine/internal/jobstore"
)

const migrationsDir = "../jobstore/migrations"

func setupStore(t *testing.T) (*jobstore.Store, func()) {
	t.Helper()
	dsn := os.Getenv("JOB_ENGINE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("JOB_ENGINE_TEST_DATABASE_URL not set, skipping recovery integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	require.NoError(t, goose.SetDialect("postgres"))
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, goose.Up(db, migrationsDir))

	cleanup := func() {
		_, _ = pool.Exec(ctx, "TRUNCATE TABLE job_items, jobs, usage_monthly CASCADE")
		pool.Close()
		_ = db.Close()
	}
	return jobstore.New(pool, zaptest.NewLogger(t)), cleanup
}

func TestTickRecoversStaleJob(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	spec := jobstore.JobSpec{ID: "job-stuck", Tenant: "acme", JobType: jobstore.JobTypeProductSeo}
	items := []jobstore.ItemSpec{{ID: "item-1", TargetType: jobstore.TargetProduct, TargetID: "gid://store/Product/1"}}
	require.NoError(t, store.CreateJob(ctx, spec, items))
	require.NoError(t, store.SetPhase(ctx, "job-stuck", jobstore.PhaseTransition{Phase: jobstore.PhaseGenerating, Status: jobstore.StatusRunning, SetStartedAt: true}))
	_, err := store.AcquireLease(ctx, "job-stuck", "worker-a", time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, store.MarkItemRunning(ctx, "item-1"))
	time.Sleep(5 * time.Millisecond)

	loop := &Loop{Store: store, StaleAfter: time.Millisecond}
	loop.tick(ctx, time.Millisecond)

	job, err := store.GetJob(ctx, "job-stuck")
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusFailed, job.Status)
	require.Nil(t, job.LockOwner)
	require.Equal(t, recoveredReason, job.LastError)
}
