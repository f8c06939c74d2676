// Copyright 2025 James Ross
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seo-batch/job-engine/internal/broker"
	"github.com/seo-batch/job-engine/internal/generatephase"
	"github.com/seo-batch/job-engine/internal/jobstore"
	"github.com/seo-batch/job-engine/internal/obs"
	"github.com/seo-batch/job-engine/internal/publishphase"
	"github.com/seo-batch/job-engine/internal/tenantlock"
	"github.com/seo-batch/job-engine/internal/usage"
)

// usageRejectedReason is stamped on a job/items rejected by the free-tier
// monthly cap before any generation work runs.
const usageRejectedReason = "Monthly free-tier item limit reached"

// Dispatcher is the broker.Handler that turns one {jobId,kind} delivery
// into a run of the generate or publish phase, per spec §4.12: acquire the
// tenant lock, acquire the job's lease, self-heal its item total, reserve
// usage on first entry into generation, then hand off to the matching
// phase runner.
type Dispatcher struct {
	Store       *jobstore.Store
	TenantLock  *tenantlock.Locker
	Usage       *usage.Counter
	Generate    *generatephase.Runner
	Publish     *publishphase.Runner
	Log         *zap.Logger

	LeaseTTL        time.Duration
	TenantLockTTL   time.Duration
	LockRetryDelay  time.Duration
	FreeMonthlyLimit int
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

// Handle implements broker.Handler.
func (d *Dispatcher) Handle(ctx context.Context, msg broker.Message) error {
	if msg.JobID == "" || msg.Kind == "" {
		d.logger().Warn("dispatcher: dropping malformed message", obs.String("external_id", msg.ExternalID))
		return nil
	}

	job, err := d.Store.GetJob(ctx, msg.JobID)
	if errors.Is(err, jobstore.ErrJobNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dispatcher: get job: %w", err)
	}

	owner := uuid.NewString()

	lockTTL := d.TenantLockTTL
	if lockTTL <= 0 {
		lockTTL = tenantlock.DefaultTTL
	}
	acquired, err := d.TenantLock.Acquire(ctx, job.Tenant, owner, lockTTL)
	if err != nil {
		return fmt.Errorf("dispatcher: acquire tenant lock: %w", err)
	}
	if !acquired {
		obs.TenantLockBusy.Inc()
		retryDelay := d.LockRetryDelay
		if retryDelay <= 0 {
			retryDelay = 10 * time.Second
		}
		return &broker.DelayError{After: retryDelay}
	}
	defer func() {
		if err := d.TenantLock.Release(ctx, job.Tenant, owner); err != nil && !errors.Is(err, tenantlock.ErrNotHeld) {
			d.logger().Warn("dispatcher: release tenant lock failed", obs.Tenant(job.Tenant), obs.Err(err))
		}
	}()

	leaseTTL := d.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = 5 * time.Minute
	}
	leased, err := d.Store.AcquireLease(ctx, job.ID, owner, leaseTTL)
	if err != nil {
		return fmt.Errorf("dispatcher: acquire lease: %w", err)
	}
	if !leased {
		// Another worker already holds this job's lease; our tenant-lock
		// acquisition raced it and loses nothing by backing off silently.
		return nil
	}
	defer func() {
		if err := d.Store.ReleaseLease(ctx, job.ID, owner); err != nil && !errors.Is(err, jobstore.ErrOwnershipLost) {
			d.logger().Warn("dispatcher: release lease failed", obs.JobID(job.ID), obs.Err(err))
		}
	}()

	cancelled, err := d.Store.IsCancelled(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("dispatcher: is cancelled: %w", err)
	}
	if cancelled {
		return nil
	}

	if err := d.Store.RefreshTotal(ctx, job.ID); err != nil {
		return fmt.Errorf("dispatcher: refresh total: %w", err)
	}

	if job.Phase == jobstore.PhaseGenerating && !job.UsageReserved {
		limit := d.FreeMonthlyLimit
		result, err := d.Usage.Reserve(ctx, job.Tenant, job.Total, limit)
		if err != nil {
			return fmt.Errorf("dispatcher: reserve usage: %w", err)
		}
		if !result.OK {
			obs.UsageLimitRejected.Inc()
			d.logger().Warn("dispatcher: usage limit exceeded, failing job",
				obs.JobID(job.ID), obs.Tenant(job.Tenant))
			if err := d.Store.RejectForUsage(ctx, job.ID, usageRejectedReason); err != nil {
				return fmt.Errorf("dispatcher: reject for usage: %w", err)
			}
			return nil
		}
		if err := d.Store.MarkUsageReserved(ctx, job.ID, job.Total); err != nil {
			return fmt.Errorf("dispatcher: mark usage reserved: %w", err)
		}
		job.UsageReserved = true
	}

	switch job.Phase {
	case jobstore.PhaseGenerating:
		return d.Generate.Run(ctx, job, owner)
	case jobstore.PhasePublishing:
		return d.Publish.Run(ctx, job, owner)
	default:
		d.logger().Warn("dispatcher: job not in a dispatchable phase",
			obs.JobID(job.ID), obs.Phase(string(job.Phase)))
		return nil
	}
}
