// Copyright 2025 James Ross
package publishphase

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/seo-batch/job-engine/internal/jobstore"
	"github.com/seo-batch/job-engine/internal/obs"
	"github.com/seo-batch/job-engine/internal/storeapi"
	"github.com/seo-batch/job-engine/internal/tenantlock"
)

// InterItemDelay is the cooperative pacing pause between items.
const InterItemDelay = 350 * time.Millisecond

// Runner executes the publish phase (C10) for one job. The producer that
// enqueued the publish message has already selected which items carry
// publishStatus=Queued versus Skipped.
type Runner struct {
	Store      *jobstore.Store
	StoreAPI   *storeapi.Client
	TenantLock *tenantlock.Locker
	Log        *zap.Logger

	LeaseTTL      time.Duration
	TenantLockTTL time.Duration
}

func (r *Runner) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

// Run executes the publish phase for job, assuming its lease is already
// held by owner.
func (r *Runner) Run(ctx context.Context, job jobstore.Job, owner string) error {
	log := r.logger()

	if err := r.Store.SetPhase(ctx, job.ID, jobstore.PhaseTransition{
		Phase: jobstore.PhasePublishing, Status: jobstore.StatusRunning, SetPublishStart: true,
	}); err != nil {
		return fmt.Errorf("publishphase: set phase running: %w", err)
	}

	items, err := r.Store.NextItems(ctx, job.ID, jobstore.PhasePublishing, math.MaxInt32)
	if err != nil {
		return fmt.Errorf("publishphase: next items: %w", err)
	}
	if len(items) == 0 {
		return r.Store.SetPhase(ctx, job.ID, jobstore.PhaseTransition{
			Phase: jobstore.PhasePublished, Status: jobstore.StatusSuccess, SetPublishFinish: true,
		})
	}

	for _, item := range items {
		cancelled, err := r.Store.IsCancelled(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("publishphase: is cancelled: %w", err)
		}
		if cancelled {
			log.Info("publish phase stopped, job cancelled", obs.JobID(job.ID))
			return nil
		}

		if err := r.Store.TouchLease(ctx, job.ID, owner, r.LeaseTTL); err != nil {
			return fmt.Errorf("publishphase: touch lease: %w", err)
		}
		if err := r.TenantLock.Refresh(ctx, job.Tenant, owner, r.TenantLockTTL); err != nil {
			return fmt.Errorf("publishphase: refresh tenant lock: %w", err)
		}

		if err := r.Store.MarkItemPublishRunning(ctx, item.ID); err != nil {
			return fmt.Errorf("publishphase: mark item publish running: %w", err)
		}

		r.publishItem(ctx, job, item)

		time.Sleep(InterItemDelay)
	}

	return r.Store.SetPhase(ctx, job.ID, jobstore.PhaseTransition{
		Phase: jobstore.PhasePublished, Status: jobstore.StatusSuccess, SetPublishFinish: true,
	})
}

func (r *Runner) publishItem(ctx context.Context, job jobstore.Job, item jobstore.Item) {
	log := r.logger()

	var attempts int
	var retryWaitMs int64
	onAttempt := func(attempt int) { attempts = attempt }
	onRetry := func(waitMs int64, reason string) {
		retryWaitMs += waitMs
		obs.StoreAPIRetries.Inc()
		log.Debug("storeapi retry", obs.ItemID(item.ID), obs.String("reason", reason))
	}
	onThrottle := func(waitMs int64, status storeapi.ThrottleStatus) {
		obs.StoreAPIThrottleWait.Observe(float64(waitMs) / 1000)
	}

	obs.CircuitBreakerState.WithLabelValues("storeapi").Set(float64(r.StoreAPI.BreakerState()))
	err := r.writeItem(ctx, job, item, onAttempt, onRetry, onThrottle)
	obs.CircuitBreakerState.WithLabelValues("storeapi").Set(float64(r.StoreAPI.BreakerState()))

	if err != nil {
		r.failItem(ctx, job, item, err.Error(), attempts, retryWaitMs)
		return
	}
	r.succeedItem(ctx, job, item, attempts, retryWaitMs)
}

func (r *Runner) writeItem(ctx context.Context, job jobstore.Job, item jobstore.Item,
	onAttempt func(int), onRetry func(int64, string), onThrottle storeapi.ThrottleFunc) error {

	switch item.TargetType {
	case jobstore.TargetProduct:
		fields := storeapi.WriteFields{
			WriteTitle: job.MetaTitle, Title: item.SeoTitle,
			WriteDescription: job.MetaDescription, Description: item.SeoDescription,
		}
		return r.StoreAPI.WriteProductSeo(ctx, item.TargetID, fields, onAttempt, onRetry, onThrottle)

	case jobstore.TargetArticle:
		fields := storeapi.WriteFields{
			WriteTitle: job.MetaTitle, Title: item.SeoTitle,
			WriteDescription: job.MetaDescription, Description: item.SeoDescription,
		}
		return r.StoreAPI.WriteArticleSeo(ctx, item.TargetID, fields, onAttempt, onRetry, onThrottle)

	case jobstore.TargetImage:
		mediaID := item.TargetID
		if item.MediaID != nil {
			mediaID = *item.MediaID
		}
		parentID := item.TargetID
		if item.ParentID != nil {
			parentID = *item.ParentID
		}
		return r.StoreAPI.WriteImageAlt(ctx, parentID, mediaID, item.SeoTitle, onAttempt, onRetry, onThrottle)

	default:
		return fmt.Errorf("publishphase: unknown target type %q", item.TargetType)
	}
}

func (r *Runner) succeedItem(ctx context.Context, job jobstore.Job, item jobstore.Item, attempts int, retryWaitMs int64) {
	if item.TargetType == jobstore.TargetImage {
		if err := r.Store.UpdateImageBaseline(ctx, item.ID, item.SeoTitle); err != nil {
			r.logger().Error("publishphase: update image baseline failed", obs.ItemID(item.ID), obs.Err(err))
		}
	}

	if err := r.Store.MarkItemPublishSuccess(ctx, item.ID, attempts, retryWaitMs); err != nil {
		r.logger().Error("publishphase: persist success failed", obs.ItemID(item.ID), obs.Err(err))
		return
	}
	if err := r.Store.IncrementCounters(ctx, job.ID, jobstore.CounterDeltas{PublishOKCount: 1, TotalAttempts: attempts, TotalRetryWaitMs: retryWaitMs}); err != nil {
		r.logger().Error("publishphase: increment counters failed", obs.ItemID(item.ID), obs.Err(err))
	}
	obs.ItemsPublished.Inc()
}

func (r *Runner) failItem(ctx context.Context, job jobstore.Job, item jobstore.Item, reason string, attempts int, retryWaitMs int64) {
	reason = truncateReason(reason)
	if err := r.Store.MarkItemPublishFailed(ctx, item.ID, reason, attempts, retryWaitMs); err != nil {
		r.logger().Error("publishphase: persist failure failed", obs.ItemID(item.ID), obs.Err(err))
		return
	}
	if err := r.Store.IncrementCounters(ctx, job.ID, jobstore.CounterDeltas{PublishFailedCount: 1, TotalAttempts: attempts, TotalRetryWaitMs: retryWaitMs}); err != nil {
		r.logger().Error("publishphase: increment counters failed", obs.ItemID(item.ID), obs.Err(err))
	}
	if err := r.Store.SetLastError(ctx, job.ID, reason); err != nil {
		r.logger().Error("publishphase: set last error failed", obs.JobID(job.ID), obs.Err(err))
	}
	obs.ItemsPublishFailed.Inc()
}

// maxErrorLen is the item-level error truncation length (spec §7: ≤900 chars).
const maxErrorLen = 900

func truncateReason(reason string) string {
	if len(reason) <= maxErrorLen {
		return reason
	}
	return reason[:maxErrorLen]
}
