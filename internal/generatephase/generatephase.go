// Copyright 2025 James Ross
package generatephase

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/seo-batch/job-engine/internal/generator"
	"github.com/seo-batch/job-engine/internal/jobstore"
	"github.com/seo-batch/job-engine/internal/obs"
	"github.com/seo-batch/job-engine/internal/storeapi"
	"github.com/seo-batch/job-engine/internal/tenantlock"
)

// InterItemDelay is the cooperative pacing pause between items, applied
// regardless of whether the prior item succeeded or failed.
const InterItemDelay = 450 * time.Millisecond

// Runner executes the generate phase (C9) for one job.
type Runner struct {
	Store      *jobstore.Store
	Generator  *generator.Client
	StoreAPI   *storeapi.Client
	TenantLock *tenantlock.Locker
	Log        *zap.Logger

	LeaseTTL      time.Duration
	TenantLockTTL time.Duration
}

// Run executes the generate phase for job, assuming its lease is already
// held by owner. Returns nil on both full completion and early
// cancellation; only infrastructure errors are returned.
func (r *Runner) Run(ctx context.Context, job jobstore.Job, owner string) error {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}

	if err := r.Store.SetPhase(ctx, job.ID, jobstore.PhaseTransition{
		Phase: jobstore.PhaseGenerating, Status: jobstore.StatusRunning, SetStartedAt: true,
	}); err != nil {
		return fmt.Errorf("generatephase: set phase running: %w", err)
	}

	items, err := r.Store.NextItems(ctx, job.ID, jobstore.PhaseGenerating, math.MaxInt32)
	if err != nil {
		return fmt.Errorf("generatephase: next items: %w", err)
	}

	for _, item := range items {
		cancelled, err := r.Store.IsCancelled(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("generatephase: is cancelled: %w", err)
		}
		if cancelled {
			log.Info("generate phase stopped, job cancelled", obs.JobID(job.ID))
			return nil
		}

		if err := r.Store.TouchLease(ctx, job.ID, owner, r.LeaseTTL); err != nil {
			return fmt.Errorf("generatephase: touch lease: %w", err)
		}
		if err := r.TenantLock.Refresh(ctx, job.Tenant, owner, r.TenantLockTTL); err != nil {
			return fmt.Errorf("generatephase: refresh tenant lock: %w", err)
		}

		if err := r.Store.MarkItemRunning(ctx, item.ID); err != nil {
			return fmt.Errorf("generatephase: mark item running: %w", err)
		}

		r.runItem(ctx, job, item)

		time.Sleep(InterItemDelay)
	}

	return r.Store.SetPhase(ctx, job.ID, jobstore.PhaseTransition{
		Phase: jobstore.PhaseGenerated, Status: jobstore.StatusSuccess, SetFinishedAt: true,
	})
}

func (r *Runner) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

// runItem loads the target, invokes the generator, and persists the
// outcome. Infrastructure errors while persisting are logged, not
// propagated — a stuck item should not wedge the whole phase.
func (r *Runner) runItem(ctx context.Context, job jobstore.Job, item jobstore.Item) {
	log := r.logger()

	payload, prompt, err := r.loadTarget(ctx, item)
	if err != nil {
		r.failItem(ctx, job, item, fmt.Sprintf("load target: %v", err), 0, 0)
		return
	}

	var attempts int
	var retryWaitMs int64
	onAttempt := func(attempt int) { attempts = attempt }
	onRetry := func(waitMs int64, reason string) {
		retryWaitMs += waitMs
		obs.GeneratorRetries.Inc()
		log.Debug("generator retry", obs.ItemID(item.ID), obs.String("reason", reason))
	}

	req := generator.Request{
		JobType: job.JobType,
		Lang:    job.Language,
		Hints:   hintsFromJob(job),
		Payload: payload,
		Prompt:  prompt,
	}

	obs.CircuitBreakerState.WithLabelValues("generator").Set(float64(r.Generator.BreakerState()))
	result, genErr := r.Generator.Generate(ctx, req, onAttempt, onRetry)
	obs.CircuitBreakerState.WithLabelValues("generator").Set(float64(r.Generator.BreakerState()))

	if genErr != nil {
		r.failItem(ctx, job, item, genErr.Error(), attempts, retryWaitMs)
		return
	}

	r.succeedItem(ctx, job, item, result, attempts, retryWaitMs)
}

func (r *Runner) succeedItem(ctx context.Context, job jobstore.Job, item jobstore.Item, result generator.Result, attempts int, retryWaitMs int64) {
	title, description := result.SeoTitle, result.SeoDescription
	if item.TargetType == jobstore.TargetImage {
		title, description = result.AltText, item.SeoDescription
	}

	if err := r.Store.MarkItemSuccess(ctx, item.ID, title, description, attempts, retryWaitMs); err != nil {
		r.logger().Error("generatephase: persist success failed", obs.ItemID(item.ID), obs.Err(err))
		return
	}
	if err := r.Store.IncrementCounters(ctx, job.ID, jobstore.CounterDeltas{OKCount: 1, TotalAttempts: attempts, TotalRetryWaitMs: retryWaitMs}); err != nil {
		r.logger().Error("generatephase: increment counters failed", obs.ItemID(item.ID), obs.Err(err))
	}
	obs.ItemsGenerated.Inc()
}

func (r *Runner) failItem(ctx context.Context, job jobstore.Job, item jobstore.Item, reason string, attempts int, retryWaitMs int64) {
	reason = truncateReason(reason)
	if err := r.Store.MarkItemFailed(ctx, item.ID, reason, attempts, retryWaitMs); err != nil {
		r.logger().Error("generatephase: persist failure failed", obs.ItemID(item.ID), obs.Err(err))
		return
	}
	if err := r.Store.IncrementCounters(ctx, job.ID, jobstore.CounterDeltas{FailedCount: 1, TotalAttempts: attempts, TotalRetryWaitMs: retryWaitMs}); err != nil {
		r.logger().Error("generatephase: increment counters failed", obs.ItemID(item.ID), obs.Err(err))
	}
	if err := r.Store.SetLastError(ctx, job.ID, reason); err != nil {
		r.logger().Error("generatephase: set last error failed", obs.JobID(job.ID), obs.Err(err))
	}
	obs.ItemsGenerateFailed.Inc()
}

// loadTarget fetches the live product/article context, or builds an
// image's payload straight from the item (its URL/title were captured at
// job-creation time; regenerating alt text needs no further store read).
func (r *Runner) loadTarget(ctx context.Context, item jobstore.Item) (generator.Payload, string, error) {
	switch item.TargetType {
	case jobstore.TargetProduct:
		product, err := r.StoreAPI.FetchProduct(ctx, item.TargetID, nil, nil, nil)
		if err != nil {
			return nil, "", err
		}
		return generator.Payload{
				"title":       product.Title,
				"description": product.Description,
			},
			fmt.Sprintf("Write SEO title and description for product %q.", product.Title), nil

	case jobstore.TargetArticle:
		article, err := r.StoreAPI.FetchArticle(ctx, item.TargetID, nil, nil, nil)
		if err != nil {
			return nil, "", err
		}
		return generator.Payload{
				"title": article.Title,
				"body":  article.Body,
			},
			fmt.Sprintf("Write SEO title and description for article %q.", article.Title), nil

	case jobstore.TargetImage:
		url := ""
		if item.ImageURL != nil {
			url = *item.ImageURL
		}
		return generator.Payload{
				"imageUrl":   url,
				"caption":    item.Title,
				"currentAlt": item.SeoDescription,
			},
			fmt.Sprintf("Write descriptive alt text for the image at %q.", url), nil

	default:
		return nil, "", fmt.Errorf("unknown target type %q", item.TargetType)
	}
}

func hintsFromJob(job jobstore.Job) generator.Hints {
	get := func(key string) string {
		v, _ := job.GenerationHints[key].(string)
		return v
	}
	getList := func(key string) []string {
		raw, _ := job.GenerationHints[key].([]any)
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return generator.NewHints(generator.Hints{
		BrandName:        get("brandName"),
		Tone:             get("tone"),
		BrandVoice:       get("brandVoice"),
		TargetKeyword:    get("targetKeyword"),
		RequiredKeywords: getList("requiredKeywords"),
		BannedWords:      getList("bannedWords"),
		Capitalization:   get("capitalization"),
		EmojiPolicy:      get("emojiPolicy"),
	})
}

// maxErrorLen is the item-level error truncation length (spec §7: ≤900 chars).
const maxErrorLen = 900

func truncateReason(reason string) string {
	if len(reason) <= maxErrorLen {
		return reason
	}
	return reason[:maxErrorLen]
}
