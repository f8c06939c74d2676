// Copyright 2025 James Ross
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/seo-batch/job-engine/internal/callguard"
	"github.com/seo-batch/job-engine/internal/classify"
	"github.com/seo-batch/job-engine/internal/clock"
	"github.com/seo-batch/job-engine/internal/jobstore"
)

// ErrGuardUnhealthy is returned when the call guard refuses a call without
// attempting it.
var ErrGuardUnhealthy = errors.New("generator: call guard unhealthy")

// PermanentError wraps a classification that the retry loop gave up on.
type PermanentError struct {
	Classification classify.Classification
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("generator: %s", e.Classification.UserMessage)
}

// Config controls transport and retry behavior.
type Config struct {
	BaseURL     string
	APIKey      string
	MaxAttempts int
	BaseBackoff time.Duration
	Timeout     time.Duration
	Limits      Limits

	BreakerWindow        time.Duration
	BreakerCooldown      time.Duration
	BreakerFailureThresh float64
	BreakerMinSamples    int
}

// DefaultConfig mirrors the teacher's own conservative defaults for its
// worker-loop circuit breaker.
var DefaultConfig = Config{
	MaxAttempts:          3,
	BaseBackoff:          time.Second,
	Timeout:              30 * time.Second,
	Limits:               DefaultLimits,
	BreakerWindow:        30 * time.Second,
	BreakerCooldown:      10 * time.Second,
	BreakerFailureThresh: 0.5,
	BreakerMinSamples:    5,
}

// Client talks to the external text-completion Generator over a plain
// JSON HTTP contract, with a call guard protecting it and a retry loop
// classifying failures via internal/classify.
type Client struct {
	httpClient *http.Client
	cfg        Config
	log        *zap.Logger
	guard      *callguard.Guard
}

// BreakerState exposes the call guard's current health for the caller's own
// circuit_breaker_state metrics gauge.
func (c *Client) BreakerState() callguard.Health { return c.guard.Health() }

func New(cfg Config, log *zap.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		log:        log,
		guard:      callguard.New(cfg.BreakerWindow, cfg.BreakerCooldown, cfg.BreakerFailureThresh, cfg.BreakerMinSamples),
	}
}

type wireRequest struct {
	JobType          jobstore.JobType `json:"jobType"`
	Lang             string           `json:"lang"`
	Prompt           string           `json:"prompt"`
	BrandName        string           `json:"brandName"`
	Tone             string           `json:"tone"`
	BrandVoice       string           `json:"brandVoice"`
	TargetKeyword    string           `json:"targetKeyword"`
	RequiredKeywords []string         `json:"requiredKeywords"`
	BannedWords      []string         `json:"bannedWords"`
	Capitalization   string           `json:"capitalization"`
	EmojiPolicy      string           `json:"emojiPolicy"`
	Payload          Payload          `json:"payload"`
	ResponseFormat   string           `json:"responseFormat"`
}

type wireResponse struct {
	SeoTitle       string `json:"seoTitle"`
	SeoDescription string `json:"seoDescription"`
	AltText        string `json:"altText"`
}

// Generate runs the full retry/language-guard/truncation pipeline for one
// request, invoking onAttempt before each try and onRetry whenever a
// transient failure schedules another.
func (c *Client) Generate(ctx context.Context, req Request, onAttempt AttemptFunc, onRetry RetryFunc) (Result, error) {
	hints := NewHints(req.Hints)
	maxAttempts := c.cfg.MaxAttempts

	var lastCls classify.Classification
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if onAttempt != nil {
			onAttempt(attempt)
		}

		if !c.guard.Allow() {
			return Result{}, ErrGuardUnhealthy
		}

		result, cls, err := c.callOnce(ctx, req, hints)
		c.guard.Record(err == nil)

		if err == nil {
			return c.finishSuccess(ctx, req, hints, result, onAttempt, onRetry)
		}

		lastCls = classify.Escalate(cls, attempt, maxAttempts)
		if !lastCls.Transient {
			return Result{}, &PermanentError{Classification: lastCls}
		}

		if attempt == maxAttempts {
			break
		}

		wait := clock.Backoff(attempt, c.cfg.BaseBackoff)
		if lastCls.RetryAfter > wait {
			wait = lastCls.RetryAfter
		}
		if onRetry != nil {
			onRetry(wait.Milliseconds(), lastCls.UserMessage)
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	return Result{}, &PermanentError{Classification: lastCls}
}

// finishSuccess applies the language guard (with at most one rewrite
// pass) and truncates the accepted fields.
func (c *Client) finishSuccess(ctx context.Context, req Request, hints Hints, result Result, onAttempt AttemptFunc, onRetry RetryFunc) (Result, error) {
	if isLanguageMismatch(req.Lang, resultTexts(req.JobType, result)) {
		rewritten, cls, err := c.callRewrite(ctx, req, hints, result)
		if err == nil {
			result = rewritten
		} else {
			c.log.Warn("language rewrite pass failed, keeping original output", zap.String("reason", cls.UserMessage))
		}
	}
	return c.truncate(req.JobType, result), nil
}

func resultTexts(jobType jobstore.JobType, r Result) []string {
	if jobType == jobstore.JobTypeImageAlt {
		return []string{r.AltText}
	}
	return []string{r.SeoTitle, r.SeoDescription}
}

func (c *Client) truncate(jobType jobstore.JobType, r Result) Result {
	if jobType == jobstore.JobTypeImageAlt {
		r.AltText = truncate(r.AltText, c.cfg.Limits.AMax)
		return r
	}
	r.SeoTitle = truncate(r.SeoTitle, c.cfg.Limits.TMax)
	r.SeoDescription = truncate(r.SeoDescription, c.cfg.Limits.DMax)
	return r
}

func (c *Client) callOnce(ctx context.Context, req Request, hints Hints) (Result, classify.Classification, error) {
	wire := wireRequest{
		JobType: req.JobType, Lang: req.Lang, Prompt: req.Prompt,
		BrandName: hints.BrandName, Tone: hints.Tone, BrandVoice: hints.BrandVoice,
		TargetKeyword: hints.TargetKeyword, RequiredKeywords: hints.RequiredKeywords,
		BannedWords: hints.BannedWords, Capitalization: hints.Capitalization,
		EmojiPolicy: hints.EmojiPolicy, Payload: req.Payload, ResponseFormat: "json_object",
	}
	return c.post(ctx, wire)
}

func (c *Client) callRewrite(ctx context.Context, req Request, hints Hints, prior Result) (Result, classify.Classification, error) {
	wire := wireRequest{
		JobType: req.JobType, Lang: req.Lang,
		Prompt: fmt.Sprintf("Rewrite the following JSON strictly into %s, preserving meaning: %s",
			req.Lang, mustMarshal(prior)),
		BrandName: hints.BrandName, Tone: hints.Tone, BrandVoice: hints.BrandVoice,
		TargetKeyword: hints.TargetKeyword, RequiredKeywords: hints.RequiredKeywords,
		BannedWords: hints.BannedWords, Capitalization: hints.Capitalization,
		EmojiPolicy: hints.EmojiPolicy, Payload: req.Payload, ResponseFormat: "json_object",
	}
	return c.post(ctx, wire)
}

func (c *Client) post(ctx context.Context, wire wireRequest) (Result, classify.Classification, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return Result{}, classify.Classification{}, fmt.Errorf("generator: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, classify.Classification{}, fmt.Errorf("generator: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		timeout := errors.Is(err, context.DeadlineExceeded)
		cls := classify.Classify(classify.Input{Err: err, Timeout: timeout})
		return Result{}, cls, err
	}
	defer resp.Body.Close()

	var wr wireResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&wr)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		cls := classify.Classify(classify.Input{HTTPStatus: resp.StatusCode, Err: decodeErr})
		return Result{}, cls, fmt.Errorf("generator: status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return Result{}, classify.NonJSONResponse(), decodeErr
	}

	return Result{SeoTitle: wr.SeoTitle, SeoDescription: wr.SeoDescription, AltText: wr.AltText}, classify.Classification{}, nil
}

func mustMarshal(r Result) string {
	b, _ := json.Marshal(r)
	return string(b)
}
