// Copyright 2025 James Ross
package storeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seo-batch/job-engine/internal/callguard"
	"github.com/seo-batch/job-engine/internal/classify"
	"github.com/seo-batch/job-engine/internal/clock"
)

// Config controls transport, retry, and cost-pacing behavior.
type Config struct {
	Endpoint     string
	APIToken     string
	MaxAttempts  int
	BaseBackoff  time.Duration
	Timeout      time.Duration
	MinAvailable float64
	MaxWait      time.Duration

	BreakerWindow        time.Duration
	BreakerCooldown      time.Duration
	BreakerFailureThresh float64
	BreakerMinSamples    int
}

var DefaultConfig = Config{
	MaxAttempts:          3,
	BaseBackoff:          time.Second,
	Timeout:              30 * time.Second,
	MinAvailable:         100,
	MaxWait:              5 * time.Second,
	BreakerWindow:        30 * time.Second,
	BreakerCooldown:      10 * time.Second,
	BreakerFailureThresh: 0.5,
	BreakerMinSamples:    5,
}

// Client is a thin GraphQL-like JSON client for the external StoreAPI.
type Client struct {
	httpClient *http.Client
	cfg        Config
	log        *zap.Logger
	guard      *callguard.Guard
	pacer      *pacer
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
		pacer:      newPacer(cfg.MinAvailable, cfg.MaxWait),
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
	Extensions struct {
		Cost struct {
			ThrottleStatus struct {
				CurrentlyAvailable float64 `json:"currentlyAvailable"`
				RestoreRate        float64 `json:"restoreRate"`
			} `json:"throttleStatus"`
		} `json:"cost"`
	} `json:"extensions"`
}

// graphqlWithRetry implements spec §4.7's shared call pipeline: per-call
// timeout, failure classification, cost-based pacing, and the
// attempt/retry hooks shared with the Generator client.
func (c *Client) graphqlWithRetry(ctx context.Context, query string, vars map[string]any,
	onAttempt generatorAttemptFunc, onRetry generatorRetryFunc, onThrottle ThrottleFunc) (json.RawMessage, error) {

	if err := c.pacer.wait(ctx); err != nil {
		return nil, err
	}

	var lastCls classify.Classification
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if onAttempt != nil {
			onAttempt(attempt)
		}
		if !c.guard.Allow() {
			return nil, errGuardUnhealthy
		}

		data, graphQLMsgs, throttle, err := c.doOnce(ctx, query, vars)
		c.guard.Record(err == nil && len(graphQLMsgs) == 0)

		if wait := c.pacer.observe(throttle); wait > 0 {
			if onThrottle != nil {
				onThrottle(wait.Milliseconds(), ThrottleStatus{CurrentlyAvailable: throttle.CurrentlyAvailable, RestoreRate: throttle.RestoreRate})
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err == nil && len(graphQLMsgs) == 0 {
			return data, nil
		}

		httpStatus := 0
		var timeoutErr bool
		if err != nil {
			timeoutErr = errors.Is(err, context.DeadlineExceeded)
			var statusErr *httpStatusError
			if errors.As(err, &statusErr) {
				httpStatus = statusErr.status
			}
		}
		cls := classify.Classify(classify.Input{HTTPStatus: httpStatus, Err: err, Timeout: timeoutErr, GraphQLMessages: graphQLMsgs})
		lastCls = classify.Escalate(cls, attempt, c.cfg.MaxAttempts)
		if !lastCls.Transient {
			return nil, &PermanentError{Classification: lastCls}
		}
		if attempt == c.cfg.MaxAttempts {
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
			return nil, ctx.Err()
		}
	}

	return nil, &PermanentError{Classification: lastCls}
}

func (c *Client) doOnce(ctx context.Context, query string, vars map[string]any) (json.RawMessage, []string, ThrottleStatus, error) {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, nil, ThrottleStatus{}, fmt.Errorf("storeapi: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, ThrottleStatus{}, fmt.Errorf("storeapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIToken != "" {
		req.Header.Set("X-Store-Access-Token", c.cfg.APIToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, ThrottleStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, ThrottleStatus{}, &httpStatusError{status: resp.StatusCode}
	}

	var gr graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, nil, ThrottleStatus{}, err
	}

	var msgs []string
	for _, e := range gr.Errors {
		msgs = append(msgs, e.Message)
	}
	throttle := ThrottleStatus{
		CurrentlyAvailable: gr.Extensions.Cost.ThrottleStatus.CurrentlyAvailable,
		RestoreRate:        gr.Extensions.Cost.ThrottleStatus.RestoreRate,
	}
	return gr.Data, msgs, throttle, nil
}

type httpStatusError struct{ status int }

func (e *httpStatusError) Error() string { return fmt.Sprintf("storeapi: http status %d", e.status) }

// PermanentError wraps a classification the retry loop gave up on.
type PermanentError struct {
	Classification classify.Classification
}

func (e *PermanentError) Error() string { return "storeapi: " + e.Classification.UserMessage }

var errGuardUnhealthy = errors.New("storeapi: call guard unhealthy")

// generatorAttemptFunc/generatorRetryFunc avoid importing the generator
// package purely for its callback types — both clients share the same
// attempt/retry telemetry shape by convention, not by coupling.
type generatorAttemptFunc func(attempt int)
type generatorRetryFunc func(waitMs int64, reason string)

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
