// Copyright 2025 James Ross
package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seo-batch/job-engine/internal/jobstore"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig
	cfg.BaseURL = srv.URL
	cfg.BaseBackoff = time.Millisecond
	return New(cfg, nil)
}

func TestGenerateSuccessTruncatesFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wireResponse{
			SeoTitle:       "a very long title that goes on and on and on and on and on and on and on",
			SeoDescription: "short description",
		})
	})

	result, err := c.Generate(context.Background(), Request{JobType: jobstore.JobTypeProductSeo, Lang: "en"}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.SeoTitle) > DefaultLimits.TMax {
		t.Fatalf("title not truncated: %d chars", len(result.SeoTitle))
	}
}

func TestGenerateRetriesOnServerError(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(wireResponse{AltText: "new alt text"})
	})

	var retries int
	result, err := c.Generate(context.Background(), Request{JobType: jobstore.JobTypeImageAlt, Lang: "en"}, nil, func(waitMs int64, reason string) {
		retries++
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retries != 1 {
		t.Fatalf("expected exactly one retry, got %d", retries)
	}
	if result.AltText != "new alt text" {
		t.Fatalf("unexpected alt text %q", result.AltText)
	}
}

func TestGenerateAuthFailureIsPermanent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Generate(context.Background(), Request{JobType: jobstore.JobTypeProductSeo, Lang: "en"}, nil, nil)
	perr, ok := err.(*PermanentError)
	if !ok {
		t.Fatalf("expected *PermanentError, got %T (%v)", err, err)
	}
	if perr.Classification.Transient {
		t.Fatal("expected permanent classification")
	}
}

func TestGenerateNonJSONResponseRetriesThenFails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	_, err := c.Generate(context.Background(), Request{JobType: jobstore.JobTypeProductSeo, Lang: "en"}, nil, nil)
	if err == nil {
		t.Fatal("expected error for persistently non-JSON response")
	}
}
