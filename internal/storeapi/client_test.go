// Copyright 2025 James Ross
package storeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig
	cfg.Endpoint = srv.URL
	cfg.BaseBackoff = time.Millisecond
	cfg.MaxWait = 10 * time.Millisecond
	return New(cfg, zaptest.NewLogger(t)), srv
}

func writeGraphQL(t *testing.T, w http.ResponseWriter, data any, errs []graphqlError, available, restore float64) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	resp := graphqlResponse{Data: raw, Errors: errs}
	resp.Extensions.Cost.ThrottleStatus.CurrentlyAvailable = available
	resp.Extensions.Cost.ThrottleStatus.RestoreRate = restore
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestFetchProductReadsNativeAndMetaSeo(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeGraphQL(t, w, map[string]any{
			"product": map[string]any{
				"id": "gid://store/Product/1", "title": "Chair", "description": "A chair",
				"seo":            map[string]any{"title": "Native Title", "description": "Native Desc"},
				"titleTag":       map[string]any{"value": "Meta Title"},
				"descriptionTag": nil,
			},
		}, nil, 1000, 100)
	})

	p, err := c.FetchProduct(context.Background(), "gid://store/Product/1", nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.NativeSeo.Title != "Native Title" || p.MetaSeo.Title != "Meta Title" {
		t.Fatalf("unexpected product: %+v", p)
	}
	if p.MetaSeo.Description != "" {
		t.Fatalf("expected empty meta description, got %q", p.MetaSeo.Description)
	}
}

func TestWriteProductSeoBackfillsMissingSide(t *testing.T) {
	var gotVars map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		if len(req.Variables) == 1 {
			if _, ok := req.Variables["id"]; ok {
				writeGraphQL(t, w, map[string]any{
					"product": map[string]any{
						"id": "1", "title": "Chair", "description": "A chair",
						"seo":            map[string]any{"title": "", "description": "Native Desc"},
						"titleTag":       nil,
						"descriptionTag": nil,
					},
				}, nil, 1000, 100)
				return
			}
		}
		gotVars = req.Variables
		writeGraphQL(t, w, map[string]any{"metafieldsSet": map[string]any{"userErrors": []any{}}}, nil, 1000, 100)
	})

	fields := WriteFields{WriteTitle: true, WriteDescription: true, Title: "New Title", Description: ""}
	if err := c.WriteProductSeo(context.Background(), "1", fields, nil, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	metafields, ok := gotVars["metafields"].([]any)
	if !ok || len(metafields) != 2 {
		t.Fatalf("expected backfilled description_tag alongside title_tag, got %#v", gotVars)
	}
	foundDescription := false
	for _, raw := range metafields {
		m, _ := raw.(map[string]any)
		if m["key"] == "description_tag" {
			foundDescription = true
			if m["value"] != "Native Desc" {
				t.Fatalf("expected backfilled native description, got %v", m["value"])
			}
		}
	}
	if !foundDescription {
		t.Fatal("expected description_tag to be backfilled from native seo{}")
	}
}

func TestWriteProductSeoNeverWritesEmptyString(t *testing.T) {
	called := false
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if _, ok := req.Variables["id"]; ok {
			writeGraphQL(t, w, map[string]any{
				"product": map[string]any{
					"id": "1", "title": "Chair", "description": "A chair",
					"seo":            map[string]any{"title": "", "description": ""},
					"titleTag":       nil,
					"descriptionTag": nil,
				},
			}, nil, 1000, 100)
			return
		}
		called = true
		writeGraphQL(t, w, map[string]any{"metafieldsSet": map[string]any{"userErrors": []any{}}}, nil, 1000, 100)
	})

	fields := WriteFields{WriteTitle: true, WriteDescription: true, Title: "", Description: "  "}
	if err := c.WriteProductSeo(context.Background(), "1", fields, nil, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatal("expected no mutation to be sent when both fields are blank")
	}
}

func TestWriteArticleSeoUsesCanonicalGIDForm(t *testing.T) {
	var gotOwnerID any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		metafields := req.Variables["metafields"].([]any)
		gotOwnerID = metafields[0].(map[string]any)["ownerId"]
		writeGraphQL(t, w, map[string]any{"metafieldsSet": map[string]any{"userErrors": []any{}}}, nil, 1000, 100)
	})

	fields := WriteFields{WriteTitle: true, Title: "Article Title"}
	if err := c.WriteArticleSeo(context.Background(), "42", fields, nil, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotOwnerID != "gid://store/Article/42" {
		t.Fatalf("expected canonical store GID, got %v", gotOwnerID)
	}
}

func TestWriteArticleSeoRetriesAfterNodePreflightOnInvalidID(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		var req graphqlRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		if _, isPreflight := req.Variables["id"]; isPreflight {
			if req.Variables["id"] != "gid://store/Article/42" {
				t.Fatalf("expected preflight on canonical GID, got %v", req.Variables["id"])
			}
			writeGraphQL(t, w, map[string]any{"node": map[string]any{"id": "gid://store/Article/42"}}, nil, 1000, 100)
			return
		}

		metafields := req.Variables["metafields"].([]any)
		ownerID := metafields[0].(map[string]any)["ownerId"]
		if ownerID != "gid://store/Article/42" {
			t.Fatalf("expected canonical store GID on every mutation attempt, got %v", ownerID)
		}
		if attempts == 1 {
			writeGraphQL(t, w, map[string]any{"metafieldsSet": nil}, []graphqlError{{Message: "Invalid id gid://store/Article/42"}}, 1000, 100)
			return
		}
		writeGraphQL(t, w, map[string]any{"metafieldsSet": map[string]any{"userErrors": []any{}}}, nil, 1000, 100)
	})

	fields := WriteFields{WriteTitle: true, Title: "Article Title"}
	if err := c.WriteArticleSeo(context.Background(), "42", fields, nil, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected mutation, preflight, retried mutation (3 calls), got %d", attempts)
	}
}

func TestCurrentSeoPrefersMetaOverNativeForProducts(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeGraphQL(t, w, map[string]any{
			"product": map[string]any{
				"id": "gid://store/Product/1", "title": "Chair", "description": "A chair",
				"seo":            map[string]any{"title": "Native Title", "description": "Native Desc"},
				"titleTag":       map[string]any{"value": "Meta Title"},
				"descriptionTag": nil,
			},
		}, nil, 1000, 100)
	})

	title, description, err := c.CurrentSeo(context.Background(), "Product", "1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if title != "Meta Title" || description != "Native Desc" {
		t.Fatalf("expected meta title with native description fallback, got %q/%q", title, description)
	}
}

func TestCurrentSeoReadsImageAltByID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeGraphQL(t, w, map[string]any{
			"product": map[string]any{
				"media": map[string]any{
					"nodes": []any{
						map[string]any{"id": "gid://store/MediaImage/99", "image": map[string]any{"url": "u", "altText": "a red chair"}},
					},
				},
			},
		}, nil, 1000, 100)
	})

	_, alt, err := c.CurrentSeo(context.Background(), "Image", "99", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alt != "a red chair" {
		t.Fatalf("expected live alt text, got %q", alt)
	}
}

func TestGraphQLThrottleTriggersPacingSleep(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeGraphQL(t, w, map[string]any{"ok": true}, nil, 0, 50)
			return
		}
		writeGraphQL(t, w, map[string]any{"ok": true}, nil, 1000, 50)
	})
	c.cfg.MinAvailable = 100
	c.pacer = newPacer(100, 10*time.Millisecond)

	start := time.Now()
	_, err := c.graphqlWithRetry(context.Background(), "query{ok}", nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatal("expected the pacer to sleep before returning")
	}
}

func TestWriteImageAltSendsMutation(t *testing.T) {
	var gotMedia []any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotMedia = req.Variables["media"].([]any)
		writeGraphQL(t, w, map[string]any{"productUpdateMedia": map[string]any{"userErrors": []any{}}}, nil, 1000, 100)
	})

	if err := c.WriteImageAlt(context.Background(), "1", "99", "a red chair", nil, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gotMedia) != 1 {
		t.Fatalf("expected exactly one media entry, got %d", len(gotMedia))
	}
	entry := gotMedia[0].(map[string]any)
	if entry["alt"] != "a red chair" || entry["id"] != "gid://store/MediaImage/99" {
		t.Fatalf("unexpected media mutation payload: %+v", entry)
	}
}
