// Copyright 2025 James Ross
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/seo-batch/job-engine/internal/broker"
	"github.com/seo-batch/job-engine/internal/jobstore"
	"github.com/seo-batch/job-engine/internal/obs"
)

// createJob handles POST /v1/tenants/{tenant}/jobs: validates the job
// spec and its items, persists them, and enqueues the generate message.
func (a *API) createJob(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" || req.JobType == "" {
		writeError(w, http.StatusBadRequest, "id and jobType are required")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items must not be empty")
		return
	}

	items := make([]jobstore.ItemSpec, len(req.Items))
	for i, it := range req.Items {
		if it.ID == "" || it.TargetType == "" || it.TargetID == "" {
			writeError(w, http.StatusBadRequest, "each item requires id, targetType and targetId")
			return
		}
		items[i] = jobstore.ItemSpec{
			ID: it.ID, TargetType: jobstore.TargetType(it.TargetType), TargetID: it.TargetID,
			ParentID: it.ParentID, Title: it.Title, MediaID: it.MediaID, ImageURL: it.ImageURL,
			SeoDescription: it.SeoDescription,
		}
	}

	spec := jobstore.JobSpec{
		ID: req.ID, Tenant: tenant, JobType: jobstore.JobType(req.JobType),
		Language: req.Language, MetaTitle: req.MetaTitle, MetaDescription: req.MetaDescription,
		GenerationHints: req.GenerationHints, ApplyOnlyChanged: req.ApplyOnlyChanged,
	}

	if err := a.Store.CreateJob(r.Context(), spec, items); err != nil {
		if errors.Is(err, jobstore.ErrJobExists) {
			writeError(w, http.StatusConflict, "job already exists")
			return
		}
		a.Log.Error("api: create job failed", obs.JobID(req.ID), obs.Err(err))
		writeError(w, http.StatusInternalServerError, "create job failed")
		return
	}

	if err := a.Broker.Enqueue(r.Context(), req.ID, broker.KindGenerate); err != nil {
		a.Log.Error("api: enqueue generate failed", obs.JobID(req.ID), obs.Err(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	obs.JobsCreated.WithLabelValues(req.JobType).Inc()

	job, err := a.Store.GetJob(r.Context(), req.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "job created but re-read failed")
		return
	}
	writeJSON(w, http.StatusCreated, jobToDTO(job))
}

// listJobs handles GET /v1/tenants/{tenant}/jobs.
func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	q := r.URL.Query()

	filter := jobstore.ListFilter{
		Tenant:     tenant,
		Status:     jobstore.Status(q.Get("status")),
		Phase:      jobstore.Phase(q.Get("phase")),
		JobType:    jobstore.JobType(q.Get("jobType")),
		IDContains: q.Get("q"),
		Cursor:     q.Get("cursor"),
	}

	page, err := a.Store.ListJobs(r.Context(), filter)
	if err != nil {
		a.Log.Error("api: list jobs failed", obs.Tenant(tenant), obs.Err(err))
		writeError(w, http.StatusInternalServerError, "list jobs failed")
		return
	}

	dtos := make([]jobDTO, len(page.Jobs))
	for i, j := range page.Jobs {
		dtos[i] = jobToDTO(j)
	}
	writeJSON(w, http.StatusOK, jobListDTO{Jobs: dtos, NextCursor: page.NextCursor})
}

// getJob handles GET /v1/jobs/{id}: job plus its item summary.
func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := a.Store.GetJob(r.Context(), id)
	if errors.Is(err, jobstore.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		a.Log.Error("api: get job failed", obs.JobID(id), obs.Err(err))
		writeError(w, http.StatusInternalServerError, "get job failed")
		return
	}

	items, err := a.Store.ListItems(r.Context(), id)
	if err != nil {
		a.Log.Error("api: list items failed", obs.JobID(id), obs.Err(err))
		writeError(w, http.StatusInternalServerError, "list items failed")
		return
	}
	itemDTOs := make([]itemDTO, len(items))
	for i, it := range items {
		itemDTOs[i] = itemToDTO(it)
	}

	writeJSON(w, http.StatusOK, jobDetailDTO{Job: jobToDTO(job), Items: itemDTOs})
}

// cancelJob handles POST /v1/jobs/{id}/cancel.
func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := a.Store.CancelJob(r.Context(), id); err != nil {
		if errors.Is(err, jobstore.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		a.Log.Error("api: cancel job failed", obs.JobID(id), obs.Err(err))
		writeError(w, http.StatusInternalServerError, "cancel job failed")
		return
	}

	if err := a.Broker.Remove(r.Context(), id, broker.KindGenerate); err != nil {
		a.Log.Warn("api: remove generate message failed", obs.JobID(id), obs.Err(err))
	}
	if err := a.Broker.Remove(r.Context(), id, broker.KindPublish); err != nil {
		a.Log.Warn("api: remove publish message failed", obs.JobID(id), obs.Err(err))
	}

	w.WriteHeader(http.StatusNoContent)
}

// retryItems handles POST /v1/jobs/{id}/items/retry: flips the named
// Failed items back to Queued and re-enqueues the generate message.
func (a *API) retryItems(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req retryItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.ItemIDs) == 0 {
		writeError(w, http.StatusBadRequest, "itemIds must not be empty")
		return
	}

	if err := a.Store.RetryItems(r.Context(), id, req.ItemIDs); err != nil {
		a.Log.Error("api: retry items failed", obs.JobID(id), obs.Err(err))
		writeError(w, http.StatusInternalServerError, "retry items failed")
		return
	}
	if err := a.Broker.Enqueue(r.Context(), id, broker.KindGenerate); err != nil {
		a.Log.Error("api: enqueue generate retry failed", obs.JobID(id), obs.Err(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// selectPublish handles POST /v1/jobs/{id}/publish: the producer-side
// selection step from spec §4.10 — chosen items become publishStatus
// Queued, every other still-eligible item becomes Skipped, then the
// publish message is enqueued. When the job was created with
// applyOnlyChanged, it first prunes any selected item whose draft SEO
// text already matches what's live on the store (spec §4.10/§9: a
// selection-time snapshot, not a write-time guarantee).
func (a *API) selectPublish(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req selectPublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	itemIDs, err := a.pruneUnchanged(r.Context(), id, req.ItemIDs)
	if err != nil {
		a.Log.Error("api: apply-only-changed prune failed", obs.JobID(id), obs.Err(err))
		writeError(w, http.StatusInternalServerError, "apply-only-changed prune failed")
		return
	}

	if err := a.Store.SelectForPublish(r.Context(), id, itemIDs); err != nil {
		a.Log.Error("api: select for publish failed", obs.JobID(id), obs.Err(err))
		writeError(w, http.StatusInternalServerError, "select for publish failed")
		return
	}
	if err := a.Store.SetPhase(r.Context(), id, jobstore.PhaseTransition{
		Phase: jobstore.PhasePublishing, Status: jobstore.StatusQueued,
	}); err != nil {
		a.Log.Error("api: set phase publishing failed", obs.JobID(id), obs.Err(err))
		writeError(w, http.StatusInternalServerError, "set phase failed")
		return
	}
	if err := a.Broker.Enqueue(r.Context(), id, broker.KindPublish); err != nil {
		a.Log.Error("api: enqueue publish failed", obs.JobID(id), obs.Err(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pruneUnchanged drops any requested item whose generated draft already
// matches what's currently live on the store, when the job was created
// with applyOnlyChanged. It is a no-op (returns requested unchanged) when
// the job doesn't opt in or no StoreAPI client is configured.
func (a *API) pruneUnchanged(ctx context.Context, jobID string, requested []string) ([]string, error) {
	if a.StoreAPI == nil || len(requested) == 0 {
		return requested, nil
	}
	job, err := a.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.ApplyOnlyChanged {
		return requested, nil
	}

	items, err := a.Store.ListItems(ctx, jobID)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(requested))
	for _, id := range requested {
		wanted[id] = true
	}

	kept := make([]string, 0, len(requested))
	for _, item := range items {
		if !wanted[item.ID] {
			continue
		}
		parentID := ""
		if item.ParentID != nil {
			parentID = *item.ParentID
		}
		liveTitle, liveDescription, err := a.StoreAPI.CurrentSeo(ctx, string(item.TargetType), item.TargetID, parentID)
		if err != nil {
			return nil, fmt.Errorf("check live state for item %s: %w", item.ID, err)
		}
		if item.TargetType == jobstore.TargetImage {
			if liveDescription == item.SeoTitle {
				continue
			}
		} else if liveTitle == item.SeoTitle && liveDescription == item.SeoDescription {
			continue
		}
		kept = append(kept, item.ID)
	}
	return kept, nil
}
