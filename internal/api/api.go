// Copyright 2025 James Ross
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/seo-batch/job-engine/internal/broker"
	"github.com/seo-batch/job-engine/internal/jobstore"
	"github.com/seo-batch/job-engine/internal/storeapi"
)

// API is the intake HTTP surface (C16): it drives the engine by writing
// jobs/items to the store and enqueueing broker messages, never touching
// the generate/publish runners directly. The one exception is StoreAPI,
// used read-only at publish-selection time for the applyOnlyChanged prune.
type API struct {
	Store    *jobstore.Store
	Broker   *broker.Broker
	StoreAPI *storeapi.Client
	Log      *zap.Logger
}

func New(store *jobstore.Store, brk *broker.Broker, storeClient *storeapi.Client, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{Store: store, Broker: brk, StoreAPI: storeClient, Log: log}
}

// Router builds the mux.Router exposing every route in spec §4.16.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/tenants/{tenant}/jobs", a.createJob).Methods(http.MethodPost)
	r.HandleFunc("/v1/tenants/{tenant}/jobs", a.listJobs).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}", a.getJob).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}/cancel", a.cancelJob).Methods(http.MethodPost)
	r.HandleFunc("/v1/jobs/{id}/items/retry", a.retryItems).Methods(http.MethodPost)
	r.HandleFunc("/v1/jobs/{id}/publish", a.selectPublish).Methods(http.MethodPost)
	return r
}
