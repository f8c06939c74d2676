// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seo-batch/job-engine/internal/config"
)

var (
	JobsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_created_total",
		Help: "Total number of jobs created, by job type.",
	}, []string{"job_type"})
	JobsSucceeded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_succeeded_total",
		Help: "Total number of jobs that reached status=Success, by phase.",
	}, []string{"phase"})
	JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Total number of jobs that reached status=Failed, by reason.",
	}, []string{"reason"})

	ItemsGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "items_generated_total",
		Help: "Total number of items that completed the generate phase successfully.",
	})
	ItemsGenerateFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "items_generate_failed_total",
		Help: "Total number of items that failed the generate phase.",
	})
	ItemsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "items_published_total",
		Help: "Total number of items that completed the publish phase successfully.",
	})
	ItemsPublishFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "items_publish_failed_total",
		Help: "Total number of items that failed the publish phase.",
	})

	GeneratorRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "generator_retries_total",
		Help: "Total number of Generator call retries across all items.",
	})
	StoreAPIRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storeapi_retries_total",
		Help: "Total number of StoreAPI call retries across all items.",
	})
	StoreAPIThrottleWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "storeapi_throttle_wait_seconds",
		Help:    "Synchronous cost-pacing sleep durations before StoreAPI calls.",
		Buckets: prometheus.DefBuckets,
	})

	QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_queue_length",
		Help: "Current length of the broker's ready/delayed sets.",
	}, []string{"set"})

	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "0 Healthy, 1 Probing, 2 Unhealthy, by client.",
	}, []string{"client"})
	CircuitBreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_trips_total",
		Help: "Count of times a client's circuit breaker transitioned to Unhealthy.",
	}, []string{"client"})

	TenantLockBusy = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tenant_lock_busy_total",
		Help: "Count of dispatches re-delivered because the tenant lock was held by another worker.",
	})
	RecoveryRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recovery_recovered_total",
		Help: "Total number of jobs recovered by the stuck-job recovery loop.",
	})
	UsageLimitRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "usage_limit_rejected_total",
		Help: "Total number of jobs rejected by the free-tier monthly usage cap.",
	})
)

func init() {
	prometheus.MustRegister(
		JobsCreated, JobsSucceeded, JobsFailed,
		ItemsGenerated, ItemsGenerateFailed, ItemsPublished, ItemsPublishFailed,
		GeneratorRetries, StoreAPIRetries, StoreAPIThrottleWait,
		QueueLength, CircuitBreakerState, CircuitBreakerTrips,
		TenantLockBusy, RecoveryRecovered, UsageLimitRejected,
	)
}

// StartMetricsServer exposes /metrics alone; StartHTTPServer additionally
// registers health endpoints and is the one wired from main.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
