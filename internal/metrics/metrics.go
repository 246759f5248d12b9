// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ZoomAPIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoom_api_requests_total",
			Help: "Zoom API requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	ZoomAPIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zoom_api_request_duration_seconds",
			Help:    "Zoom API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	ZoomAPIRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zoom_api_rate_limit_retries_total",
			Help: "Requests retried after a 429 response",
		},
	)

	TokenCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_cache_lookups_total",
			Help: "Token cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	TokenExchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_exchanges_total",
			Help: "Client-credentials exchanges by outcome",
		},
		[]string{"outcome"},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Completed sync runs by type and status",
		},
		[]string{"sync_type", "status"},
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "Sync run duration",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"sync_type"},
	)

	ChunkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_chunk_errors_total",
			Help: "Chunks that failed and were skipped, by data type",
		},
		[]string{"data_type"},
	)

	PastEventAPICalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "past_event_api_calls_total",
			Help: "Remote calls made while fetching post-event timing data",
		},
	)

	EnhancementResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enhancement_results_total",
			Help: "Per-record enhancement outcomes by processor and status",
		},
		[]string{"processor", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_jobs_processed_total",
			Help: "Queued jobs processed by workers, by status",
		},
		[]string{"status"},
	)
)
