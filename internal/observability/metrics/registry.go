// Package metrics provides centralized Prometheus metrics for the application.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task outcomes used as the "outcome" label of CollectorTasksTotal.
const (
	OutcomeSuccess   = "success"
	OutcomeStale     = "stale"
	OutcomeFailure   = "failure"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// Cache lookup outcomes used as the "outcome" label of CacheLookupsTotal.
const (
	CacheHit          = "hit"
	CacheMiss         = "miss"
	CacheStale        = "stale"
	CacheFetchFailure = "fetch_failure"
	CacheError        = "error"
)

// Collector metrics track orchestration runs and their tasks
var (
	// CollectorRunsTotal counts orchestration runs by status (success, partial, failed)
	CollectorRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_runs_total",
			Help: "Total number of collection runs by status",
		},
		[]string{"status"},
	)

	// CollectorRunDuration measures wall-clock duration of a full run
	CollectorRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collector_run_duration_seconds",
			Help:    "Duration of a collection run in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
	)

	// CollectorTasksTotal counts task outcomes
	CollectorTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_tasks_total",
			Help: "Total number of collection task outcomes",
		},
		[]string{"task", "outcome"},
	)

	// CollectorTaskDuration measures how long each task took, retries included
	CollectorTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collector_task_duration_seconds",
			Help:    "Duration of a collection task in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"task"},
	)

	// ItemValidationErrorsTotal counts raw items rejected during validation
	ItemValidationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_item_validation_errors_total",
			Help: "Total number of raw items that failed record validation",
		},
		[]string{"task"},
	)
)

// Record store metrics
var (
	// RecordsMergedTotal counts merge results by change type (new, updated, unchanged)
	RecordsMergedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_merged_total",
			Help: "Total number of records merged into the store by change type",
		},
		[]string{"change"},
	)

	// RecordsStored tracks the size of the record collection after the last run
	RecordsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "records_stored",
			Help: "Number of records in the store after the last run",
		},
	)
)

// Cache metrics
var (
	// CacheLookupsTotal counts cache reads and fallbacks by outcome
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Total number of cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// CachePurgedTotal counts entries removed by purge sweeps
	CachePurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_purged_entries_total",
			Help: "Total number of expired cache entries removed by purge",
		},
	)
)

// Source HTTP metrics
var (
	// SourceRequestsTotal counts outbound source requests by host and status
	SourceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_requests_total",
			Help: "Total number of source HTTP requests by host and status",
		},
		[]string{"host", "status"},
	)

	// SourceRequestDuration measures source request latency
	SourceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_request_duration_seconds",
			Help:    "Duration of source HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	// SourceHTTPCacheTotal counts conditional cache results (fresh, not_modified, modified, stale)
	SourceHTTPCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_http_cache_total",
			Help: "Total number of source HTTP cache results by host and result",
		},
		[]string{"host", "result"},
	)
)

// Enhancement metrics
var (
	// EnhancerRequestsTotal counts enhancement API calls by provider and status
	EnhancerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enhancer_requests_total",
			Help: "Total number of enhancement API requests",
		},
		[]string{"provider", "status"},
	)

	// EnhancerRequestDuration measures enhancement API latency
	EnhancerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enhancer_request_duration_seconds",
			Help:    "Duration of enhancement API requests in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)

	// EnhancerCacheHitsTotal counts enhancements served from the cache
	EnhancerCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enhancer_cache_hits_total",
			Help: "Total number of enhancements served from cache",
		},
	)
)
