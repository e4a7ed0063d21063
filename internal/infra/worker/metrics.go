package worker

import (
	"deprecations-feed/internal/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics provides Prometheus metrics for the worker process.
// It embeds ConfigMetrics for configuration monitoring and adds job metrics:
//   - worker_job_runs_total: runs by status (started, success, partial, failed, skipped)
//   - worker_job_duration_seconds: duration of complete runs
//   - worker_job_records_collected_total: records accepted across runs
//   - worker_job_last_success_timestamp: Unix time of the last successful run
//
// Metrics are registered with the default registry; create one instance per process.
type WorkerMetrics struct {
	*config.ConfigMetrics

	JobRunsTotal            *prometheus.CounterVec
	JobDurationSeconds      prometheus.Histogram
	RecordsCollectedTotal   prometheus.Counter
	JobLastSuccessTimestamp prometheus.Gauge
}

// NewWorkerMetrics creates and registers the worker metrics.
func NewWorkerMetrics() *WorkerMetrics {
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetrics("worker"),

		JobRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_job_runs_total",
			Help: "Total number of collection job runs by status",
		}, []string{"status"}),

		JobDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_job_duration_seconds",
			Help:    "Duration of collection job runs in seconds",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 1800},
		}),

		RecordsCollectedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worker_job_records_collected_total",
			Help: "Total number of records accepted across job runs",
		}),

		JobLastSuccessTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worker_job_last_success_timestamp",
			Help: "Unix timestamp of the last successful job run",
		}),
	}
}

// RecordJobRun increments the run counter for status.
func (m *WorkerMetrics) RecordJobRun(status string) {
	m.JobRunsTotal.WithLabelValues(status).Inc()
}

// RecordJobDuration observes the duration of one run in seconds.
func (m *WorkerMetrics) RecordJobDuration(seconds float64) {
	m.JobDurationSeconds.Observe(seconds)
}

// RecordRecordsCollected adds the records accepted by one run.
func (m *WorkerMetrics) RecordRecordsCollected(count int) {
	m.RecordsCollectedTotal.Add(float64(count))
}

// RecordLastSuccess stamps the last successful run with the current time.
func (m *WorkerMetrics) RecordLastSuccess() {
	m.JobLastSuccessTimestamp.SetToCurrentTime()
}
