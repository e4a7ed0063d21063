package enhancer

import (
	"time"

	"deprecations-feed/internal/observability/metrics"
)

// MetricsRecorder records the outcome of enhancer requests.
// Tests substitute a recording fake.
type MetricsRecorder interface {
	RecordRequest(provider string, success bool, duration time.Duration)
}

type prometheusRecorder struct{}

// NewPrometheusMetrics returns the recorder backed by the process-wide registry.
func NewPrometheusMetrics() MetricsRecorder {
	return prometheusRecorder{}
}

func (prometheusRecorder) RecordRequest(provider string, success bool, duration time.Duration) {
	metrics.RecordEnhancement(provider, success, duration)
}
