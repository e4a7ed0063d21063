package config

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConfigMetrics exposes how one component's last configuration load went:
//
//	{component}_config_loaded_timestamp_seconds
//	{component}_config_rejected_total{field}
//	{component}_config_fallback_active
//
// A rejected field is one whose value failed validation and was replaced
// by its default.
type ConfigMetrics struct {
	LoadedAt       prometheus.Gauge
	Rejected       *prometheus.CounterVec
	FallbackActive prometheus.Gauge
}

// NewConfigMetrics registers the metrics for component with the default
// registry. Registering a component twice panics.
func NewConfigMetrics(component string) *ConfigMetrics {
	return NewConfigMetricsWith(prometheus.DefaultRegisterer, component)
}

// NewConfigMetricsWith registers the metrics with reg.
func NewConfigMetricsWith(reg prometheus.Registerer, component string) *ConfigMetrics {
	factory := promauto.With(reg)
	return &ConfigMetrics{
		LoadedAt: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: component,
			Subsystem: "config",
			Name:      "loaded_timestamp_seconds",
			Help:      "Unix time of the last configuration load.",
		}),
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: component,
			Subsystem: "config",
			Name:      "rejected_total",
			Help:      "Configuration values that failed validation and fell back to their default.",
		}, []string{"field"}),
		FallbackActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: component,
			Subsystem: "config",
			Name:      "fallback_active",
			Help:      "1 when the last load replaced at least one rejected value with its default.",
		}),
	}
}
// Loaded stamps the load time and sets the fallback gauge.
func (m *ConfigMetrics) Loaded(fallback bool) {
	m.LoadedAt.SetToCurrentTime()
	if fallback {
		m.FallbackActive.Set(1)
		return
	}
	m.FallbackActive.Set(0)
}

// Reject counts one rejected value for field.
func (m *ConfigMetrics) Reject(field string) {
	m.Rejected.WithLabelValues(field).Inc()
}
