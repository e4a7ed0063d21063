package config

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigMetricsWith_Names(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConfigMetricsWith(reg, "collector")
	m.Loaded(false)
	m.Reject("cache_ttl")

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"collector_config_loaded_timestamp_seconds",
		"collector_config_rejected_total",
		"collector_config_fallback_active",
	}, names)
}

func TestNewConfigMetrics_DuplicateComponentPanics(t *testing.T) {
	NewConfigMetrics("test_duplicate")
	assert.Panics(t, func() { NewConfigMetrics("test_duplicate") })
}

func TestConfigMetrics_Recorders(t *testing.T) {
	m := NewConfigMetricsWith(prometheus.NewRegistry(), "test")

	m.Loaded(true)
	assert.Greater(t, testutil.ToFloat64(m.LoadedAt), 0.0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackActive))

	m.Reject("cron_schedule")
	m.Reject("cron_schedule")
	m.Reject("timezone")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Rejected.WithLabelValues("cron_schedule")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejected.WithLabelValues("timezone")))

	m.Loaded(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FallbackActive))
}
