package slo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SLO targets define the service level objectives for collection runs.
const (
	// TaskSuccessSLO is the minimum ratio of tasks that must succeed per run (stale serves count as success)
	TaskSuccessSLO = 0.90

	// StaleRatioSLO is the maximum ratio of tasks that may be served from a stale snapshot
	StaleRatioSLO = 0.20

	// FreshnessSLO is the maximum age of the newest successfully collected data (daily schedule plus slack)
	FreshnessSLO = 26 * time.Hour
)

// SLO tracking metrics
// These gauges are updated by the worker at the end of every run.
var (
	// SLOTaskSuccess tracks the success ratio of the last run (0-1)
	// calculated as: succeeded / total
	SLOTaskSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_task_success_ratio",
			Help: "Task success ratio of the last collection run (0-1), target: >= 0.90",
		},
	)

	// SLOStaleRatio tracks the share of tasks served from stale snapshots in the last run (0-1)
	SLOStaleRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_stale_ratio",
			Help: "Ratio of tasks served from stale snapshots in the last run (0-1), target: <= 0.20",
		},
	)

	// SLODataAge tracks seconds since the last run that collected fresh data
	SLODataAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_data_age_seconds",
			Help: "Seconds since the last run with fresh data, target: <= 93600",
		},
	)
)

// UpdateTaskSuccess sets the task success ratio.
func UpdateTaskSuccess(ratio float64) {
	SLOTaskSuccess.Set(ratio)
}

// UpdateStaleRatio sets the stale serve ratio.
func UpdateStaleRatio(ratio float64) {
	SLOStaleRatio.Set(ratio)
}

// UpdateDataAge sets the data age from the time fresh data was last collected.
func UpdateDataAge(lastFresh, now time.Time) {
	if lastFresh.IsZero() {
		return
	}
	SLODataAge.Set(now.Sub(lastFresh).Seconds())
}

// ObserveRun updates the ratio gauges from the counts of one run.
// A run with no tasks leaves the gauges untouched.
func ObserveRun(total, succeeded, stale int) {
	if total <= 0 {
		return
	}
	UpdateTaskSuccess(float64(succeeded) / float64(total))
	UpdateStaleRatio(float64(stale) / float64(total))
}
