package metrics

import (
	"strconv"
	"time"
)

// RecordRun records the status and duration of one orchestration run.
// status is "success" when every task succeeded, "partial" when some failed
// and "failed" when none succeeded.
func RecordRun(status string, duration time.Duration) {
	CollectorRunsTotal.WithLabelValues(status).Inc()
	CollectorRunDuration.Observe(duration.Seconds())
}

// RunStatus derives the run status label from task counts.
func RunStatus(succeeded, failed int) string {
	switch {
	case failed == 0:
		return "success"
	case succeeded == 0:
		return "failed"
	default:
		return "partial"
	}
}

// RecordTaskOutcome records the outcome and duration of one task.
func RecordTaskOutcome(task, outcome string, duration time.Duration) {
	CollectorTasksTotal.WithLabelValues(task, outcome).Inc()
	CollectorTaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// RecordItemValidationError counts a raw item rejected for task.
func RecordItemValidationError(task string) {
	ItemValidationErrorsTotal.WithLabelValues(task).Inc()
}

// RecordMerge adds the counts of one store merge.
func RecordMerge(inserted, updated, unchanged int) {
	RecordsMergedTotal.WithLabelValues("new").Add(float64(inserted))
	RecordsMergedTotal.WithLabelValues("updated").Add(float64(updated))
	RecordsMergedTotal.WithLabelValues("unchanged").Add(float64(unchanged))
}

// SetRecordsStored sets the current size of the record collection.
func SetRecordsStored(n int) {
	RecordsStored.Set(float64(n))
}

// RecordCacheLookup counts one cache lookup outcome.
func RecordCacheLookup(outcome string) {
	CacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordCachePurge adds the number of entries removed by a purge.
func RecordCachePurge(n int) {
	CachePurgedTotal.Add(float64(n))
}

// RecordSourceRequest records one source HTTP request. A status of 0 means
// the request failed before a response arrived.
func RecordSourceRequest(host string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	SourceRequestsTotal.WithLabelValues(host, label).Inc()
	SourceRequestDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// RecordSourceHTTPCache counts one conditional cache result for host.
func RecordSourceHTTPCache(host, result string) {
	SourceHTTPCacheTotal.WithLabelValues(host, result).Inc()
}

// RecordEnhancement records one enhancement API call.
func RecordEnhancement(provider string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	EnhancerRequestsTotal.WithLabelValues(provider, status).Inc()
	EnhancerRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordEnhancementCacheHit counts an enhancement served from the cache.
func RecordEnhancementCacheHit() {
	EnhancerCacheHitsTotal.Inc()
}
