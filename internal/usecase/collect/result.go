package collect

import (
	"time"

	"deprecations-feed/internal/domain/entity"
)

// Result summarises one orchestration run. It is built by Run and not
// modified afterwards.
type Result struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`

	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`

	// StaleTasks lists tasks that failed but were served from their last
	// good snapshot. They are counted as succeeded.
	StaleTasks []string `json:"stale_tasks,omitempty"`

	Errors     []TaskError `json:"errors,omitempty"`
	ItemErrors []TaskError `json:"item_errors,omitempty"`

	// Records is the number of valid records produced by successful tasks.
	Records   int `json:"records"`
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	// Changed holds the records inserted or updated by this run.
	Changed []entity.Record `json:"-"`

	Duration time.Duration `json:"duration"`
}

// SuccessRate returns Succeeded/Total, or 1 for an empty run.
func (r *Result) SuccessRate() float64 {
	if r.Total == 0 {
		return 1
	}
	return float64(r.Succeeded) / float64(r.Total)
}

// HasFailures reports whether any task failed.
func (r *Result) HasFailures() bool {
	return r.Failed > 0
}

// ChangedProviders lists the distinct providers among the changed records.
func (r *Result) ChangedProviders() []string {
	seen := map[string]bool{}
	var out []string
	for _, rec := range r.Changed {
		if !seen[rec.Provider] {
			seen[rec.Provider] = true
			out = append(out, rec.Provider)
		}
	}
	return out
}
