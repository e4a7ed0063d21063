package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrRunInProgress is returned when a run is triggered while another is active.
var ErrRunInProgress = errors.New("run already in progress")

// Summary is what a job reports back to the runner.
type Summary struct {
	RunID   string
	Status  string
	Records int
	Failed  int
}

// Job performs one collection run.
type Job func(ctx context.Context) (Summary, error)

// Runner executes a Job with a timeout, one run at a time, and records the
// outcome in metrics and the health server.
type Runner struct {
	job     Job
	cfg     WorkerConfig
	metrics *WorkerMetrics
	health  *HealthServer
	logger  *slog.Logger
	running atomic.Bool
}

// NewRunner creates a Runner. metrics and health may be nil.
func NewRunner(job Job, cfg WorkerConfig, metrics *WorkerMetrics, health *HealthServer, logger *slog.Logger) *Runner {
	return &Runner{job: job, cfg: cfg, metrics: metrics, health: health, logger: logger}
}

// RunOnce executes the job once. An overlapping call returns ErrRunInProgress
// without running.
func (r *Runner) RunOnce(ctx context.Context) (Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.recordStatus("skipped")
		r.logger.Warn("skipping run, previous run still in progress")
		return Summary{}, ErrRunInProgress
	}
	defer r.running.Store(false)

	start := time.Now()
	r.recordStatus("started")
	r.logger.Info("collection run started")

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout)
	defer cancel()

	summary, err := r.job(ctx)
	duration := time.Since(start)
	if summary.Status == "" {
		summary.Status = "success"
		if err != nil {
			summary.Status = "failed"
		}
	}

	if r.metrics != nil {
		r.metrics.RecordJobDuration(duration.Seconds())
		r.metrics.RecordRecordsCollected(summary.Records)
		if err == nil && summary.Status != "failed" {
			r.metrics.RecordLastSuccess()
		}
	}
	r.recordStatus(summary.Status)
	if r.health != nil {
		r.health.SetLastRun(RunStatus{
			RunID:      summary.RunID,
			Status:     summary.Status,
			FinishedAt: time.Now().UTC(),
			Duration:   duration,
			Records:    summary.Records,
			Failed:     summary.Failed,
		})
	}

	if err != nil {
		r.logger.Error("collection run failed",
			slog.String("run_id", summary.RunID),
			slog.Duration("duration", duration),
			slog.Any("error", err))
		return summary, err
	}
	r.logger.Info("collection run completed",
		slog.String("run_id", summary.RunID),
		slog.String("status", summary.Status),
		slog.Int("records", summary.Records),
		slog.Duration("duration", duration))
	return summary, nil
}

// Schedule runs the job on the configured cron schedule until ctx is
// cancelled, then waits for an in-flight run to finish.
func (r *Runner) Schedule(ctx context.Context) error {
	c := cron.New(cron.WithLocation(r.cfg.Location()))
	if _, err := c.AddFunc(r.cfg.CronSchedule, func() {
		_, _ = r.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}
	c.Start()

	if r.health != nil {
		r.health.SetReady(true)
	}
	r.logger.Info("worker started",
		slog.String("schedule", r.cfg.CronSchedule),
		slog.String("timezone", r.cfg.Timezone))

	<-ctx.Done()
	if r.health != nil {
		r.health.SetReady(false)
	}
	<-c.Stop().Done()
	r.logger.Info("worker stopped")
	return nil
}

func (r *Runner) recordStatus(status string) {
	if r.metrics != nil {
		r.metrics.RecordJobRun(status)
	}
}
