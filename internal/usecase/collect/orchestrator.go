// Package collect runs independent collection tasks under a concurrency cap
// and per-task timeouts and merges their records into a RecordRepository.
package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/observability/logging"
	"deprecations-feed/internal/observability/metrics"
	"deprecations-feed/internal/observability/tracing"
	"deprecations-feed/internal/repository"
	"deprecations-feed/internal/resilience/circuitbreaker"
	"deprecations-feed/internal/resilience/retry"
	"deprecations-feed/internal/usecase/cache"
)

// Orchestrator runs collection tasks and merges their output.
// A long-lived Orchestrator keeps its circuit breakers across runs.
type Orchestrator struct {
	store       repository.RecordRepository
	cfg         Config
	retryCfg    retry.Config
	breakers    *circuitbreaker.Registry
	snapshots   *cache.Manager
	snapshotTTL time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSnapshots stores every successful task output under
// "snapshots:<task>" and serves it when a later run of the task fails and
// the manager allows stale fallback.
func WithSnapshots(m *cache.Manager, ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.snapshots = m
		if ttl > 0 {
			o.snapshotTTL = ttl
		}
	}
}

// WithBreakers routes every attempt through the breaker registered for the
// task name. A nil registry disables breakers.
func WithBreakers(r *circuitbreaker.Registry) Option {
	return func(o *Orchestrator) { o.breakers = r }
}

// WithRetryConfig overrides the backoff between attempts.
func WithRetryConfig(cfg retry.Config) Option {
	return func(o *Orchestrator) { o.retryCfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the clock used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator creates an Orchestrator merging into store.
func NewOrchestrator(store repository.RecordRepository, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		cfg:         cfg,
		retryCfg:    retry.CollectTaskConfig(),
		snapshotTTL: cache.DefaultTTL,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// TaskBreakerConfig is the breaker configuration used for collection tasks.
// Cancellations do not count against the circuit.
func TaskBreakerConfig(task string) circuitbreaker.Config {
	cfg := circuitbreaker.CollectTaskConfig(task)
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, context.Canceled)
	}
	return cfg
}

// outcome is what one task produced.
type outcome struct {
	task     string
	items    []entity.RawRecord
	origin   cache.Origin
	err      error
	attempts int
	duration time.Duration
}

// Run executes tasks and returns the run summary. Task failures are
// reported in the Result, not as an error. Run returns an error only for an
// invalid configuration, or a *FailFastError together with the partial
// Result when fail-fast stopped the run.
func (o *Orchestrator) Run(ctx context.Context, tasks []Task) (*Result, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	res := &Result{
		RunID:     uuid.NewString(),
		StartedAt: o.now().UTC(),
		Total:     len(tasks),
	}
	start := time.Now()

	ctx = logging.ContextWithRunID(ctx, res.RunID)
	logger := logging.WithRunID(ctx, o.logger)
	ctx, span := tracing.StartSpan(ctx, "collect.run",
		attribute.String("run_id", res.RunID),
		attribute.Int("tasks", len(tasks)),
		attribute.Int("max_concurrent", o.cfg.MaxConcurrent),
		attribute.Bool("fail_fast", o.cfg.FailFast),
	)
	defer span.End()

	logger.Info("collection run started",
		slog.Int("tasks", len(tasks)),
		slog.Int("max_concurrent", o.cfg.MaxConcurrent),
		slog.Duration("timeout_per_task", o.cfg.TimeoutPerTask),
		slog.Bool("fail_fast", o.cfg.FailFast))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.cfg.MaxConcurrent)

	// merges are applied one at a time; mu also guards res
	var mu sync.Mutex
	mergeCtx := context.WithoutCancel(ctx)

	for _, task := range tasks {
		task := task
		eg.Go(func() error {
			var out outcome
			if egCtx.Err() != nil {
				out = outcome{task: task.Name(), err: egCtx.Err()}
			} else {
				out = o.runTask(egCtx, task)
			}

			mu.Lock()
			defer mu.Unlock()
			taskErr := o.apply(mergeCtx, logger, res, out)
			if taskErr != nil && taskErr.Kind != KindCancelled && o.cfg.FailFast {
				return taskErr
			}
			return nil
		})
	}

	waitErr := eg.Wait()
	res.Duration = time.Since(start)

	status := metrics.RunStatus(res.Succeeded, res.Failed)
	metrics.RecordRun(status, res.Duration)
	span.SetAttributes(
		attribute.Int("succeeded", res.Succeeded),
		attribute.Int("failed", res.Failed),
		attribute.Int("new", res.New),
		attribute.Int("updated", res.Updated),
	)

	logger.Info("collection run completed",
		slog.String("status", status),
		slog.Int("total", res.Total),
		slog.Int("succeeded", res.Succeeded),
		slog.Int("failed", res.Failed),
		slog.Int("cancelled", res.Cancelled),
		slog.Int("stale", len(res.StaleTasks)),
		slog.Int("records", res.Records),
		slog.Int("new", res.New),
		slog.Int("updated", res.Updated),
		slog.Int("item_errors", len(res.ItemErrors)),
		slog.Duration("duration", res.Duration))

	if waitErr != nil {
		var te *TaskError
		if errors.As(waitErr, &te) {
			ffErr := &FailFastError{Cause: *te}
			tracing.RecordError(span, ffErr)
			return res, ffErr
		}
		return res, waitErr
	}
	return res, nil
}

// runTask produces the task's items with retries, breaker and snapshot fallback.
func (o *Orchestrator) runTask(ctx context.Context, task Task) outcome {
	name := task.Name()
	ctx, span := tracing.StartSpan(ctx, "collect.task", attribute.String("task", name))
	defer span.End()

	start := time.Now()
	out := outcome{task: name}

	produce := func(ctx context.Context) ([]entity.RawRecord, error) {
		var items []entity.RawRecord
		cfg := o.retryCfg
		cfg.Retryable = func(err error) bool { return ctx.Err() == nil && retryable(err) }
		if !o.cfg.RetryFailed {
			cfg.MaxAttempts = 1
		}
		err := retry.WithBackoff(ctx, cfg, func() error {
			out.attempts++
			got, err := o.attempt(ctx, task)
			if err != nil {
				return err
			}
			items = got
			return nil
		})
		return items, err
	}

	if o.snapshots != nil {
		out.items, out.origin, out.err = cache.GetWithFallback[[]entity.RawRecord](
			ctx, o.snapshots, cache.SnapshotKey(name),
			cache.ProducerFunc[[]entity.RawRecord](produce),
			o.snapshotTTL, o.snapshots.UseStaleOnError(),
		)
		if out.origin == cache.OriginStale && ctx.Err() != nil {
			// a cancelled run does not count stale serves as success
			out.items, out.origin, out.err = nil, cache.OriginNone, ctx.Err()
		}
	} else {
		out.items, out.err = produce(ctx)
		if out.err == nil {
			out.origin = cache.OriginFresh
		}
	}

	out.duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("attempts", out.attempts),
		attribute.String("origin", out.origin.String()),
		attribute.Int("items", len(out.items)),
	)
	tracing.RecordError(span, out.err)
	return out
}

// attempt runs one bounded attempt of task.
func (o *Orchestrator) attempt(ctx context.Context, task Task) ([]entity.RawRecord, error) {
	call := func() (interface{}, error) {
		return o.invoke(ctx, task)
	}
	if o.breakers == nil {
		items, err := call()
		return asItems(items), err
	}
	items, err := o.breakers.Get(task.Name()).Execute(call)
	if err != nil {
		return nil, fmt.Errorf("circuit %s: %w", task.Name(), err)
	}
	return asItems(items), nil
}

func asItems(v interface{}) []entity.RawRecord {
	items, _ := v.([]entity.RawRecord)
	return items
}

// invoke calls task.Produce under TimeoutPerTask. A task that ignores its
// context is abandoned when the deadline passes.
func (o *Orchestrator) invoke(ctx context.Context, task Task) ([]entity.RawRecord, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.TimeoutPerTask)
	defer cancel()

	type produced struct {
		items []entity.RawRecord
		err   error
	}
	done := make(chan produced, 1)
	go func() {
		items, err := task.Produce(attemptCtx)
		done <- produced{items: items, err: err}
	}()

	select {
	case p := <-done:
		if p.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %v", ErrTaskTimeout, o.cfg.TimeoutPerTask, p.err)
		}
		return p.items, p.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrTaskTimeout, o.cfg.TimeoutPerTask)
	}
}

// apply records one outcome in res and merges its records. It returns the
// task error when the task did not succeed. Callers hold the merge lock.
func (o *Orchestrator) apply(ctx context.Context, logger *slog.Logger, res *Result, out outcome) *TaskError {
	logger = logger.With(slog.String("task", out.task))

	if out.err != nil {
		te := TaskError{
			Task:     out.task,
			Kind:     Classify(out.err),
			Message:  out.err.Error(),
			Attempts: out.attempts,
			Err:      out.err,
		}
		if te.Kind == KindCancelled {
			res.Cancelled++
			metrics.RecordTaskOutcome(out.task, metrics.OutcomeCancelled, out.duration)
			logger.Info("task cancelled")
			return &te
		}
		res.Failed++
		res.Errors = append(res.Errors, te)
		outcomeLabel := metrics.OutcomeFailure
		if te.Kind == KindTimeout {
			outcomeLabel = metrics.OutcomeTimeout
		}
		metrics.RecordTaskOutcome(out.task, outcomeLabel, out.duration)
		logger.Warn("task failed",
			slog.String("kind", string(te.Kind)),
			slog.Int("attempts", out.attempts),
			slog.Any("error", out.err))
		return &te
	}

	now := o.now()
	records := make([]entity.Record, 0, len(out.items))
	for i, raw := range out.items {
		r, err := entity.NewRecord(raw, now)
		if err != nil {
			res.ItemErrors = append(res.ItemErrors, TaskError{
				Task:    out.task,
				Kind:    KindValidation,
				Message: err.Error(),
				Item:    i + 1,
				Err:     err,
			})
			metrics.RecordItemValidationError(out.task)
			logger.Debug("item rejected",
				slog.Int("item", i+1),
				slog.String("model", raw.Model),
				slog.Any("error", err))
			continue
		}
		records = append(records, r)
	}

	stored, err := o.store.Store(ctx, records)
	if err != nil {
		te := TaskError{
			Task:     out.task,
			Kind:     KindStorage,
			Message:  err.Error(),
			Attempts: out.attempts,
			Err:      err,
		}
		res.Failed++
		res.Errors = append(res.Errors, te)
		metrics.RecordTaskOutcome(out.task, metrics.OutcomeFailure, out.duration)
		logger.Error("failed to merge task records", slog.Any("error", err))
		return &te
	}

	res.Succeeded++
	res.Records += len(records)
	res.New += stored.Inserted
	res.Updated += stored.Updated
	res.Unchanged += stored.Unchanged
	res.Changed = append(res.Changed, stored.Changed...)
	metrics.RecordMerge(stored.Inserted, stored.Updated, stored.Unchanged)

	outcomeLabel := metrics.OutcomeSuccess
	if out.origin == cache.OriginStale {
		res.StaleTasks = append(res.StaleTasks, out.task)
		outcomeLabel = metrics.OutcomeStale
	}
	metrics.RecordTaskOutcome(out.task, outcomeLabel, out.duration)

	logger.Info("task completed",
		slog.String("origin", out.origin.String()),
		slog.Int("items", len(out.items)),
		slog.Int("records", len(records)),
		slog.Int("new", stored.Inserted),
		slog.Int("updated", stored.Updated),
		slog.Int("attempts", out.attempts),
		slog.Duration("duration", out.duration))
	return nil
}
