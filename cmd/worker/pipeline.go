package main

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"deprecations-feed/internal/domain/entity"
	workerPkg "deprecations-feed/internal/infra/worker"
	"deprecations-feed/internal/observability/metrics"
	"deprecations-feed/internal/observability/slo"
	"deprecations-feed/internal/repository"
	"deprecations-feed/internal/usecase/cache"
	"deprecations-feed/internal/usecase/collect"
	"deprecations-feed/internal/usecase/enhance"
	"deprecations-feed/internal/usecase/notify"
)

// pipeline is the job the worker schedules: collect every source, publish
// per-provider snapshots, enhance and announce what changed and purge old
// cache entries.
type pipeline struct {
	orchestrator *collect.Orchestrator
	tasks        []collect.Task
	store        repository.RecordRepository
	cache        *cache.Manager
	enhancer     *enhance.Service // nil when ENHANCER_TYPE=none
	notifier     notify.Service   // nil when no channel is enabled
	purgeGrace   time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	lastFresh time.Time
}

// run implements workerPkg.Job.
func (p *pipeline) run(ctx context.Context) (workerPkg.Summary, error) {
	res, runErr := p.orchestrator.Run(ctx, p.tasks)
	if res == nil {
		return workerPkg.Summary{}, runErr
	}

	summary := workerPkg.Summary{
		RunID:   res.RunID,
		Status:  metrics.RunStatus(res.Succeeded, res.Failed),
		Records: res.Records,
		Failed:  res.Failed,
	}
	logger := p.logger.With(slog.String("run_id", res.RunID))
	now := p.now()

	stored, err := p.publishSnapshots(ctx, now)
	if err != nil {
		logger.Error("failed to publish provider snapshots", slog.Any("error", err))
	} else {
		metrics.SetRecordsStored(stored)
	}

	var enhanced []enhance.Enhanced
	if p.enhancer != nil && len(res.Changed) > 0 {
		if enhanced, _, err = p.enhancer.EnhanceChanged(ctx, res.Changed); err != nil {
			logger.Warn("enhancement aborted", slog.Any("error", err))
		}
	}

	if p.notifier != nil && len(res.Changed) > 0 {
		if err := p.notifier.NotifyChanged(notify.WithRequestID(ctx, res.RunID), notices(res.RunID, res.Changed, enhanced)); err != nil {
			logger.Warn("notification dispatch failed", slog.Any("error", err))
		}
	}

	p.observe(res, now)

	if n, err := p.cache.Purge(ctx, p.purgeGrace); err != nil {
		logger.Warn("cache purge failed", slog.Any("error", err))
	} else if n > 0 {
		logger.Info("purged expired cache entries", slog.Int("removed", n))
	}

	var ff *collect.FailFastError
	if errors.As(runErr, &ff) {
		summary.Status = "failed"
	}
	return summary, runErr
}

// notices pairs each changed record with its enhancement, if one was made.
func notices(runID string, changed []entity.Record, enhanced []enhance.Enhanced) []entity.Notice {
	byHash := make(map[string]entity.Enhancement, len(enhanced))
	for _, e := range enhanced {
		byHash[e.Record.FullHash()] = e.Enhancement
	}

	out := make([]entity.Notice, 0, len(changed))
	for _, r := range changed {
		n := entity.Notice{RunID: runID, Record: r}
		if enh, ok := byHash[r.FullHash()]; ok {
			n.Enhancement = &enh
		}
		out = append(out, n)
	}
	return out
}

// publishSnapshots writes today's per-provider record snapshots and returns
// the number of stored records.
func (p *pipeline) publishSnapshots(ctx context.Context, now time.Time) (int, error) {
	all, err := p.store.GetAll(ctx)
	if err != nil {
		return 0, err
	}

	byProvider := make(map[string][]entity.Record)
	for _, r := range all {
		byProvider[r.Provider] = append(byProvider[r.Provider], r)
	}
	providers := make([]string, 0, len(byProvider))
	for provider := range byProvider {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	var errs []error
	for _, provider := range providers {
		if err := p.cache.SaveRecords(ctx, provider, now, byProvider[provider]); err != nil {
			errs = append(errs, err)
		}
	}
	return len(all), errors.Join(errs...)
}

// observe updates the SLO gauges. Data counts as fresh when at least one
// task succeeded without falling back to a stale snapshot.
func (p *pipeline) observe(res *collect.Result, now time.Time) {
	slo.ObserveRun(res.Total, res.Succeeded, len(res.StaleTasks))

	p.mu.Lock()
	defer p.mu.Unlock()
	if res.Succeeded > len(res.StaleTasks) {
		p.lastFresh = now
	}
	slo.UpdateDataAge(p.lastFresh, now)
}
