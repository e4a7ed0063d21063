package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deprecations-feed/internal/config"
	"deprecations-feed/internal/domain/entity"
	"deprecations-feed/internal/infra/adapter/persistence/kv"
	"deprecations-feed/internal/infra/enhancer"
	"deprecations-feed/internal/infra/storage"
	"deprecations-feed/internal/resilience/circuitbreaker"
	"deprecations-feed/internal/resilience/retry"
	"deprecations-feed/internal/usecase/cache"
	"deprecations-feed/internal/usecase/collect"
	"deprecations-feed/internal/usecase/enhance"
	"deprecations-feed/internal/usecase/notify"
)

func raw(provider, model string) entity.RawRecord {
	return entity.RawRecord{
		Provider:        provider,
		Model:           model,
		DeprecationDate: "2025-01-10",
		RetirementDate:  "2025-07-10",
		SourceURL:       "https://example.com/" + provider,
		Replacement:     model + "-next",
	}
}

func staticTask(name string, items ...entity.RawRecord) collect.Task {
	return collect.NewTask(name, func(context.Context) ([]entity.RawRecord, error) {
		return items, nil
	})
}

func newTestPipeline(t *testing.T, tasks []collect.Task, withEnhancer bool) (*pipeline, *cache.Manager) {
	t.Helper()
	fs, err := storage.NewFileSystem(t.TempDir())
	require.NoError(t, err)

	cm := cache.NewManager(fs, cache.Options{UseStaleOnError: true})
	store := kv.NewRecordRepo(fs, nil)

	cfg := collect.DefaultConfig()
	cfg.TimeoutPerTask = 2 * time.Second
	orchestrator := collect.NewOrchestrator(store, cfg,
		collect.WithSnapshots(cm, time.Hour),
		collect.WithRetryConfig(retry.Config{MaxAttempts: 1}))

	var svc *enhance.Service
	if withEnhancer {
		impl, err := enhancer.New(config.EnhancerConfig{Type: config.EnhancerTemplate})
		require.NoError(t, err)
		svc = enhance.NewService(impl, cm, time.Hour, 2)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &pipeline{
		orchestrator: orchestrator,
		tasks:        tasks,
		store:        store,
		cache:        cm,
		enhancer:     svc,
		purgeGrace:   time.Hour,
		logger:       logger,
		now:          time.Now,
	}, cm
}

func TestPipeline_Run(t *testing.T) {
	tasks := []collect.Task{
		staticTask("openai", raw("openai", "gpt-4-0314"), raw("openai", "gpt-3.5-turbo-0301")),
		staticTask("anthropic", raw("anthropic", "claude-2.0")),
	}
	p, cm := newTestPipeline(t, tasks, true)
	ctx := context.Background()

	summary, err := p.run(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, "success", summary.Status)
	assert.Equal(t, 3, summary.Records)
	assert.Zero(t, summary.Failed)

	openai, ok, err := cm.GetRecords(ctx, "openai", time.Now())
	require.NoError(t, err)
	require.True(t, ok, "provider snapshot must be published")
	assert.Len(t, openai, 2)

	providers, err := cm.Providers(ctx, time.Now())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"anthropic", "openai"}, providers)

	all, err := p.store.GetAll(ctx)
	require.NoError(t, err)
	for _, r := range all {
		enh, ok, err := p.enhancer.Lookup(ctx, r)
		require.NoError(t, err)
		require.True(t, ok, "changed record %s must be enhanced", r.Model)
		assert.Contains(t, enh.Summary, r.Model)
		assert.Equal(t, r.Replacement, enh.Replacement)
	}
}

// recordingNotifier captures notices instead of sending them.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []entity.Notice
	err     error
}

func (r *recordingNotifier) NotifyChanged(_ context.Context, notices []entity.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notices...)
	return r.err
}

func (r *recordingNotifier) Wait(context.Context) error                     { return nil }
func (r *recordingNotifier) GetChannelHealth() []notify.ChannelHealthStatus { return nil }
func (r *recordingNotifier) Shutdown(context.Context) error                 { return nil }

func TestPipeline_NotifiesChangedRecords(t *testing.T) {
	items := []entity.RawRecord{raw("openai", "gpt-4-0314")}
	task := collect.NewTask("openai", func(context.Context) ([]entity.RawRecord, error) { return items, nil })
	p, _ := newTestPipeline(t, []collect.Task{task}, true)
	rec := &recordingNotifier{}
	p.notifier = rec
	ctx := context.Background()

	summary, err := p.run(ctx)
	require.NoError(t, err)
	require.Len(t, rec.notices, 1)
	n := rec.notices[0]
	assert.Equal(t, summary.RunID, n.RunID)
	assert.Equal(t, "gpt-4-0314", n.Record.Model)
	require.NotNil(t, n.Enhancement, "the enhancement made in the same run is attached")
	assert.Contains(t, n.Enhancement.Summary, "gpt-4-0314")

	_, err = p.run(ctx)
	require.NoError(t, err)
	assert.Len(t, rec.notices, 1, "an unchanged record is not announced again")

	changed := raw("openai", "gpt-4-0314")
	changed.RetirementDate = "2025-09-10"
	items = []entity.RawRecord{changed}
	_, err = p.run(ctx)
	require.NoError(t, err)
	require.Len(t, rec.notices, 2)
	assert.Equal(t, "openai gpt-4-0314 retires 2025-09-10", rec.notices[1].Title())
}

func TestPipeline_LogsNotificationDispatchError(t *testing.T) {
	p, _ := newTestPipeline(t, []collect.Task{staticTask("openai", raw("openai", "gpt-4-0314"))}, false)
	var logs bytes.Buffer
	p.logger = slog.New(slog.NewTextHandler(&logs, nil))
	p.notifier = &recordingNotifier{err: errors.New("notify service is shut down")}

	summary, err := p.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "success", summary.Status)
	assert.Contains(t, logs.String(), "notification dispatch failed")
	assert.Contains(t, logs.String(), "notify service is shut down")
}

func TestPipeline_TracksDataFreshness(t *testing.T) {
	p, _ := newTestPipeline(t, []collect.Task{staticTask("openai", raw("openai", "gpt-4-0314"))}, false)

	_, err := p.run(context.Background())
	require.NoError(t, err)
	assert.False(t, p.lastFresh.IsZero())

	first := p.lastFresh
	p.observe(&collect.Result{Total: 1, Succeeded: 1, StaleTasks: []string{"openai"}}, first.Add(time.Hour))
	assert.Equal(t, first, p.lastFresh, "a stale-only run does not refresh the data age")
}

func TestPipeline_PartialFailure(t *testing.T) {
	boom := errors.New("layout changed")
	tasks := []collect.Task{
		staticTask("openai", raw("openai", "gpt-4-0314")),
		collect.NewTask("google", func(context.Context) ([]entity.RawRecord, error) { return nil, boom }),
	}
	p, _ := newTestPipeline(t, tasks, false)

	summary, err := p.run(context.Background())
	require.NoError(t, err, "task failures are reported in the summary")
	assert.Equal(t, "partial", summary.Status)
	assert.Equal(t, 1, summary.Failed)
}

func TestPipeline_FailFast(t *testing.T) {
	fs, err := storage.NewFileSystem(t.TempDir())
	require.NoError(t, err)
	cm := cache.NewManager(fs, cache.Options{})

	cfg := collect.DefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.FailFast = true
	cfg.RetryFailed = false
	p := &pipeline{
		orchestrator: collect.NewOrchestrator(kv.NewRecordRepo(fs, nil), cfg),
		tasks: []collect.Task{
			collect.NewTask("broken", func(context.Context) ([]entity.RawRecord, error) { return nil, errors.New("boom") }),
			staticTask("openai", raw("openai", "gpt-4-0314")),
		},
		store:  kv.NewRecordRepo(fs, nil),
		cache:  cm,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}

	summary, err := p.run(context.Background())
	var ff *collect.FailFastError
	require.True(t, errors.As(err, &ff))
	assert.Equal(t, "failed", summary.Status)
}

func TestBreakerHealthHandler(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		rec := httptest.NewRecorder()
		metricsMux(nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/breakers", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"healthy":true,"enabled":false,"open":[]}`, rec.Body.String())
	})

	t.Run("open circuit", func(t *testing.T) {
		reg := circuitbreaker.NewRegistry(func(name string) circuitbreaker.Config {
			cfg := collect.TaskBreakerConfig(name)
			cfg.ConsecutiveFailures = 1
			return cfg
		})
		_, _ = reg.Get("openai").Execute(func() (interface{}, error) { return nil, errors.New("down") })

		rec := httptest.NewRecorder()
		metricsMux(reg, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/breakers", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"healthy":false,"enabled":true,"open":["openai"]}`, rec.Body.String())
	})
}

type flakyChannel struct{}

func (flakyChannel) Name() string    { return "slack" }
func (flakyChannel) IsEnabled() bool { return true }
func (flakyChannel) Send(context.Context, entity.Notice) error {
	return errors.New("webhook down")
}

func TestChannelHealthHandler(t *testing.T) {
	t.Run("notifications off", func(t *testing.T) {
		rec := httptest.NewRecorder()
		metricsMux(nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/channels", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"healthy":true,"channels":[]}`, rec.Body.String())
	})

	t.Run("open channel breaker", func(t *testing.T) {
		svc := notify.NewService([]notify.Channel{flakyChannel{}}, notify.Options{
			Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
			Breakers: circuitbreaker.NewRegistry(func(name string) circuitbreaker.Config {
				cfg := circuitbreaker.NotifyChannelConfig(name)
				cfg.ConsecutiveFailures = 1
				return cfg
			}),
		})
		require.NoError(t, svc.NotifyChanged(context.Background(), []entity.Notice{
			{Record: entity.Record{Provider: "openai", Model: "gpt-4-0314"}},
		}))
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, svc.Wait(ctx))

		rec := httptest.NewRecorder()
		metricsMux(nil, svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/channels", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.JSONEq(t, `{"healthy":false,"channels":[{"name":"slack","enabled":true,"circuit_breaker_open":true}]}`,
			rec.Body.String())
	})
}

func TestGetMetricsPort(t *testing.T) {
	t.Setenv("METRICS_PORT", "")
	assert.Equal(t, 9090, metricsPort())
	t.Setenv("METRICS_PORT", "9191")
	assert.Equal(t, 9191, metricsPort())
	t.Setenv("METRICS_PORT", "nope")
	assert.Equal(t, 9090, metricsPort())
}
