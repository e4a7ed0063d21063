package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deprecations-feed/internal/config"
	"deprecations-feed/internal/infra/adapter/persistence/kv"
	"deprecations-feed/internal/infra/db"
	"deprecations-feed/internal/infra/enhancer"
	"deprecations-feed/internal/infra/notifier"
	"deprecations-feed/internal/infra/source"
	"deprecations-feed/internal/infra/storage"
	workerPkg "deprecations-feed/internal/infra/worker"
	"deprecations-feed/internal/observability/logging"
	envconfig "deprecations-feed/internal/pkg/config"
	"deprecations-feed/internal/resilience/circuitbreaker"
	"deprecations-feed/internal/usecase/cache"
	"deprecations-feed/internal/usecase/collect"
	"deprecations-feed/internal/usecase/enhance"
	"deprecations-feed/internal/usecase/notify"
)

// notifyFlushTimeout bounds how long a one-shot run waits for queued
// notifications before exiting.
const notifyFlushTimeout = 2 * time.Minute

// settings groups the component configurations read at startup.
type settings struct {
	cache     config.CacheConfig
	collector config.CollectorConfig
	enhancer  config.EnhancerConfig
	notify    config.NotifyConfig
}

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("worker exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load worker configuration (fail-open strategy)
	workerMetrics := workerPkg.NewWorkerMetrics()
	workerConfig, err := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	if err != nil {
		return fmt.Errorf("load worker configuration: %w", err)
	}
	logger.Info("worker configuration loaded",
		slog.String("cron_schedule", workerConfig.CronSchedule),
		slog.String("timezone", workerConfig.Timezone),
		slog.Duration("run_timeout", workerConfig.RunTimeout),
		slog.Int("health_port", workerConfig.HealthPort),
		slog.Bool("run_once", workerConfig.RunOnce))

	cfg, err := loadSettings(logger)
	if err != nil {
		return err
	}

	var database *sql.DB
	if cfg.cache.ResolvedBackend() == config.BackendPostgres {
		database, err = initDatabase(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				logger.Error("failed to close database", slog.Any("error", err))
			}
		}()
	}

	backend, kind, err := storage.Select(cfg.cache, database)
	if err != nil {
		return fmt.Errorf("select cache backend: %w", err)
	}
	logger.Info("cache backend selected", slog.String("backend", string(kind)))

	cacheManager := cache.NewManager(backend, cache.Options{
		DefaultTTL:      cfg.cache.DefaultTTL,
		RecordTTL:       cfg.cache.RecordTTL,
		UseStaleOnError: cfg.cache.UseStale,
		Logger:          logger,
	})
	store := kv.NewRecordRepo(backend, nil)

	catalog, err := source.LoadCatalog(cfg.collector.SourcesFile)
	if err != nil {
		return err
	}
	client := source.NewClient(cfg.collector, cacheManager)
	tasks := catalog.Tasks(client)
	logger.Info("source catalogue loaded",
		slog.String("path", cfg.collector.SourcesFile),
		slog.Int("sources", len(catalog.Sources)),
		slog.Int("enabled", len(tasks)))

	var breakers *circuitbreaker.Registry
	if cfg.collector.Breakers {
		breakers = circuitbreaker.NewRegistry(collect.TaskBreakerConfig)
	}
	orchestrator := collect.NewOrchestrator(store, collect.Config{
		MaxConcurrent:  cfg.collector.MaxConcurrent,
		TimeoutPerTask: cfg.collector.TaskTimeout,
		FailFast:       cfg.collector.FailFast,
		RetryFailed:    cfg.collector.RetryFailed,
	},
		collect.WithSnapshots(cacheManager, cfg.cache.DefaultTTL),
		collect.WithBreakers(breakers),
		collect.WithLogger(logger),
	)

	enhanceService, err := setupEnhancer(logger, cfg.enhancer, cacheManager)
	if err != nil {
		return err
	}

	notifyService := setupNotifier(logger, cfg.notify)
	if notifyService != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.notify.Timeout)
			defer cancel()
			if err := notifyService.Shutdown(shutdownCtx); err != nil {
				logger.Warn("notification shutdown incomplete", slog.Any("error", err))
			}
		}()
	}

	p := &pipeline{
		orchestrator: orchestrator,
		tasks:        tasks,
		store:        store,
		cache:        cacheManager,
		enhancer:     enhanceService,
		notifier:     notifyService,
		purgeGrace:   cfg.cache.PurgeGrace,
		logger:       logger,
		now:          time.Now,
	}

	go func() {
		if err := runMetricsServer(ctx, logger, breakers, notifyService); err != nil {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	healthServer := workerPkg.NewHealthServer(fmt.Sprintf(":%d", workerConfig.HealthPort), logger)
	go func() {
		if err := healthServer.Start(ctx); err != nil {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()

	runner := workerPkg.NewRunner(p.run, *workerConfig, workerMetrics, healthServer, logger)
	if workerConfig.RunOnce {
		summary, err := runner.RunOnce(ctx)
		if notifyService != nil {
			flushCtx, cancel := context.WithTimeout(ctx, notifyFlushTimeout)
			if werr := notifyService.Wait(flushCtx); werr != nil {
				logger.Warn("pending notifications not delivered", slog.Any("error", werr))
			}
			cancel()
		}
		if err != nil {
			return err
		}
		if summary.Status == "failed" {
			return fmt.Errorf("run %s failed: %d task(s) failed", summary.RunID, summary.Failed)
		}
		return nil
	}
	return runner.Schedule(ctx)
}

// loadSettings reads every component configuration. Invalid values fall
// back to their defaults with a warning; a configuration that cannot run
// at all is an error.
func loadSettings(logger *slog.Logger) (settings, error) {
	l := envconfig.NewLoader(envconfig.NewConfigMetrics("collector"))
	cfg := settings{
		cache:     config.LoadCacheConfig(l),
		collector: config.LoadCollectorConfig(l),
		enhancer:  config.LoadEnhancerConfig(l),
		notify:    config.LoadNotifyConfig(l, logger),
	}
	l.Finish()
	for _, warning := range l.Warnings {
		logger.Warn("Configuration fallback applied", slog.String("warning", warning))
	}

	if err := cfg.cache.Validate(); err != nil {
		return cfg, fmt.Errorf("cache configuration: %w", err)
	}
	if err := cfg.collector.Validate(); err != nil {
		return cfg, fmt.Errorf("collector configuration: %w", err)
	}
	if err := cfg.enhancer.Validate(); err != nil {
		return cfg, fmt.Errorf("enhancer configuration: %w", err)
	}
	return cfg, nil
}

// initDatabase opens the postgres connection and applies the cache schema.
func initDatabase(ctx context.Context) (*sql.DB, error) {
	database, err := db.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.MigrateUp(ctx, database); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return database, nil
}

// setupEnhancer returns nil when enhancement is disabled.
func setupEnhancer(logger *slog.Logger, cfg config.EnhancerConfig, cm *cache.Manager) (*enhance.Service, error) {
	impl, err := enhancer.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create enhancer: %w", err)
	}
	if impl == nil {
		logger.Info("record enhancement disabled")
		return nil, nil
	}
	logger.Info("record enhancement enabled",
		slog.String("enhancer", impl.Name()),
		slog.Int("parallelism", cfg.Parallelism),
		slog.Duration("cache_ttl", cfg.CacheTTL))
	return enhance.NewService(impl, cm, cfg.CacheTTL, cfg.Parallelism), nil
}

// setupNotifier returns nil when no notification channel is enabled.
func setupNotifier(logger *slog.Logger, cfg config.NotifyConfig) notify.Service {
	if !cfg.AnyEnabled() {
		logger.Info("notifications disabled")
		return nil
	}
	channels := []notify.Channel{
		notify.NewDiscordChannel(notifier.DiscordConfig{
			Enabled:    cfg.Discord.Enabled,
			WebhookURL: cfg.Discord.WebhookURL,
			Timeout:    cfg.Timeout,
		}),
		notify.NewSlackChannel(notifier.SlackConfig{
			Enabled:    cfg.Slack.Enabled,
			WebhookURL: cfg.Slack.WebhookURL,
			Timeout:    cfg.Timeout,
		}),
	}
	logger.Info("notifications enabled",
		slog.Bool("discord", cfg.Discord.Enabled),
		slog.Bool("slack", cfg.Slack.Enabled),
		slog.Int("max_per_run", cfg.MaxPerRun))
	return notify.NewService(channels, notify.Options{
		MaxConcurrent:       cfg.MaxConcurrent,
		MaxPerRun:           cfg.MaxPerRun,
		NotificationTimeout: cfg.Timeout,
		Logger:              logger,
	})
}
