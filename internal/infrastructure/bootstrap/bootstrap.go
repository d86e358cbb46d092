// Package bootstrap assembles the analytics service from configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/coursehub/learning-analytics/config"
	"github.com/coursehub/learning-analytics/internal/application"
	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/internal/infrastructure/persistence"
	"github.com/coursehub/learning-analytics/internal/infrastructure/persistence/redis"
	"github.com/coursehub/learning-analytics/internal/infrastructure/scheduler/jobs"
	"github.com/coursehub/learning-analytics/internal/infrastructure/telemetry"
	"github.com/coursehub/learning-analytics/pkg/logger"
)

// App is a wired service together with the resources it holds.
type App struct {
	Service *application.Service
	Store   *persistence.Store

	// Metrics is nil when metrics are disabled.
	Metrics *telemetry.Metrics

	// Cache is nil when Redis is disabled or unreachable at startup.
	Cache *redis.SummaryCache

	closers []func()
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// New opens the store and the optional cache and builds the service.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	app := &App{}

	store, err := persistence.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.closers = append(app.closers, store.Close)

	if err := store.Ping(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database ready", logger.String("driver", store.Driver))

	opts := application.Options{
		MergePolicy:        cfg.MergePolicy(),
		Logger:             log,
		DefaultRangeDays:   cfg.Analytics.DefaultRangeDays,
		DefaultBucketLimit: cfg.Analytics.DefaultBucketLimit,
	}
	if cfg.Analytics.SyntheticSeed != 0 {
		opts.Synthesizer = analytics.NewSeededSynthesizer(cfg.Analytics.SyntheticSeed)
	}

	if cfg.Observability.MetricsEnabled {
		app.Metrics = telemetry.NewMetrics(nil, log)
		opts.Metrics = app.Metrics
	}

	cache, closeCache, err := persistence.OpenSummaryCache(cfg.Redis, log)
	if err != nil {
		// The cache is an optimisation; run without it.
		log.Warn("redis unavailable, summary caching disabled", logger.Err(err))
	} else if cache != nil {
		app.Cache = cache
		opts.SummaryCache = cache
		app.closers = append(app.closers, closeCache)
		log.Info("summary cache enabled", logger.String("addr", cfg.Redis.Addr))
	}

	app.Service = application.NewService(store.Repositories, opts)
	return app, nil
}

// HealthChecks returns the readiness checks for the opened resources.
func (a *App) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"database": a.Store.Ping,
	}
	if a.Cache != nil {
		checks["summary_cache"] = a.Cache.Ping
	}
	return checks
}

// SweepMetrics returns the sweep metrics sink, or nil when disabled.
func (a *App) SweepMetrics() jobs.SweepMetrics {
	if a.Metrics == nil {
		return nil
	}
	return a.Metrics
}
