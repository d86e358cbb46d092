// Package persistence selects and opens the configured store.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/coursehub/learning-analytics/config"
	"github.com/coursehub/learning-analytics/internal/application"
	"github.com/coursehub/learning-analytics/internal/infrastructure/persistence/postgres"
	"github.com/coursehub/learning-analytics/internal/infrastructure/persistence/redis"
	"github.com/coursehub/learning-analytics/internal/infrastructure/persistence/sqlite"
	"github.com/coursehub/learning-analytics/pkg/circuitbreaker"
	"github.com/coursehub/learning-analytics/pkg/logger"
	"github.com/coursehub/learning-analytics/pkg/retry"
)

// Store is an opened database with its repositories.
type Store struct {
	Repositories application.Repositories
	Driver       string

	ping  func(context.Context) error
	close func()
}

// Ping checks the underlying database.
func (s *Store) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

// Close releases the database handle.
func (s *Store) Close() {
	s.close()
}

// Open connects to the configured database and, when enabled, applies
// migrations. The initial connection is retried.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}

	switch cfg.Driver {
	case config.DriverPostgres:
		return openPostgres(ctx, cfg, log)
	case config.DriverSQLite:
		return openSQLite(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*Store, error) {
	opts := postgres.DefaultPoolOptions()
	opts.MaxConns = cfg.MaxConns
	opts.MinConns = cfg.MinConns
	if cfg.ConnMaxLifetime > 0 {
		opts.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		opts.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}

	conn, err := retry.DoWithData(ctx, func(ctx context.Context) (*postgres.Connection, error) {
		return postgres.NewConnectionFromURL(ctx, cfg.URL, opts)
	},
		retry.WithMaxAttempts(5),
		retry.WithInitialDelay(500*time.Millisecond),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("database not ready", logger.Int("attempt", attempt), logger.Duration("retry_in", delay), logger.Err(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	analyticsRepo := postgres.NewAnalyticsRepository(conn)
	return &Store{
		Repositories: application.Repositories{
			Stats:        analyticsRepo,
			Views:        analyticsRepo,
			Engagements:  analyticsRepo,
			Demographics: analyticsRepo,
			Courses:      postgres.NewCourseRepository(conn),
			Progress:     postgres.NewProgressRepository(conn),
		},
		Driver: config.DriverPostgres,
		ping:   conn.Ping,
		close:  conn.Close,
	}, nil
}

func openSQLite(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*Store, error) {
	store, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	log.Info("sqlite store opened", logger.String("path", cfg.SQLitePath))

	analyticsRepo := sqlite.NewAnalyticsRepository(store)
	return &Store{
		Repositories: application.Repositories{
			Stats:        analyticsRepo,
			Views:        analyticsRepo,
			Engagements:  analyticsRepo,
			Demographics: analyticsRepo,
			Courses:      sqlite.NewCourseRepository(store),
			Progress:     sqlite.NewProgressRepository(store),
		},
		Driver: config.DriverSQLite,
		ping:   store.Ping,
		close:  func() { _ = store.Close() },
	}, nil
}

// OpenSummaryCache connects the Redis summary cache behind a circuit breaker.
// It returns nil with no error when the cache is disabled.
func OpenSummaryCache(cfg config.RedisConfig, log *logger.Logger) (*redis.SummaryCache, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}
	if log == nil {
		log = logger.Nop()
	}

	rc := redis.DefaultConfig()
	rc.Addr = cfg.Addr
	rc.Password = cfg.Password
	rc.DB = cfg.DB
	if cfg.PoolSize > 0 {
		rc.PoolSize = cfg.PoolSize
	}

	cache, err := redis.NewCache(rc)
	if err != nil {
		return nil, nil, err
	}
	breaker := circuitbreaker.New("summary-cache",
		circuitbreaker.WithFailureThreshold(3),
		circuitbreaker.WithCoolDown(15*time.Second),
		circuitbreaker.WithIsFailure(redis.IsCacheFailure),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
	)
	summaries := redis.NewSummaryCache(cache, cfg.SummaryTTL, redis.WithBreaker(breaker))
	return summaries, func() { _ = cache.Close() }, nil
}
