// Package main is the background worker of the learning analytics engine.
//
// The worker keeps the daily course rollups current:
// - a scheduled sweep recomputes yesterday and today for every active course
// - "-backfill N" recomputes the last N days once and exits
// - an ops endpoint reports liveness, readiness and the last sweep result
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coursehub/learning-analytics/config"
	"github.com/coursehub/learning-analytics/internal/infrastructure/bootstrap"
	"github.com/coursehub/learning-analytics/internal/infrastructure/scheduler"
	"github.com/coursehub/learning-analytics/internal/infrastructure/scheduler/jobs"
	ops "github.com/coursehub/learning-analytics/internal/interface/http"
	"github.com/coursehub/learning-analytics/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	backfill := flag.Int("backfill", 0, "recompute the last N days of rollups and exit")
	envFile := flag.String("env", ".env", "dotenv file to load before the environment")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envFile, *backfill); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envFile string, backfill int) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(cfg.LoggerOptions())
	log.Info("starting analytics worker",
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
		logger.String("driver", cfg.Database.Driver),
		logger.String("progress_merge", cfg.Analytics.ProgressMerge),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. STORE, CACHE, SERVICE
	// ─────────────────────────────────────────────────────────────────────────
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing resources...")
		app.Close()
	}()

	sweep := jobs.NewRollupSweepJob(app.Service, app.SweepMetrics(), jobs.RollupSweepConfig{
		Concurrency: cfg.Scheduler.Concurrency,
		MaxAttempts: cfg.Scheduler.MaxAttempts,
	}, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ONE-SHOT BACKFILL
	// ─────────────────────────────────────────────────────────────────────────
	if backfill > 0 {
		log.Info("running backfill", logger.Int("days", backfill))
		report, err := sweep.Backfill(ctx, backfill)
		if report != nil {
			log.Info("backfill finished",
				logger.Int("refreshed", report.Refreshed),
				logger.Int("failed", report.Failed),
			)
		}
		return err
	}

	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, nothing to do")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Logger:     log,
		Timezone:   time.UTC,
		JobTimeout: cfg.Scheduler.JobTimeout,
	})
	if err := sched.RegisterDaily(sweep, cfg.Scheduler.SweepAt); err != nil {
		return fmt.Errorf("failed to register %s: %w", sweep.Name(), err)
	}
	sched.OnJobComplete(func(r scheduler.JobResult) {
		if !r.Success {
			log.Error("job failed", logger.String("job", r.JobName), logger.Err(r.Error))
		}
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	var opsSrv *ops.Server
	if cfg.Observability.HealthAddr != "" {
		health := ops.NewHealthChecker(cfg.App.Name)
		for name, check := range app.HealthChecks() {
			health.AddCheck(name, check)
		}
		opsCfg := ops.DefaultConfig()
		opsCfg.Addr = cfg.Observability.HealthAddr
		opsSrv = ops.NewServer(opsCfg, health, sched, log)
		if err := opsSrv.Start(); err != nil {
			_ = sched.Stop()
			return fmt.Errorf("failed to start ops server: %w", err)
		}
	}

	next, _ := sched.NextRun(sweep.Name())
	log.Info("analytics worker is running",
		logger.String("sweep_at", cfg.Scheduler.SweepAt),
		logger.Time("next_run", next),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if opsSrv != nil {
		if err := opsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("ops server shutdown", logger.Err(err))
		}
	}

	done := make(chan error, 1)
	go func() { done <- sched.Stop() }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			return fmt.Errorf("failed to stop scheduler: %w", err)
		}
	case <-shutdownCtx.Done():
		return errors.New("shutdown timed out")
	}

	log.Info("shutdown completed successfully")
	return nil
}
