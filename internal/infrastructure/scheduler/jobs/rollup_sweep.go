// Package jobs contains the scheduled jobs of the analytics worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coursehub/learning-analytics/internal/domain/shared"
	"github.com/coursehub/learning-analytics/pkg/logger"
	"github.com/coursehub/learning-analytics/pkg/retry"
	"github.com/coursehub/learning-analytics/pkg/timeutil"
)

// RollupService is the part of the application service the sweep drives.
type RollupService interface {
	ActiveCourses(ctx context.Context, day time.Time) ([]int64, error)
	RefreshDailyStat(ctx context.Context, rc shared.RequestContext, courseID int64, statDate *time.Time) error
}

// SweepMetrics records sweep durations. May be nil.
type SweepMetrics interface {
	SweepFinished(ctx context.Context, elapsed time.Duration, failed int)
}

// RollupSweepConfig tunes the sweep.
type RollupSweepConfig struct {
	// Concurrency bounds parallel refreshes.
	Concurrency int

	// MaxAttempts per course-day refresh.
	MaxAttempts int

	// Clock returns the current time; nil means time.Now.
	Clock func() time.Time
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Days      []time.Time
	Refreshed int
	Failed    int
}

// RollupSweepJob recomputes the daily rollup of every course that had any
// activity yesterday or today. Late facts for yesterday are picked up by the
// first sweep after midnight.
type RollupSweepJob struct {
	svc     RollupService
	metrics SweepMetrics
	cfg     RollupSweepConfig
	retrier *retry.Retrier
	log     *logger.Logger
}

// NewRollupSweepJob creates a RollupSweepJob.
func NewRollupSweepJob(svc RollupService, metrics SweepMetrics, cfg RollupSweepConfig, log *logger.Logger) *RollupSweepJob {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("rollup_sweep"))

	return &RollupSweepJob{
		svc:     svc,
		metrics: metrics,
		cfg:     cfg,
		retrier: retry.DatabaseRetrier(
			retry.WithMaxAttempts(cfg.MaxAttempts),
			retry.WithRetryIf(shared.IsPersistence),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				log.Warn("retrying rollup refresh",
					logger.Int("attempt", attempt),
					logger.Duration("delay", delay),
					logger.Err(err),
				)
			}),
		),
		log: log,
	}
}

// Name implements scheduler.Job.
func (j *RollupSweepJob) Name() string { return "rollup_sweep" }

// Description implements scheduler.Job.
func (j *RollupSweepJob) Description() string {
	return "Recompute daily course stats for yesterday and today"
}

// Run implements scheduler.Job.
func (j *RollupSweepJob) Run(ctx context.Context) error {
	today := timeutil.Day(j.cfg.Clock())
	_, err := j.Sweep(ctx, today.AddDate(0, 0, -1), today)
	return err
}

// Backfill refreshes the last n days ending today, active courses only.
func (j *RollupSweepJob) Backfill(ctx context.Context, n int) (*SweepReport, error) {
	if n < 1 {
		n = 1
	}
	today := timeutil.Day(j.cfg.Clock())
	return j.Sweep(ctx, today.AddDate(0, 0, -(n-1)), today)
}

// Sweep refreshes every active course for every day in [from, to]. A
// course-day that still fails after retries is counted and logged; the
// sweep carries on and reports an aggregate error at the end.
func (j *RollupSweepJob) Sweep(ctx context.Context, from, to time.Time) (*SweepReport, error) {
	started := time.Now()
	report := &SweepReport{Days: timeutil.EachDay(from, to)}
	rc := shared.SystemRequest(j.cfg.Clock())

	var refreshed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Concurrency)

	for _, day := range report.Days {
		courses, err := j.svc.ActiveCourses(ctx, day)
		if err != nil {
			_ = g.Wait()
			return report, fmt.Errorf("list active courses for %s: %w", timeutil.FormatDay(day), err)
		}

		for _, courseID := range courses {
			day, courseID := day, courseID
			g.Go(func() error {
				err := j.retrier.Do(gctx, func(ctx context.Context) error {
					return j.svc.RefreshDailyStat(ctx, rc, courseID, &day)
				})
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return err
					}
					failed.Add(1)
					j.log.Error("rollup refresh failed",
						logger.CourseID(courseID),
						logger.StatDate(day),
						logger.Err(err),
					)
					return nil
				}
				refreshed.Add(1)
				return nil
			})
		}
	}

	err := g.Wait()
	report.Refreshed = int(refreshed.Load())
	report.Failed = int(failed.Load())

	elapsed := time.Since(started)
	if j.metrics != nil {
		j.metrics.SweepFinished(ctx, elapsed, report.Failed)
	}
	j.log.Info("rollup sweep finished",
		logger.Int("days", len(report.Days)),
		logger.Int("refreshed", report.Refreshed),
		logger.Int("failed", report.Failed),
		logger.Latency(elapsed),
	)

	if err != nil {
		return report, err
	}
	if report.Failed > 0 {
		return report, fmt.Errorf("rollup sweep: %d of %d refreshes failed", report.Failed, report.Failed+report.Refreshed)
	}
	return report, nil
}
