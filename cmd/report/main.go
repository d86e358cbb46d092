// Package main exports one course's analytics to an XLSX workbook.
//
// Usage:
//
//	report -course 12 -from 2024-03-01 -to 2024-03-31 -out course-12.xlsx
//	report -course 12 -import-demographics survey.xlsx
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
	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
	"github.com/coursehub/learning-analytics/internal/infrastructure/bootstrap"
	"github.com/coursehub/learning-analytics/internal/infrastructure/export"
	"github.com/coursehub/learning-analytics/pkg/logger"
	"github.com/coursehub/learning-analytics/pkg/timeutil"
)

type options struct {
	envFile    string
	courseID   int64
	from, to   string
	period     string
	limit      int
	out        string
	importFile string
}

func main() {
	var opts options
	flag.StringVar(&opts.envFile, "env", ".env", "dotenv file to load before the environment")
	flag.Int64Var(&opts.courseID, "course", 0, "course id (required)")
	flag.StringVar(&opts.from, "from", "", "first day, YYYY-MM-DD (default: trailing window)")
	flag.StringVar(&opts.to, "to", "", "last day, YYYY-MM-DD (default: today)")
	flag.StringVar(&opts.period, "period", string(analytics.PeriodWeekly), "engagement period: daily, weekly or monthly")
	flag.IntVar(&opts.limit, "limit", 0, "engagement bucket count (default from config)")
	flag.StringVar(&opts.out, "out", "", "output workbook (default: course-<id>.xlsx)")
	flag.StringVar(&opts.importFile, "import-demographics", "", "import a demographics sheet instead of exporting")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "report: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	if opts.courseID <= 0 {
		return errors.New("-course is required")
	}

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.LoggerOptions()).With(logger.Component("report"), logger.CourseID(opts.courseID))

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	rc := shared.SystemRequest(time.Now())

	if opts.importFile != "" {
		return importDemographics(ctx, app, rc, opts, log)
	}
	return exportReport(ctx, app, rc, opts, log)
}

func importDemographics(ctx context.Context, app *bootstrap.App, rc shared.RequestContext, opts options, log *logger.Logger) error {
	f, err := os.Open(opts.importFile)
	if err != nil {
		return err
	}
	defer f.Close()

	cmd, err := export.ReadDemographics(f, opts.courseID)
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.importFile, err)
	}
	snap, err := app.Service.ImportDemographics(ctx, rc, *cmd)
	if err != nil {
		return err
	}
	log.Info("demographics imported", logger.String("snapshot_date", timeutil.FormatDay(snap.SnapshotDate)))
	return nil
}

func exportReport(ctx context.Context, app *bootstrap.App, rc shared.RequestContext, opts options, log *logger.Logger) error {
	start, err := optionalDay(opts.from)
	if err != nil {
		return fmt.Errorf("-from: %w", err)
	}
	end, err := optionalDay(opts.to)
	if err != nil {
		return fmt.Errorf("-to: %w", err)
	}

	svc := app.Service
	var report export.Report

	if report.Summary, err = svc.CourseSummary(ctx, rc, opts.courseID); err != nil {
		return err
	}
	if report.Daily, err = svc.DailyStats(ctx, rc, opts.courseID, start, end); err != nil {
		return err
	}
	if report.Engagement, err = svc.EngagementMetrics(ctx, rc, opts.courseID, opts.period, opts.limit); err != nil {
		return err
	}
	if report.Lessons, err = svc.LessonProgressStats(ctx, rc, opts.courseID); err != nil {
		return err
	}
	if report.Demographics, err = svc.DemographicData(ctx, rc, opts.courseID); err != nil {
		return err
	}

	out := opts.out
	if out == "" {
		out = fmt.Sprintf("course-%d.xlsx", opts.courseID)
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := export.WriteReport(f, report); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	log.Info("report written",
		logger.String("file", out),
		logger.Int("days", len(report.Daily.Stats)),
		logger.Source(string(report.Daily.Source)),
	)
	return nil
}

func optionalDay(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	d, err := timeutil.ParseDay(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
