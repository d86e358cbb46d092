// Package application wires the command and query handlers into the single
// surface the web and worker processes call.
package application

import (
	"context"
	"time"

	"github.com/coursehub/learning-analytics/internal/application/command"
	"github.com/coursehub/learning-analytics/internal/application/query"
	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/internal/domain/progress"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
	"github.com/coursehub/learning-analytics/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Repositories groups the persistence ports. Both the postgres and the sqlite
// stores satisfy every analytics interface with one value.
type Repositories struct {
	Stats        analytics.StatsRepository
	Views        analytics.ViewRepository
	Engagements  analytics.EngagementRepository
	Demographics analytics.DemographicsRepository
	Courses      analytics.CourseRepository
	Progress     progress.Repository
}

// Metrics is the union of the read and write metric ports.
type Metrics interface {
	command.Metrics
	query.Metrics
}

// SummaryCache is an out-of-process course summary cache.
type SummaryCache interface {
	query.SummaryCache
	command.SummaryInvalidator
}

// Options tunes the service. Zero values mean defaults.
type Options struct {
	MergePolicy        progress.MergePolicy
	Synthesizer        *analytics.Synthesizer
	Logger             *logger.Logger
	Metrics            Metrics
	SummaryCache       SummaryCache
	DefaultRangeDays   int
	DefaultBucketLimit int
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// Service is the analytics engine's public API. Every call takes the caller's
// RequestContext explicitly; nothing is read from ambient state.
type Service struct {
	stats analytics.StatsRepository

	refresh      *command.RefreshDailyStatHandler
	recordView   *command.RecordViewHandler
	recordProg   *command.RecordProgressHandler
	engagement   *command.RecordEngagementHandler
	importDemo   *command.ImportDemographicsHandler
	summary      *query.GetCourseSummaryHandler
	dailyStats   *query.GetDailyStatsHandler
	engagements  *query.GetEngagementMetricsHandler
	demographics *query.GetDemographicsHandler
	lessons      *query.GetLessonProgressHandler

	log *logger.Logger
}

// NewService builds every handler over repos.
func NewService(repos Repositories, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	var (
		cmdMetrics command.Metrics
		qryMetrics query.Metrics
		qryCache   query.SummaryCache
		cmdCache   command.SummaryInvalidator
	)
	if opts.Metrics != nil {
		cmdMetrics, qryMetrics = opts.Metrics, opts.Metrics
	}
	if opts.SummaryCache != nil {
		qryCache, cmdCache = opts.SummaryCache, opts.SummaryCache
	}

	refresh := command.NewRefreshDailyStatHandler(repos.Stats, cmdCache, cmdMetrics, log)
	selector := query.NewSelector(
		query.NewRealAggregator(repos.Stats, repos.Engagements, repos.Demographics),
		query.NewSyntheticAggregator(opts.Synthesizer),
		qryMetrics,
	)

	return &Service{
		stats:        repos.Stats,
		refresh:      refresh,
		recordView:   command.NewRecordViewHandler(repos.Views, refresh, cmdMetrics, log),
		recordProg:   command.NewRecordProgressHandler(repos.Progress, opts.MergePolicy, cmdMetrics, log),
		engagement:   command.NewRecordEngagementHandler(repos.Engagements, log),
		importDemo:   command.NewImportDemographicsHandler(repos.Demographics),
		summary:      query.NewGetCourseSummaryHandler(repos.Courses, repos.Stats, qryCache, log),
		dailyStats:   query.NewGetDailyStatsHandler(selector, opts.DefaultRangeDays, log),
		engagements:  query.NewGetEngagementMetricsHandler(selector, opts.DefaultBucketLimit, log),
		demographics: query.NewGetDemographicsHandler(selector, log),
		lessons:      query.NewGetLessonProgressHandler(repos.Courses),
		log:          log,
	}
}

// MergePolicy returns the progress merge policy in effect.
func (s *Service) MergePolicy() progress.MergePolicy {
	return s.recordProg.Policy()
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// CourseSummary returns headline numbers and month-over-month trends.
func (s *Service) CourseSummary(ctx context.Context, rc shared.RequestContext, courseID int64) (*query.CourseSummary, error) {
	return s.summary.Handle(ctx, rc, query.GetCourseSummaryQuery{CourseID: courseID})
}

// DailyStats returns the daily series for [start, end]. Either bound may be nil.
func (s *Service) DailyStats(ctx context.Context, rc shared.RequestContext, courseID int64, start, end *time.Time) (*query.DailyStatsResult, error) {
	return s.dailyStats.Handle(ctx, rc, query.GetDailyStatsQuery{CourseID: courseID, Start: start, End: end})
}

// LessonProgressStats returns per-lesson progress ordered by position.
func (s *Service) LessonProgressStats(ctx context.Context, rc shared.RequestContext, courseID int64) ([]analytics.LessonProgressStat, error) {
	return s.lessons.Handle(ctx, rc, query.GetLessonProgressQuery{CourseID: courseID})
}

// EngagementMetrics returns engagement buckets, newest first.
func (s *Service) EngagementMetrics(ctx context.Context, rc shared.RequestContext, courseID int64, period string, limit int) (*query.EngagementResult, error) {
	return s.engagements.Handle(ctx, rc, query.GetEngagementMetricsQuery{CourseID: courseID, Period: period, Limit: limit})
}

// DemographicData returns the latest audience snapshot.
func (s *Service) DemographicData(ctx context.Context, rc shared.RequestContext, courseID int64) (*query.DemographicsResult, error) {
	return s.demographics.Handle(ctx, rc, query.GetDemographicsQuery{CourseID: courseID})
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// RecordCourseView stores one page view and refreshes that day's rollup.
func (s *Service) RecordCourseView(ctx context.Context, rc shared.RequestContext, cmd command.RecordViewCommand) error {
	return s.recordView.Handle(ctx, rc, cmd)
}

// RecordLectureProgress merges one progress sample.
func (s *Service) RecordLectureProgress(ctx context.Context, rc shared.RequestContext, cmd command.RecordProgressCommand) (*command.RecordProgressResult, error) {
	return s.recordProg.Handle(ctx, rc, cmd)
}

// RefreshDailyStat recomputes one course-day. A nil statDate means today.
func (s *Service) RefreshDailyStat(ctx context.Context, rc shared.RequestContext, courseID int64, statDate *time.Time) error {
	_, err := s.refresh.Handle(ctx, rc, command.RefreshDailyStatCommand{CourseID: courseID, StatDate: statDate})
	return err
}

// RefreshRange recomputes every day in [from, to] for one course.
func (s *Service) RefreshRange(ctx context.Context, rc shared.RequestContext, courseID int64, from, to time.Time) ([]analytics.CourseDailyStat, error) {
	return s.refresh.RefreshRange(ctx, rc, courseID, from, to)
}

// RecordEngagement appends one engagement action.
func (s *Service) RecordEngagement(ctx context.Context, rc shared.RequestContext, cmd command.RecordEngagementCommand) (*analytics.CourseEngagement, error) {
	return s.engagement.Handle(ctx, rc, cmd)
}

// ImportDemographics stores an externally produced audience snapshot.
func (s *Service) ImportDemographics(ctx context.Context, rc shared.RequestContext, cmd command.ImportDemographicsCommand) (*analytics.DemographicsSnapshot, error) {
	return s.importDemo.Handle(ctx, rc, cmd)
}

// ActiveCourses returns the courses with any activity on day.
func (s *Service) ActiveCourses(ctx context.Context, day time.Time) ([]int64, error) {
	ids, err := s.stats.ActiveCourses(ctx, day)
	if err != nil {
		if shared.IsPersistence(err) {
			return nil, err
		}
		return nil, shared.Persistence("analytics", "ActiveCourses", err)
	}
	return ids, nil
}
