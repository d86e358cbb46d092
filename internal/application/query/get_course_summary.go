package query

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coursehub/learning-analytics/internal/application/validation"
	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
	"github.com/coursehub/learning-analytics/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET COURSE SUMMARY QUERY
// Headline numbers of one course plus month-over-month trends. Optionally
// served through an out-of-process cache.
// ══════════════════════════════════════════════════════════════════════════════

// GetCourseSummaryQuery identifies the course.
type GetCourseSummaryQuery struct {
	CourseID int64 `validate:"gt=0"`
}

// CourseSummary is the dashboard header of a course.
type CourseSummary struct {
	CourseID          int64            `json:"course_id"`
	Title             string           `json:"title"`
	TotalStudents     int              `json:"total_students"`
	CompletedStudents int              `json:"completed_students"`
	ReviewCount       int              `json:"review_count"`
	AverageRating     decimal.Decimal  `json:"average_rating"`
	TotalLessons      int              `json:"total_lessons"`
	Price             decimal.Decimal  `json:"price"`
	TotalViews        int              `json:"total_views"`
	UniqueViewers     int              `json:"unique_viewers"`
	Trends            analytics.Trends `json:"trends"`
	GeneratedAt       time.Time        `json:"generated_at"`
}

// SummaryCache stores computed summaries. Get returns nil with no error on a miss.
type SummaryCache interface {
	Get(ctx context.Context, courseID int64) (*CourseSummary, error)
	Set(ctx context.Context, summary *CourseSummary) error
}

// GetCourseSummaryHandler handles GetCourseSummaryQuery.
type GetCourseSummaryHandler struct {
	courses analytics.CourseRepository
	stats   analytics.StatsRepository
	cache   SummaryCache
	log     *logger.Logger
}

// NewGetCourseSummaryHandler creates a new GetCourseSummaryHandler. cache may be nil.
func NewGetCourseSummaryHandler(
	courses analytics.CourseRepository,
	stats analytics.StatsRepository,
	cache SummaryCache,
	log *logger.Logger,
) *GetCourseSummaryHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetCourseSummaryHandler{courses: courses, stats: stats, cache: cache, log: log}
}

// Handle executes the query. Unknown courses fail with a not-found error.
// Cache failures are logged and otherwise ignored.
func (h *GetCourseSummaryHandler) Handle(ctx context.Context, rc shared.RequestContext, q GetCourseSummaryQuery) (*CourseSummary, error) {
	if err := validation.Struct("course", "GetCourseSummary", q); err != nil {
		return nil, err
	}

	if h.cache != nil {
		cached, err := h.cache.Get(ctx, q.CourseID)
		if err != nil {
			h.log.Warn("summary cache read failed", logger.CourseID(q.CourseID), logger.Err(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	summary, err := h.build(ctx, rc, q.CourseID)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, summary); err != nil {
			h.log.Warn("summary cache write failed", logger.CourseID(q.CourseID), logger.Err(err))
		}
	}
	return summary, nil
}

func (h *GetCourseSummaryHandler) build(ctx context.Context, rc shared.RequestContext, courseID int64) (*CourseSummary, error) {
	facts, err := h.courses.CourseFacts(ctx, courseID)
	if err != nil {
		return nil, storeErr("course", "CourseFacts", err)
	}

	now := rc.Clock()
	stats, err := h.stats.ListDailyStats(ctx, courseID, analytics.TrendWindowStart(now), rc.Today())
	if err != nil {
		return nil, storeErr("analytics", "ListDailyStats", err)
	}
	ratings, err := h.courses.MonthlyRatings(ctx, courseID)
	if err != nil {
		return nil, storeErr("course", "MonthlyRatings", err)
	}

	return &CourseSummary{
		CourseID:          facts.CourseID,
		Title:             facts.Title,
		TotalStudents:     facts.TotalStudents,
		CompletedStudents: facts.CompletedStudents,
		ReviewCount:       facts.ReviewCount,
		AverageRating:     facts.AverageRating.Round(2),
		TotalLessons:      facts.TotalLessons,
		Price:             facts.Price,
		TotalViews:        facts.TotalViews,
		UniqueViewers:     facts.UniqueViewers,
		Trends:            analytics.ComputeTrends(stats, ratings, now),
		GeneratedAt:       now,
	}, nil
}
