package command

import (
	"context"
	"time"

	"github.com/coursehub/learning-analytics/internal/application/validation"
	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
	"github.com/coursehub/learning-analytics/pkg/logger"
	"github.com/coursehub/learning-analytics/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH DAILY STAT COMMAND
// Recomputes one course-day aggregate from raw facts and replaces the stored
// row. Deterministic, so concurrent or repeated refreshes converge.
// ══════════════════════════════════════════════════════════════════════════════

// MaxRefreshRangeDays bounds a single RefreshRange call.
const MaxRefreshRangeDays = 366

// RefreshDailyStatCommand identifies the course-day to recompute.
type RefreshDailyStatCommand struct {
	// CourseID is the course to refresh.
	CourseID int64 `validate:"gt=0"`

	// StatDate is the day to refresh; nil means the request's current day.
	StatDate *time.Time
}

// RefreshDailyStatResult is the row as written.
type RefreshDailyStatResult struct {
	Stat analytics.CourseDailyStat
}

// RefreshDailyStatHandler handles RefreshDailyStatCommand.
type RefreshDailyStatHandler struct {
	stats   analytics.StatsRepository
	cache   SummaryInvalidator
	metrics Metrics
	log     *logger.Logger
}

// NewRefreshDailyStatHandler creates a new RefreshDailyStatHandler.
// cache and metrics may be nil.
func NewRefreshDailyStatHandler(
	stats analytics.StatsRepository,
	cache SummaryInvalidator,
	metrics Metrics,
	log *logger.Logger,
) *RefreshDailyStatHandler {
	if cache == nil {
		cache = nopInvalidator{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RefreshDailyStatHandler{
		stats:   stats,
		cache:   cache,
		metrics: metrics,
		log:     log.With(logger.Component("rollup")),
	}
}

// Handle recomputes and upserts the row for the command's course-day.
func (h *RefreshDailyStatHandler) Handle(ctx context.Context, rc shared.RequestContext, cmd RefreshDailyStatCommand) (*RefreshDailyStatResult, error) {
	if err := validation.Struct("analytics", "RefreshDailyStat", cmd); err != nil {
		return nil, err
	}

	day := rc.Today()
	if cmd.StatDate != nil && !cmd.StatDate.IsZero() {
		day = timeutil.Day(*cmd.StatDate)
	}

	stat, err := h.refresh(ctx, cmd.CourseID, day)
	if err != nil {
		h.metrics.RollupRefreshed(ctx, false)
		h.log.Error("daily stat refresh failed",
			logger.String(logger.RequestIDKey, rc.RequestID),
			logger.CourseID(cmd.CourseID),
			logger.StatDate(day),
			logger.Err(err),
		)
		return nil, err
	}
	h.metrics.RollupRefreshed(ctx, true)

	if err := h.cache.Invalidate(ctx, cmd.CourseID); err != nil {
		h.log.Warn("summary cache invalidation failed", logger.CourseID(cmd.CourseID), logger.Err(err))
	}

	return &RefreshDailyStatResult{Stat: stat}, nil
}

// RefreshRange refreshes every day in [from, to]. Bounds are swapped when
// reversed; a range wider than MaxRefreshRangeDays is a validation error.
func (h *RefreshDailyStatHandler) RefreshRange(ctx context.Context, rc shared.RequestContext, courseID int64, from, to time.Time) ([]analytics.CourseDailyStat, error) {
	if from.After(to) {
		from, to = to, from
	}
	if courseID <= 0 {
		return nil, shared.Validation("analytics", "RefreshRange", "course_id must be positive")
	}
	if timeutil.DaysBetween(from, to) >= MaxRefreshRangeDays {
		return nil, shared.Validation("analytics", "RefreshRange", "range exceeds %d days", MaxRefreshRangeDays)
	}

	days := timeutil.EachDay(from, to)
	out := make([]analytics.CourseDailyStat, 0, len(days))
	for _, d := range days {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		day := d
		res, err := h.Handle(ctx, rc, RefreshDailyStatCommand{CourseID: courseID, StatDate: &day})
		if err != nil {
			return out, err
		}
		out = append(out, res.Stat)
	}
	return out, nil
}

func (h *RefreshDailyStatHandler) refresh(ctx context.Context, courseID int64, day time.Time) (analytics.CourseDailyStat, error) {
	stat, err := h.stats.RecomputeDailyStat(ctx, courseID, day)
	if err != nil {
		return analytics.CourseDailyStat{}, storeErr("analytics", "RecomputeDailyStat", err)
	}

	h.log.Debug("daily stat refreshed",
		logger.CourseID(courseID),
		logger.StatDate(day),
		logger.Int("views", stat.Views),
		logger.Int("unique_viewers", stat.UniqueViewers),
	)
	return stat, nil
}
