package query

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
// GET DAILY STATS QUERY
// Returns the daily rollup for a date range. Courses without any stored rows
// get one synthetic entry per day instead.
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultRangeDays is the trailing window used when no range is given.
	DefaultRangeDays = 30
	// MaxRangeDays is the widest range a single request may ask for.
	MaxRangeDays = 366
)

// GetDailyStatsQuery contains the parameters of a daily stats request.
type GetDailyStatsQuery struct {
	// CourseID is the course to read.
	CourseID int64 `validate:"gt=0"`

	// Start and End bound the range inclusively. A missing bound is derived
	// from the other (or today); reversed bounds are swapped. Ranges wider
	// than MaxRangeDays are rejected.
	Start *time.Time
	End   *time.Time
}

// DailyStatsResult is the daily series with its provenance.
type DailyStatsResult struct {
	CourseID int64                       `json:"course_id"`
	From     time.Time                   `json:"from"`
	To       time.Time                   `json:"to"`
	Source   analytics.Source            `json:"source"`
	Stats    []analytics.CourseDailyStat `json:"stats"`
}

// GetDailyStatsHandler handles GetDailyStatsQuery.
type GetDailyStatsHandler struct {
	selector  *Selector
	rangeDays int
	log       *logger.Logger
}

// NewGetDailyStatsHandler creates a new GetDailyStatsHandler.
// rangeDays <= 0 means DefaultRangeDays.
func NewGetDailyStatsHandler(selector *Selector, rangeDays int, log *logger.Logger) *GetDailyStatsHandler {
	if rangeDays <= 0 {
		rangeDays = DefaultRangeDays
	}
	if rangeDays > MaxRangeDays {
		rangeDays = MaxRangeDays
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GetDailyStatsHandler{selector: selector, rangeDays: rangeDays, log: log}
}

// Range resolves the effective [from, to] for q as seen at today.
func (h *GetDailyStatsHandler) Range(q GetDailyStatsQuery, today time.Time) (time.Time, time.Time, error) {
	today = timeutil.Day(today)
	var from, to time.Time

	switch {
	case q.Start == nil && q.End == nil:
		to = today
		from = to.AddDate(0, 0, -(h.rangeDays - 1))
	case q.Start == nil:
		to = timeutil.Day(*q.End)
		from = to.AddDate(0, 0, -(h.rangeDays - 1))
	case q.End == nil:
		from = timeutil.Day(*q.Start)
		to = today
	default:
		from, to = timeutil.Day(*q.Start), timeutil.Day(*q.End)
	}

	if from.After(to) {
		from, to = to, from
	}
	if timeutil.DaysBetween(from, to) >= MaxRangeDays {
		return time.Time{}, time.Time{}, shared.Validation("analytics", "GetDailyStats", "range exceeds %d days", MaxRangeDays)
	}
	return from, to, nil
}

// Handle executes the query.
func (h *GetDailyStatsHandler) Handle(ctx context.Context, rc shared.RequestContext, q GetDailyStatsQuery) (*DailyStatsResult, error) {
	if err := validation.Struct("analytics", "GetDailyStats", q); err != nil {
		return nil, err
	}
	from, to, err := h.Range(q, rc.Today())
	if err != nil {
		return nil, err
	}

	agg, err := h.selector.ForDailyStats(ctx, q.CourseID)
	if err != nil {
		return nil, err
	}
	stats, err := agg.DailyStats(ctx, q.CourseID, from, to)
	if err != nil {
		return nil, err
	}
	if agg.Source() == analytics.SourceSynthetic {
		h.log.Info("serving synthetic daily stats",
			logger.String(logger.RequestIDKey, rc.RequestID),
			logger.CourseID(q.CourseID),
			logger.Source(string(agg.Source())),
		)
	}

	return &DailyStatsResult{
		CourseID: q.CourseID,
		From:     from,
		To:       to,
		Source:   agg.Source(),
		Stats:    stats,
	}, nil
}
