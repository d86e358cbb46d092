package query

import (
	"context"
	"math"

	"github.com/coursehub/learning-analytics/internal/application/validation"
	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
)

// GetLessonProgressQuery identifies the course.
type GetLessonProgressQuery struct {
	CourseID int64 `validate:"gt=0"`
}

// GetLessonProgressHandler returns per-lesson viewers, completions and
// average progress, ordered by lesson position.
type GetLessonProgressHandler struct {
	courses analytics.CourseRepository
}

// NewGetLessonProgressHandler creates a new GetLessonProgressHandler.
func NewGetLessonProgressHandler(courses analytics.CourseRepository) *GetLessonProgressHandler {
	return &GetLessonProgressHandler{courses: courses}
}

// Handle executes the query.
func (h *GetLessonProgressHandler) Handle(ctx context.Context, _ shared.RequestContext, q GetLessonProgressQuery) ([]analytics.LessonProgressStat, error) {
	if err := validation.Struct("analytics", "GetLessonProgress", q); err != nil {
		return nil, err
	}
	stats, err := h.courses.LessonProgressStats(ctx, q.CourseID)
	if err != nil {
		return nil, storeErr("course", "LessonProgressStats", err)
	}
	for i := range stats {
		stats[i].AverageProgress = math.Round(stats[i].AverageProgress*10) / 10
	}
	return stats, nil
}
