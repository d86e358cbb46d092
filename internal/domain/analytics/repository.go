package analytics

import (
	"context"
	"time"
)

// StatsRepository persists and reads the daily rollup.
// Implemented by the infrastructure layer.
type StatsRepository interface {
	// RecomputeDailyStat counts views, enrollments and lesson completions for
	// one course-day and inserts or wholly replaces its row, returning the row
	// as written. Counting and writing are one atomic step, so the last
	// recompute to finish always reflects every fact committed before it began.
	RecomputeDailyStat(ctx context.Context, courseID int64, day time.Time) (CourseDailyStat, error)

	// HasDailyStats reports whether any rollup row exists for the course.
	HasDailyStats(ctx context.Context, courseID int64) (bool, error)

	// ListDailyStats returns stored rows within [from, to], date ascending.
	ListDailyStats(ctx context.Context, courseID int64, from, to time.Time) ([]CourseDailyStat, error)

	// ActiveCourses returns ids of courses with any view, enrollment or
	// completion on the given day.
	ActiveCourses(ctx context.Context, day time.Time) ([]int64, error)
}

// ViewRepository appends raw page views.
type ViewRepository interface {
	AppendView(ctx context.Context, view CourseView) error
}

// EngagementRepository appends and reads engagement events.
type EngagementRepository interface {
	// AppendEngagement stores one engagement event.
	AppendEngagement(ctx context.Context, e CourseEngagement) error

	// HasEngagements reports whether the course has any engagement rows.
	HasEngagements(ctx context.Context, courseID int64) (bool, error)

	// DailyEngagementCounts returns per-day, per-type counts for the course.
	DailyEngagementCounts(ctx context.Context, courseID int64) ([]DailyEngagementCount, error)
}

// DemographicsRepository reads and writes audience snapshots.
type DemographicsRepository interface {
	// HasSnapshot reports whether the course has at least one snapshot.
	HasSnapshot(ctx context.Context, courseID int64) (bool, error)

	// LatestSnapshot returns the snapshot with the greatest snapshot date,
	// or nil with no error when the course has none.
	LatestSnapshot(ctx context.Context, courseID int64) (*RawSnapshot, error)

	// SaveSnapshot inserts or replaces the snapshot for (course, date).
	SaveSnapshot(ctx context.Context, snap DemographicsSnapshot) error
}

// CourseRepository reads collaborator-owned course data.
type CourseRepository interface {
	// CourseFacts returns headline numbers for a course.
	// Returns shared.ErrCourseNotFound when the course does not exist.
	CourseFacts(ctx context.Context, courseID int64) (*CourseFacts, error)

	// LessonProgressStats returns per-lesson progress ordered by position.
	LessonProgressStats(ctx context.Context, courseID int64) ([]LessonProgressStat, error)

	// MonthlyRatings returns the average review rating per month, ascending.
	MonthlyRatings(ctx context.Context, courseID int64) ([]MonthlyValue, error)
}
