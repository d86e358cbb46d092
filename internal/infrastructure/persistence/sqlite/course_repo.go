package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
)

// CourseRepository implements analytics.CourseRepository over SQLite.
type CourseRepository struct {
	store *Store
}

// NewCourseRepository creates a new CourseRepository.
func NewCourseRepository(store *Store) *CourseRepository {
	return &CourseRepository{store: store}
}

var _ analytics.CourseRepository = (*CourseRepository)(nil)

type courseFactsRow struct {
	CourseID          int64   `db:"id"`
	Title             string  `db:"title"`
	Price             string  `db:"price"`
	TotalStudents     int     `db:"total_students"`
	CompletedStudents int     `db:"completed_students"`
	ReviewCount       int     `db:"review_count"`
	AverageRating     float64 `db:"average_rating"`
	TotalLessons      int     `db:"total_lessons"`
	TotalViews        int     `db:"total_views"`
	UniqueViewers     int     `db:"unique_viewers"`
}

type lessonProgressRow struct {
	LessonID        int64   `db:"lesson_id"`
	Title           string  `db:"title"`
	Position        int     `db:"position"`
	Viewers         int     `db:"viewers"`
	Completions     int     `db:"completions"`
	AverageProgress float64 `db:"average_progress"`
}

// CourseFacts reads the headline numbers of a course.
func (r *CourseRepository) CourseFacts(ctx context.Context, courseID int64) (*analytics.CourseFacts, error) {
	query := `
		SELECT
			c.id,
			c.title,
			c.price,
			(SELECT COUNT(*) FROM enrollments e WHERE e.course_id = c.id) AS total_students,
			(SELECT COUNT(*) FROM enrollments e WHERE e.course_id = c.id AND e.completed_at IS NOT NULL) AS completed_students,
			(SELECT COUNT(*) FROM course_reviews cr WHERE cr.course_id = c.id) AS review_count,
			(SELECT COALESCE(AVG(cr.rating), 0.0) FROM course_reviews cr WHERE cr.course_id = c.id) AS average_rating,
			(SELECT COUNT(*) FROM lessons l WHERE l.course_id = c.id) AS total_lessons,
			(SELECT COUNT(*) FROM course_views v WHERE v.course_id = c.id) AS total_views,
			(SELECT COUNT(DISTINCT v.viewer_key) FROM course_views v WHERE v.course_id = c.id) AS unique_viewers
		FROM courses c
		WHERE c.id = ?
	`

	var row courseFactsRow
	err := r.store.db.GetContext(ctx, &row, query, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get course facts: %w", err)
	}

	price, err := decimal.NewFromString(row.Price)
	if err != nil {
		return nil, fmt.Errorf("parse course price %q: %w", row.Price, err)
	}
	return &analytics.CourseFacts{
		CourseID:          row.CourseID,
		Title:             row.Title,
		Price:             price,
		TotalStudents:     row.TotalStudents,
		CompletedStudents: row.CompletedStudents,
		ReviewCount:       row.ReviewCount,
		AverageRating:     decimal.NewFromFloat(row.AverageRating),
		TotalLessons:      row.TotalLessons,
		TotalViews:        row.TotalViews,
		UniqueViewers:     row.UniqueViewers,
	}, nil
}

// LessonProgressStats returns per-lesson progress ordered by position.
func (r *CourseRepository) LessonProgressStats(ctx context.Context, courseID int64) ([]analytics.LessonProgressStat, error) {
	query := `
		SELECT
			l.id AS lesson_id,
			l.title,
			l.position,
			COUNT(lp.user_id) AS viewers,
			COALESCE(SUM(lp.is_completed), 0) AS completions,
			COALESCE(AVG(lp.progress_percentage), 0.0) AS average_progress
		FROM lessons l
		LEFT JOIN lecture_progress lp ON lp.lecture_id = l.id
		WHERE l.course_id = ?
		GROUP BY l.id, l.title, l.position
		ORDER BY l.position, l.id
	`

	var rows []lessonProgressRow
	if err := r.store.db.SelectContext(ctx, &rows, query, courseID); err != nil {
		return nil, fmt.Errorf("get lesson progress stats: %w", err)
	}

	stats := make([]analytics.LessonProgressStat, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, analytics.LessonProgressStat(row))
	}
	return stats, nil
}

// MonthlyRatings returns the average review rating per UTC month, ascending.
func (r *CourseRepository) MonthlyRatings(ctx context.Context, courseID int64) ([]analytics.MonthlyValue, error) {
	query := `
		SELECT strftime('%Y-%m', created_at / 1000, 'unixepoch') AS month,
			   AVG(rating) AS value
		FROM course_reviews
		WHERE course_id = ?
		GROUP BY month
		ORDER BY month
	`

	// Month and Value match the column names under sqlx's lower-case mapper.
	var values []analytics.MonthlyValue
	if err := r.store.db.SelectContext(ctx, &values, query, courseID); err != nil {
		return nil, fmt.Errorf("get monthly ratings: %w", err)
	}
	return values, nil
}
