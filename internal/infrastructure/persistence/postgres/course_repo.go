package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
)

// CourseRepository implements analytics.CourseRepository over the catalog,
// enrollment and review tables.
type CourseRepository struct {
	conn *Connection
}

// NewCourseRepository creates a new CourseRepository.
func NewCourseRepository(conn *Connection) *CourseRepository {
	return &CourseRepository{conn: conn}
}

var _ analytics.CourseRepository = (*CourseRepository)(nil)

// CourseFacts reads the headline numbers of a course in one round trip.
// Numeric columns come back as text so they parse into exact decimals.
func (r *CourseRepository) CourseFacts(ctx context.Context, courseID int64) (*analytics.CourseFacts, error) {
	query := `
		SELECT
			c.id,
			c.title,
			c.price::text,
			(SELECT COUNT(*) FROM enrollments e WHERE e.course_id = c.id),
			(SELECT COUNT(*) FROM enrollments e WHERE e.course_id = c.id AND e.completed_at IS NOT NULL),
			(SELECT COUNT(*) FROM course_reviews cr WHERE cr.course_id = c.id),
			(SELECT COALESCE(AVG(cr.rating), 0)::text FROM course_reviews cr WHERE cr.course_id = c.id),
			(SELECT COUNT(*) FROM lessons l WHERE l.course_id = c.id),
			(SELECT COUNT(*) FROM course_views v WHERE v.course_id = c.id),
			(SELECT COUNT(DISTINCT v.viewer_key) FROM course_views v WHERE v.course_id = c.id)
		FROM courses c
		WHERE c.id = $1
	`

	var (
		f         analytics.CourseFacts
		price     string
		avgRating string
	)
	err := r.conn.QueryRow(ctx, query, courseID).Scan(
		&f.CourseID,
		&f.Title,
		&price,
		&f.TotalStudents,
		&f.CompletedStudents,
		&f.ReviewCount,
		&avgRating,
		&f.TotalLessons,
		&f.TotalViews,
		&f.UniqueViewers,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrCourseNotFound
		}
		return nil, fmt.Errorf("failed to get course facts: %w", err)
	}

	if f.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("failed to parse course price %q: %w", price, err)
	}
	if f.AverageRating, err = decimal.NewFromString(avgRating); err != nil {
		return nil, fmt.Errorf("failed to parse average rating %q: %w", avgRating, err)
	}
	return &f, nil
}

// LessonProgressStats returns per-lesson progress ordered by position.
// Lessons nobody has opened are included with zero counts.
func (r *CourseRepository) LessonProgressStats(ctx context.Context, courseID int64) ([]analytics.LessonProgressStat, error) {
	query := `
		SELECT
			l.id,
			l.title,
			l.position,
			COUNT(lp.user_id),
			COUNT(lp.user_id) FILTER (WHERE lp.is_completed),
			COALESCE(AVG(lp.progress_percentage), 0)::float8
		FROM lessons l
		LEFT JOIN lecture_progress lp ON lp.lecture_id = l.id
		WHERE l.course_id = $1
		GROUP BY l.id, l.title, l.position
		ORDER BY l.position, l.id
	`

	rows, err := r.conn.Query(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson progress stats: %w", err)
	}
	defer rows.Close()

	var stats []analytics.LessonProgressStat
	for rows.Next() {
		var s analytics.LessonProgressStat
		if err := rows.Scan(&s.LessonID, &s.Title, &s.Position, &s.Viewers, &s.Completions, &s.AverageProgress); err != nil {
			return nil, fmt.Errorf("failed to scan lesson progress: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lesson progress: %w", err)
	}
	return stats, nil
}

// MonthlyRatings returns the average review rating per UTC month, ascending.
func (r *CourseRepository) MonthlyRatings(ctx context.Context, courseID int64) ([]analytics.MonthlyValue, error) {
	query := `
		SELECT
			to_char(date_trunc('month', created_at AT TIME ZONE 'UTC'), 'YYYY-MM') AS month,
			AVG(rating)::float8
		FROM course_reviews
		WHERE course_id = $1
		GROUP BY month
		ORDER BY month
	`

	rows, err := r.conn.Query(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get monthly ratings: %w", err)
	}
	defer rows.Close()

	var values []analytics.MonthlyValue
	for rows.Next() {
		var v analytics.MonthlyValue
		if err := rows.Scan(&v.Month, &v.Value); err != nil {
			return nil, fmt.Errorf("failed to scan monthly rating: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate monthly ratings: %w", err)
	}
	return values, nil
}
