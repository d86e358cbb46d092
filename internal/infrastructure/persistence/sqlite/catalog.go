package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coursehub/learning-analytics/pkg/timeutil"
)

// CourseRecord is a catalog row mirrored from the course service.
type CourseRecord struct {
	ID        int64
	Title     string
	Price     decimal.Decimal
	CreatedAt time.Time
}

// LessonRecord is a lesson row mirrored from the course service.
type LessonRecord struct {
	ID       int64
	CourseID int64
	Title    string
	Position int
}

// CatalogWriter mirrors collaborator-owned catalog, enrollment and review
// rows into the embedded store, for local runs and tests.
type CatalogWriter struct {
	store *Store
}

// NewCatalogWriter creates a new CatalogWriter.
func NewCatalogWriter(store *Store) *CatalogWriter {
	return &CatalogWriter{store: store}
}

// PutCourse inserts or replaces a course.
func (w *CatalogWriter) PutCourse(ctx context.Context, c CourseRecord) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := w.store.db.ExecContext(ctx, `
		INSERT INTO courses (id, title, price, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, price = excluded.price
	`, c.ID, c.Title, c.Price.StringFixed(2), timeutil.ToMillis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("put course %d: %w", c.ID, err)
	}
	return nil
}

// PutLesson inserts or replaces a lesson.
func (w *CatalogWriter) PutLesson(ctx context.Context, l LessonRecord) error {
	_, err := w.store.db.ExecContext(ctx, `
		INSERT INTO lessons (id, course_id, title, position) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			course_id = excluded.course_id, title = excluded.title, position = excluded.position
	`, l.ID, l.CourseID, l.Title, l.Position)
	if err != nil {
		return fmt.Errorf("put lesson %d: %w", l.ID, err)
	}
	return nil
}

// Enroll records an enrollment; re-enrolling keeps the first timestamp.
func (w *CatalogWriter) Enroll(ctx context.Context, courseID, userID int64, at time.Time) error {
	_, err := w.store.db.ExecContext(ctx, `
		INSERT INTO enrollments (course_id, user_id, enrolled_at) VALUES (?, ?, ?)
		ON CONFLICT (course_id, user_id) DO NOTHING
	`, courseID, userID, timeutil.ToMillis(at))
	if err != nil {
		return fmt.Errorf("enroll user %d in course %d: %w", userID, courseID, err)
	}
	return nil
}

// CompleteEnrollment marks a course finished for a user.
func (w *CatalogWriter) CompleteEnrollment(ctx context.Context, courseID, userID int64, at time.Time) error {
	_, err := w.store.db.ExecContext(ctx, `
		UPDATE enrollments SET completed_at = COALESCE(completed_at, ?)
		WHERE course_id = ? AND user_id = ?
	`, timeutil.ToMillis(at), courseID, userID)
	if err != nil {
		return fmt.Errorf("complete enrollment: %w", err)
	}
	return nil
}

// PutReview inserts or replaces the review of a user.
func (w *CatalogWriter) PutReview(ctx context.Context, courseID, userID int64, rating int, at time.Time) error {
	_, err := w.store.db.ExecContext(ctx, `
		INSERT INTO course_reviews (course_id, user_id, rating, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (course_id, user_id) DO UPDATE SET
			rating = excluded.rating, created_at = excluded.created_at
	`, courseID, userID, rating, timeutil.ToMillis(at))
	if err != nil {
		return fmt.Errorf("put review: %w", err)
	}
	return nil
}
