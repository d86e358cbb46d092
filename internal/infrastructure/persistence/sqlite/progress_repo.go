package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/coursehub/learning-analytics/internal/domain/progress"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
	"github.com/coursehub/learning-analytics/pkg/timeutil"
)

// ProgressRepository implements progress.Repository over SQLite.
type ProgressRepository struct {
	store *Store
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(store *Store) *ProgressRepository {
	return &ProgressRepository{store: store}
}

var _ progress.Repository = (*ProgressRepository)(nil)

type lectureProgressRow struct {
	UserID          int64         `db:"user_id"`
	LectureID       int64         `db:"lecture_id"`
	CourseID        int64         `db:"course_id"`
	ProgressPercent float64       `db:"progress_percentage"`
	IsCompleted     bool          `db:"is_completed"`
	DurationWatched int           `db:"duration_watched"`
	StartTime       int64         `db:"start_time"`
	LastAccessTime  int64         `db:"last_access_time"`
	CompletionTime  sql.NullInt64 `db:"completion_time"`
	Revision        int64         `db:"revision"`
}

// ResolveCourse returns the course owning a lecture.
func (r *ProgressRepository) ResolveCourse(ctx context.Context, lectureID int64) (int64, error) {
	var courseID int64
	err := r.store.db.GetContext(ctx, &courseID, `SELECT course_id FROM lessons WHERE id = ?`, lectureID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, shared.ErrLectureNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve lecture course: %w", err)
	}
	return courseID, nil
}

// Get returns the stored record, or nil when none exists.
func (r *ProgressRepository) Get(ctx context.Context, userID, lectureID int64) (*progress.LectureProgress, error) {
	query := `
		SELECT user_id, lecture_id, course_id, progress_percentage, is_completed,
			   duration_watched, start_time, last_access_time, completion_time, revision
		FROM lecture_progress
		WHERE user_id = ? AND lecture_id = ?
	`

	var row lectureProgressRow
	err := r.store.db.GetContext(ctx, &row, query, userID, lectureID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lecture progress: %w", err)
	}

	lp := &progress.LectureProgress{
		UserID:          row.UserID,
		LectureID:       row.LectureID,
		CourseID:        row.CourseID,
		ProgressPercent: row.ProgressPercent,
		IsCompleted:     row.IsCompleted,
		DurationWatched: row.DurationWatched,
		StartTime:       timeutil.FromMillis(row.StartTime),
		LastAccessTime:  timeutil.FromMillis(row.LastAccessTime),
		Revision:        row.Revision,
	}
	if row.CompletionTime.Valid {
		t := timeutil.FromMillis(row.CompletionTime.Int64)
		lp.CompletionTime = &t
	}
	return lp, nil
}

// Apply creates the record or merges the sample in one conditional upsert.
// A sample that improves nothing matches no row and leaves the record as is.
func (r *ProgressRepository) Apply(ctx context.Context, req progress.ApplyRequest) (progress.Outcome, error) {
	percentExpr := "MAX(lecture_progress.progress_percentage, excluded.progress_percentage)"
	durationExpr := "MAX(lecture_progress.duration_watched, excluded.duration_watched)"
	if req.Policy == progress.MergeOverwrite {
		percentExpr = "excluded.progress_percentage"
		durationExpr = "excluded.duration_watched"
	}

	query := fmt.Sprintf(`
		INSERT INTO lecture_progress (
			user_id, lecture_id, course_id, progress_percentage, is_completed,
			duration_watched, start_time, last_access_time, completion_time, revision
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (user_id, lecture_id) DO UPDATE SET
			progress_percentage = %s,
			duration_watched = %s,
			is_completed = (lecture_progress.is_completed OR excluded.is_completed),
			completion_time = COALESCE(lecture_progress.completion_time, excluded.completion_time),
			last_access_time = excluded.last_access_time,
			revision = lecture_progress.revision + 1
		WHERE excluded.progress_percentage > lecture_progress.progress_percentage
		   OR excluded.duration_watched > lecture_progress.duration_watched
		   OR (excluded.is_completed AND NOT lecture_progress.is_completed)
		RETURNING revision
	`, percentExpr, durationExpr)

	at := timeutil.ToMillis(req.At)
	var completionTime sql.NullInt64
	if req.Sample.IsCompleted {
		completionTime = sql.NullInt64{Int64: at, Valid: true}
	}

	var revision int64
	err := r.store.db.GetContext(ctx, &revision, query,
		req.UserID,
		req.LectureID,
		req.CourseID,
		req.Sample.ProgressPercent,
		req.Sample.IsCompleted,
		req.Sample.DurationWatched,
		at,
		at,
		completionTime,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return progress.OutcomeUnchanged, nil
	}
	if err != nil {
		if isForeignKeyViolation(err) {
			return "", shared.ErrLectureNotFound
		}
		return "", fmt.Errorf("apply lecture progress: %w", err)
	}

	if revision == 1 {
		return progress.OutcomeCreated, nil
	}
	return progress.OutcomeUpdated, nil
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint")
}
