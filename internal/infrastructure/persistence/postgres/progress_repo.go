package postgres

import (
	"context"
	"fmt"

	"github.com/coursehub/learning-analytics/internal/domain/progress"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
)

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

var _ progress.Repository = (*ProgressRepository)(nil)

// ResolveCourse returns the course owning a lecture.
func (r *ProgressRepository) ResolveCourse(ctx context.Context, lectureID int64) (int64, error) {
	var courseID int64
	err := r.conn.QueryRow(ctx, `SELECT course_id FROM lessons WHERE id = $1`, lectureID).Scan(&courseID)
	if err != nil {
		if IsNoRows(err) {
			return 0, shared.ErrLectureNotFound
		}
		return 0, fmt.Errorf("failed to resolve lecture course: %w", err)
	}
	return courseID, nil
}

// Get returns the stored record, or nil when none exists.
func (r *ProgressRepository) Get(ctx context.Context, userID, lectureID int64) (*progress.LectureProgress, error) {
	query := `
		SELECT user_id, lecture_id, course_id, progress_percentage, is_completed,
			   duration_watched, start_time, last_access_time, completion_time, revision
		FROM lecture_progress
		WHERE user_id = $1 AND lecture_id = $2
	`

	var lp progress.LectureProgress
	err := r.conn.QueryRow(ctx, query, userID, lectureID).Scan(
		&lp.UserID,
		&lp.LectureID,
		&lp.CourseID,
		&lp.ProgressPercent,
		&lp.IsCompleted,
		&lp.DurationWatched,
		&lp.StartTime,
		&lp.LastAccessTime,
		&lp.CompletionTime,
		&lp.Revision,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lecture progress: %w", err)
	}
	lp.StartTime = lp.StartTime.UTC()
	lp.LastAccessTime = lp.LastAccessTime.UTC()
	if lp.CompletionTime != nil {
		t := lp.CompletionTime.UTC()
		lp.CompletionTime = &t
	}
	return &lp, nil
}

// Apply creates the record or merges the sample in one conditional upsert.
// The WHERE clause on the conflict branch is the accept-if-improved rule, so
// concurrent submissions for the same pair can never regress the row. A
// rejected sample returns no row.
func (r *ProgressRepository) Apply(ctx context.Context, req progress.ApplyRequest) (progress.Outcome, error) {
	percentExpr := "GREATEST(lp.progress_percentage, EXCLUDED.progress_percentage)"
	durationExpr := "GREATEST(lp.duration_watched, EXCLUDED.duration_watched)"
	if req.Policy == progress.MergeOverwrite {
		percentExpr = "EXCLUDED.progress_percentage"
		durationExpr = "EXCLUDED.duration_watched"
	}

	query := fmt.Sprintf(`
		INSERT INTO lecture_progress AS lp (
			user_id, lecture_id, course_id, progress_percentage, is_completed,
			duration_watched, start_time, last_access_time, completion_time, revision
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8, 1)
		ON CONFLICT (user_id, lecture_id) DO UPDATE SET
			progress_percentage = %s,
			duration_watched = %s,
			is_completed = lp.is_completed OR EXCLUDED.is_completed,
			completion_time = COALESCE(lp.completion_time, EXCLUDED.completion_time),
			last_access_time = EXCLUDED.last_access_time,
			revision = lp.revision + 1
		WHERE EXCLUDED.progress_percentage > lp.progress_percentage
		   OR EXCLUDED.duration_watched > lp.duration_watched
		   OR (EXCLUDED.is_completed AND NOT lp.is_completed)
		RETURNING revision
	`, percentExpr, durationExpr)

	at := req.At.UTC()
	var completionTime any
	if req.Sample.IsCompleted {
		completionTime = at
	}

	var revision int64
	err := r.conn.QueryRow(ctx, query,
		req.UserID,
		req.LectureID,
		req.CourseID,
		req.Sample.ProgressPercent,
		req.Sample.IsCompleted,
		req.Sample.DurationWatched,
		at,
		completionTime,
	).Scan(&revision)
	if err != nil {
		if IsNoRows(err) {
			return progress.OutcomeUnchanged, nil
		}
		if IsForeignKeyViolation(err) {
			return "", shared.ErrLectureNotFound
		}
		return "", fmt.Errorf("failed to apply lecture progress: %w", err)
	}

	if revision == 1 {
		return progress.OutcomeCreated, nil
	}
	return progress.OutcomeUpdated, nil
}
