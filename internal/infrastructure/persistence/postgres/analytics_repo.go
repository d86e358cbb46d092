package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ANALYTICS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AnalyticsRepository implements the analytics stats, view, engagement and
// demographics repositories for PostgreSQL.
type AnalyticsRepository struct {
	conn *Connection
}

// NewAnalyticsRepository creates a new AnalyticsRepository.
func NewAnalyticsRepository(conn *Connection) *AnalyticsRepository {
	return &AnalyticsRepository{conn: conn}
}

var (
	_ analytics.StatsRepository        = (*AnalyticsRepository)(nil)
	_ analytics.ViewRepository         = (*AnalyticsRepository)(nil)
	_ analytics.EngagementRepository   = (*AnalyticsRepository)(nil)
	_ analytics.DemographicsRepository = (*AnalyticsRepository)(nil)
)

// ─────────────────────────────────────────────────────────────────────────────
// Daily Rollup
// ─────────────────────────────────────────────────────────────────────────────

// RecomputeDailyStat counts the raw facts of one course-day and upserts the
// row in a single INSERT ... SELECT. A transaction-scoped advisory lock on
// the course-day serializes concurrent recomputes, and each one counts under
// a snapshot taken after the lock is granted.
func (r *AnalyticsRepository) RecomputeDailyStat(ctx context.Context, courseID int64, day time.Time) (analytics.CourseDailyStat, error) {
	query := `
		INSERT INTO course_daily_stats (
			course_id, stat_date, views, unique_viewers, enrollments, lesson_completions
		)
		SELECT
			$1::bigint,
			$4::date,
			(SELECT COUNT(*) FROM course_views
			  WHERE course_id = $1 AND viewed_at >= $2 AND viewed_at < $3),
			(SELECT COUNT(DISTINCT viewer_key) FROM course_views
			  WHERE course_id = $1 AND viewed_at >= $2 AND viewed_at < $3),
			(SELECT COUNT(*) FROM enrollments
			  WHERE course_id = $1 AND enrolled_at >= $2 AND enrolled_at < $3),
			(SELECT COUNT(*) FROM lecture_progress
			  WHERE course_id = $1 AND completion_time >= $2 AND completion_time < $3)
		ON CONFLICT (course_id, stat_date) DO UPDATE SET
			views = EXCLUDED.views,
			unique_viewers = EXCLUDED.unique_viewers,
			enrollments = EXCLUDED.enrollments,
			lesson_completions = EXCLUDED.lesson_completions
		RETURNING course_id, stat_date, views, unique_viewers, enrollments, lesson_completions
	`

	start, end := timeutil.DayBounds(day)
	lockKey := fmt.Sprintf("course_daily_stats:%d:%s", courseID, timeutil.FormatDay(start))

	var s analytics.CourseDailyStat
	err := r.conn.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
			return fmt.Errorf("lock course-day: %w", err)
		}
		return tx.QueryRow(ctx, query, courseID, start, end, start).Scan(
			&s.CourseID,
			&s.StatDate,
			&s.Views,
			&s.UniqueViewers,
			&s.Enrollments,
			&s.LessonCompletions,
		)
	})
	if err != nil {
		return analytics.CourseDailyStat{}, fmt.Errorf("failed to recompute daily stat: %w", err)
	}
	s.StatDate = timeutil.Day(s.StatDate)
	return s, nil
}

// HasDailyStats reports whether any rollup row exists for the course.
func (r *AnalyticsRepository) HasDailyStats(ctx context.Context, courseID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM course_daily_stats WHERE course_id = $1)`, courseID)
}

// ListDailyStats returns stored rows within [from, to], date ascending.
func (r *AnalyticsRepository) ListDailyStats(ctx context.Context, courseID int64, from, to time.Time) ([]analytics.CourseDailyStat, error) {
	query := `
		SELECT course_id, stat_date, views, unique_viewers, enrollments, lesson_completions
		FROM course_daily_stats
		WHERE course_id = $1 AND stat_date BETWEEN $2 AND $3
		ORDER BY stat_date ASC
	`

	rows, err := r.conn.Query(ctx, query, courseID, timeutil.Day(from), timeutil.Day(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list daily stats: %w", err)
	}
	defer rows.Close()

	var stats []analytics.CourseDailyStat
	for rows.Next() {
		var s analytics.CourseDailyStat
		if err := rows.Scan(
			&s.CourseID,
			&s.StatDate,
			&s.Views,
			&s.UniqueViewers,
			&s.Enrollments,
			&s.LessonCompletions,
		); err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}
		s.StatDate = timeutil.Day(s.StatDate)
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily stats: %w", err)
	}
	return stats, nil
}

// ActiveCourses returns the ids of courses with any raw fact on the day.
func (r *AnalyticsRepository) ActiveCourses(ctx context.Context, day time.Time) ([]int64, error) {
	query := `
		SELECT course_id FROM course_views WHERE viewed_at >= $1 AND viewed_at < $2
		UNION
		SELECT course_id FROM enrollments WHERE enrolled_at >= $1 AND enrolled_at < $2
		UNION
		SELECT course_id FROM lecture_progress WHERE completion_time >= $1 AND completion_time < $2
		ORDER BY course_id
	`

	start, end := timeutil.DayBounds(day)
	rows, err := r.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list active courses: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan active courses: %w", err)
	}
	return ids, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Raw Events
// ─────────────────────────────────────────────────────────────────────────────

// AppendView stores one page view.
func (r *AnalyticsRepository) AppendView(ctx context.Context, v analytics.CourseView) error {
	query := `
		INSERT INTO course_views (
			id, course_id, user_id, viewed_at, ip_address, device_type, source, viewer_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.conn.Exec(ctx, query,
		v.ID,
		v.CourseID,
		v.UserID,
		v.ViewedAt,
		v.IPAddress,
		v.DeviceType,
		v.Source,
		v.ViewerKey,
	)
	if err != nil {
		return fmt.Errorf("failed to append view: %w", err)
	}
	return nil
}

// AppendEngagement stores one engagement event.
func (r *AnalyticsRepository) AppendEngagement(ctx context.Context, e analytics.CourseEngagement) error {
	query := `
		INSERT INTO course_engagements (id, course_id, user_id, engagement_type, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.conn.Exec(ctx, query, e.ID, e.CourseID, e.UserID, string(e.Type), e.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to append engagement: %w", err)
	}
	return nil
}

// HasEngagements reports whether the course has any engagement rows.
func (r *AnalyticsRepository) HasEngagements(ctx context.Context, courseID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM course_engagements WHERE course_id = $1)`, courseID)
}

// DailyEngagementCounts returns per-day, per-type counts, grouped in UTC.
func (r *AnalyticsRepository) DailyEngagementCounts(ctx context.Context, courseID int64) ([]analytics.DailyEngagementCount, error) {
	query := `
		SELECT (occurred_at AT TIME ZONE 'UTC')::date AS day, engagement_type, COUNT(*)
		FROM course_engagements
		WHERE course_id = $1
		GROUP BY day, engagement_type
		ORDER BY day
	`

	rows, err := r.conn.Query(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to count engagements: %w", err)
	}
	defer rows.Close()

	var counts []analytics.DailyEngagementCount
	for rows.Next() {
		var (
			c       analytics.DailyEngagementCount
			rawType string
		)
		if err := rows.Scan(&c.Day, &rawType, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan engagement count: %w", err)
		}
		c.Day = timeutil.Day(c.Day)
		c.Type = analytics.EngagementType(rawType)
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate engagement counts: %w", err)
	}
	return counts, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Demographics
// ─────────────────────────────────────────────────────────────────────────────

// HasSnapshot reports whether the course has at least one snapshot.
func (r *AnalyticsRepository) HasSnapshot(ctx context.Context, courseID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM course_demographics_snapshots WHERE course_id = $1)`, courseID)
}

// LatestSnapshot returns the newest snapshot undecoded, or nil when none exists.
func (r *AnalyticsRepository) LatestSnapshot(ctx context.Context, courseID int64) (*analytics.RawSnapshot, error) {
	query := `
		SELECT course_id, snapshot_date, age_ranges, genders, countries, experience_levels
		FROM course_demographics_snapshots
		WHERE course_id = $1
		ORDER BY snapshot_date DESC
		LIMIT 1
	`

	var raw analytics.RawSnapshot
	err := r.conn.QueryRow(ctx, query, courseID).Scan(
		&raw.CourseID,
		&raw.SnapshotDate,
		&raw.AgeRanges,
		&raw.Genders,
		&raw.Countries,
		&raw.ExperienceLevels,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	raw.SnapshotDate = timeutil.Day(raw.SnapshotDate)
	return &raw, nil
}

// SaveSnapshot inserts or replaces the snapshot for (course, date).
func (r *AnalyticsRepository) SaveSnapshot(ctx context.Context, snap analytics.DemographicsSnapshot) error {
	query := `
		INSERT INTO course_demographics_snapshots (
			course_id, snapshot_date, age_ranges, genders, countries, experience_levels
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (course_id, snapshot_date) DO UPDATE SET
			age_ranges = EXCLUDED.age_ranges,
			genders = EXCLUDED.genders,
			countries = EXCLUDED.countries,
			experience_levels = EXCLUDED.experience_levels
	`

	docs, err := encodeDimensions(snap)
	if err != nil {
		return err
	}

	_, err = r.conn.Exec(ctx, query,
		snap.CourseID,
		timeutil.Day(snap.SnapshotDate),
		docs[0], docs[1], docs[2], docs[3],
	)
	if err != nil {
		return fmt.Errorf("failed to save demographics snapshot: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *AnalyticsRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := r.conn.QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return ok, nil
}

// encodeDimensions renders the four distributions as JSON text in column order.
func encodeDimensions(snap analytics.DemographicsSnapshot) ([4]string, error) {
	var out [4]string
	for i, d := range []analytics.Distribution{
		snap.AgeRanges,
		snap.Genders,
		snap.Countries,
		snap.ExperienceLevels,
	} {
		doc, err := analytics.EncodeDistribution(d)
		if err != nil {
			return out, fmt.Errorf("failed to encode distribution: %w", err)
		}
		out[i] = string(doc)
	}
	return out, nil
}
