package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/pkg/timeutil"
)

// AnalyticsRepository implements the analytics stats, view, engagement and
// demographics repositories over SQLite.
type AnalyticsRepository struct {
	store *Store
}

// NewAnalyticsRepository creates a new AnalyticsRepository.
func NewAnalyticsRepository(store *Store) *AnalyticsRepository {
	return &AnalyticsRepository{store: store}
}

var (
	_ analytics.StatsRepository        = (*AnalyticsRepository)(nil)
	_ analytics.ViewRepository         = (*AnalyticsRepository)(nil)
	_ analytics.EngagementRepository   = (*AnalyticsRepository)(nil)
	_ analytics.DemographicsRepository = (*AnalyticsRepository)(nil)
)

type dailyStatRow struct {
	CourseID          int64  `db:"course_id"`
	StatDate          string `db:"stat_date"`
	Views             int    `db:"views"`
	UniqueViewers     int    `db:"unique_viewers"`
	Enrollments       int    `db:"enrollments"`
	LessonCompletions int    `db:"lesson_completions"`
}

func (row dailyStatRow) stat() (analytics.CourseDailyStat, error) {
	day, err := timeutil.ParseDay(row.StatDate)
	if err != nil {
		return analytics.CourseDailyStat{}, fmt.Errorf("parse stat date %q: %w", row.StatDate, err)
	}
	return analytics.CourseDailyStat{
		CourseID:          row.CourseID,
		StatDate:          day,
		Views:             row.Views,
		UniqueViewers:     row.UniqueViewers,
		Enrollments:       row.Enrollments,
		LessonCompletions: row.LessonCompletions,
	}, nil
}

type engagementCountRow struct {
	Day   string `db:"day"`
	Type  string `db:"engagement_type"`
	Count int    `db:"n"`
}

type snapshotRow struct {
	CourseID         int64  `db:"course_id"`
	SnapshotDate     string `db:"snapshot_date"`
	AgeRanges        string `db:"age_ranges"`
	Genders          string `db:"genders"`
	Countries        string `db:"countries"`
	ExperienceLevels string `db:"experience_levels"`
}

// RecomputeDailyStat counts the raw facts of one course-day and upserts the
// row in a single INSERT ... SELECT, so the count and the write cannot be
// interleaved with another recompute. The WHERE true keeps the upsert clause
// from being parsed as a join constraint.
func (r *AnalyticsRepository) RecomputeDailyStat(ctx context.Context, courseID int64, day time.Time) (analytics.CourseDailyStat, error) {
	query := `
		INSERT INTO course_daily_stats (
			course_id, stat_date, views, unique_viewers, enrollments, lesson_completions
		)
		SELECT
			?,
			?,
			(SELECT COUNT(*) FROM course_views
			  WHERE course_id = ? AND viewed_at >= ? AND viewed_at < ?),
			(SELECT COUNT(DISTINCT viewer_key) FROM course_views
			  WHERE course_id = ? AND viewed_at >= ? AND viewed_at < ?),
			(SELECT COUNT(*) FROM enrollments
			  WHERE course_id = ? AND enrolled_at >= ? AND enrolled_at < ?),
			(SELECT COUNT(*) FROM lecture_progress
			  WHERE course_id = ? AND completion_time >= ? AND completion_time < ?)
		WHERE true
		ON CONFLICT (course_id, stat_date) DO UPDATE SET
			views = excluded.views,
			unique_viewers = excluded.unique_viewers,
			enrollments = excluded.enrollments,
			lesson_completions = excluded.lesson_completions
		RETURNING course_id, stat_date, views, unique_viewers, enrollments, lesson_completions
	`

	start, end := timeutil.DayBounds(day)
	from, to := timeutil.ToMillis(start), timeutil.ToMillis(end)

	var row dailyStatRow
	err := r.store.db.GetContext(ctx, &row, query,
		courseID, timeutil.FormatDay(start),
		courseID, from, to,
		courseID, from, to,
		courseID, from, to,
		courseID, from, to,
	)
	if err != nil {
		return analytics.CourseDailyStat{}, fmt.Errorf("recompute daily stat: %w", err)
	}
	return row.stat()
}

// HasDailyStats reports whether any rollup row exists for the course.
func (r *AnalyticsRepository) HasDailyStats(ctx context.Context, courseID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM course_daily_stats WHERE course_id = ?)`, courseID)
}

// ListDailyStats returns stored rows within [from, to], date ascending.
func (r *AnalyticsRepository) ListDailyStats(ctx context.Context, courseID int64, from, to time.Time) ([]analytics.CourseDailyStat, error) {
	query := `
		SELECT course_id, stat_date, views, unique_viewers, enrollments, lesson_completions
		FROM course_daily_stats
		WHERE course_id = ? AND stat_date BETWEEN ? AND ?
		ORDER BY stat_date ASC
	`

	var rows []dailyStatRow
	err := r.store.db.SelectContext(ctx, &rows, query, courseID, timeutil.FormatDay(from), timeutil.FormatDay(to))
	if err != nil {
		return nil, fmt.Errorf("list daily stats: %w", err)
	}

	stats := make([]analytics.CourseDailyStat, 0, len(rows))
	for _, row := range rows {
		stat, err := row.stat()
		if err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}
	return stats, nil
}

// ActiveCourses returns the ids of courses with any raw fact on the day.
func (r *AnalyticsRepository) ActiveCourses(ctx context.Context, day time.Time) ([]int64, error) {
	query := `
		SELECT course_id FROM course_views WHERE viewed_at >= ? AND viewed_at < ?
		UNION
		SELECT course_id FROM enrollments WHERE enrolled_at >= ? AND enrolled_at < ?
		UNION
		SELECT course_id FROM lecture_progress WHERE completion_time >= ? AND completion_time < ?
		ORDER BY course_id
	`

	start, end := timeutil.DayBounds(day)
	from, to := timeutil.ToMillis(start), timeutil.ToMillis(end)

	var ids []int64
	if err := r.store.db.SelectContext(ctx, &ids, query, from, to, from, to, from, to); err != nil {
		return nil, fmt.Errorf("list active courses: %w", err)
	}
	return ids, nil
}

// AppendView stores one page view.
func (r *AnalyticsRepository) AppendView(ctx context.Context, v analytics.CourseView) error {
	query := `
		INSERT INTO course_views (
			id, course_id, user_id, viewed_at, ip_address, device_type, source, viewer_key
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.store.db.ExecContext(ctx, query,
		v.ID.String(),
		v.CourseID,
		v.UserID,
		timeutil.ToMillis(v.ViewedAt),
		v.IPAddress,
		v.DeviceType,
		v.Source,
		v.ViewerKey,
	)
	if err != nil {
		return fmt.Errorf("append view: %w", err)
	}
	return nil
}

// AppendEngagement stores one engagement event.
func (r *AnalyticsRepository) AppendEngagement(ctx context.Context, e analytics.CourseEngagement) error {
	query := `
		INSERT INTO course_engagements (id, course_id, user_id, engagement_type, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.store.db.ExecContext(ctx, query,
		e.ID.String(), e.CourseID, e.UserID, string(e.Type), timeutil.ToMillis(e.OccurredAt))
	if err != nil {
		return fmt.Errorf("append engagement: %w", err)
	}
	return nil
}

// HasEngagements reports whether the course has any engagement rows.
func (r *AnalyticsRepository) HasEngagements(ctx context.Context, courseID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM course_engagements WHERE course_id = ?)`, courseID)
}

// DailyEngagementCounts returns per-day, per-type counts, grouped in UTC.
func (r *AnalyticsRepository) DailyEngagementCounts(ctx context.Context, courseID int64) ([]analytics.DailyEngagementCount, error) {
	query := `
		SELECT strftime('%Y-%m-%d', occurred_at / 1000, 'unixepoch') AS day,
			   engagement_type,
			   COUNT(*) AS n
		FROM course_engagements
		WHERE course_id = ?
		GROUP BY day, engagement_type
		ORDER BY day
	`

	var rows []engagementCountRow
	if err := r.store.db.SelectContext(ctx, &rows, query, courseID); err != nil {
		return nil, fmt.Errorf("count engagements: %w", err)
	}

	counts := make([]analytics.DailyEngagementCount, 0, len(rows))
	for _, row := range rows {
		day, err := timeutil.ParseDay(row.Day)
		if err != nil {
			return nil, fmt.Errorf("parse engagement day %q: %w", row.Day, err)
		}
		counts = append(counts, analytics.DailyEngagementCount{
			Day:   day,
			Type:  analytics.EngagementType(row.Type),
			Count: row.Count,
		})
	}
	return counts, nil
}

// HasSnapshot reports whether the course has at least one snapshot.
func (r *AnalyticsRepository) HasSnapshot(ctx context.Context, courseID int64) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM course_demographics_snapshots WHERE course_id = ?)`, courseID)
}

// LatestSnapshot returns the newest snapshot undecoded, or nil when none exists.
func (r *AnalyticsRepository) LatestSnapshot(ctx context.Context, courseID int64) (*analytics.RawSnapshot, error) {
	query := `
		SELECT course_id, snapshot_date, age_ranges, genders, countries, experience_levels
		FROM course_demographics_snapshots
		WHERE course_id = ?
		ORDER BY snapshot_date DESC
		LIMIT 1
	`

	var row snapshotRow
	err := r.store.db.GetContext(ctx, &row, query, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}

	day, err := timeutil.ParseDay(row.SnapshotDate)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot date %q: %w", row.SnapshotDate, err)
	}
	return &analytics.RawSnapshot{
		CourseID:         row.CourseID,
		SnapshotDate:     day,
		AgeRanges:        []byte(row.AgeRanges),
		Genders:          []byte(row.Genders),
		Countries:        []byte(row.Countries),
		ExperienceLevels: []byte(row.ExperienceLevels),
	}, nil
}

// SaveSnapshot inserts or replaces the snapshot for (course, date).
func (r *AnalyticsRepository) SaveSnapshot(ctx context.Context, snap analytics.DemographicsSnapshot) error {
	row := snapshotRow{
		CourseID:     snap.CourseID,
		SnapshotDate: timeutil.FormatDay(snap.SnapshotDate),
	}
	for _, dim := range []struct {
		d   analytics.Distribution
		dst *string
	}{
		{snap.AgeRanges, &row.AgeRanges},
		{snap.Genders, &row.Genders},
		{snap.Countries, &row.Countries},
		{snap.ExperienceLevels, &row.ExperienceLevels},
	} {
		doc, err := analytics.EncodeDistribution(dim.d)
		if err != nil {
			return fmt.Errorf("encode distribution: %w", err)
		}
		*dim.dst = string(doc)
	}

	query := `
		INSERT INTO course_demographics_snapshots (
			course_id, snapshot_date, age_ranges, genders, countries, experience_levels
		) VALUES (:course_id, :snapshot_date, :age_ranges, :genders, :countries, :experience_levels)
		ON CONFLICT (course_id, snapshot_date) DO UPDATE SET
			age_ranges = excluded.age_ranges,
			genders = excluded.genders,
			countries = excluded.countries,
			experience_levels = excluded.experience_levels
	`
	if _, err := r.store.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("save demographics snapshot: %w", err)
	}
	return nil
}

func (r *AnalyticsRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := r.store.db.GetContext(ctx, &ok, query, args...); err != nil {
		return false, fmt.Errorf("check existence: %w", err)
	}
	return ok, nil
}
