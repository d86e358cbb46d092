package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/internal/domain/progress"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
	"github.com/coursehub/learning-analytics/internal/infrastructure/persistence/postgres"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skip integration in short mode")
	}

	ctx := context.Background()
	dsn, terminate := startPostgres(ctx, t)
	t.Cleanup(terminate)

	conn, err := postgres.NewConnectionFromURL(ctx, dsn, postgres.DefaultPoolOptions())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	migrator := postgres.NewMigrator(conn)
	require.NoError(t, migrator.Migrate(ctx))
	// Second run is a no-op.
	require.NoError(t, migrator.Migrate(ctx))

	status, err := migrator.Status(ctx)
	require.NoError(t, err)
	for _, m := range status {
		assert.True(t, m.IsApplied, "migration %d not applied", m.Version)
	}

	// The newest step reverts and re-applies cleanly.
	require.NoError(t, migrator.Rollback(ctx))
	status, err = migrator.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status[len(status)-1].IsApplied)
	require.NoError(t, migrator.Migrate(ctx))

	seed(ctx, t, conn)

	stats := postgres.NewAnalyticsRepository(conn)
	courses := postgres.NewCourseRepository(conn)
	progressRepo := postgres.NewProgressRepository(conn)
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	t.Run("rollup is a pure recompute", func(t *testing.T) {
		uid := int64(42)
		for _, v := range []analytics.CourseView{
			analytics.NewCourseView(1, &uid, "", "", "", day.Add(9*time.Hour)),
			analytics.NewCourseView(1, &uid, "", "", "", day.Add(10*time.Hour)),
			analytics.NewCourseView(1, nil, "10.0.0.1", "mobile", "", day.Add(11*time.Hour)),
			analytics.NewCourseView(1, nil, "10.0.0.1", "mobile", "", day.Add(25*time.Hour)),
		} {
			require.NoError(t, stats.AppendView(ctx, v))
		}

		first, err := stats.RecomputeDailyStat(ctx, 1, day)
		require.NoError(t, err)
		assert.Equal(t, 3, first.Views)
		assert.Equal(t, 2, first.UniqueViewers)
		assert.Equal(t, 1, first.Enrollments)
		assert.True(t, first.StatDate.Equal(day))

		second, err := stats.RecomputeDailyStat(ctx, 1, day)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		stored, err := stats.ListDailyStats(ctx, 1, day, day)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, second, stored[0])

		has, err := stats.HasDailyStats(ctx, 1)
		require.NoError(t, err)
		assert.True(t, has)

		active, err := stats.ActiveCourses(ctx, day)
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, active)
	})

	t.Run("concurrent recomputes keep the latest totals", func(t *testing.T) {
		busy := day.AddDate(0, 0, 1)
		const writers = 16

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ip := fmt.Sprintf("10.1.0.%d", i)
				if err := stats.AppendView(ctx, analytics.NewCourseView(2, nil, ip, "", "", busy.Add(time.Duration(i)*time.Minute))); err != nil {
					errs <- err
					return
				}
				if _, err := stats.RecomputeDailyStat(ctx, 2, busy); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		stored, err := stats.ListDailyStats(ctx, 2, busy, busy)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, writers, stored[0].Views)
		assert.Equal(t, writers, stored[0].UniqueViewers)
	})

	t.Run("progress never regresses", func(t *testing.T) {
		at := day.Add(12 * time.Hour)
		apply := func(percent float64, completed bool, duration int) progress.Outcome {
			s, err := progress.NewSample(percent, completed, duration)
			require.NoError(t, err)
			outcome, err := progressRepo.Apply(ctx, progress.ApplyRequest{
				UserID: 7, LectureID: 1, CourseID: 1, Sample: s,
				Policy: progress.MergeHighWater, At: at,
			})
			require.NoError(t, err)
			at = at.Add(time.Minute)
			return outcome
		}

		assert.Equal(t, progress.OutcomeCreated, apply(60, false, 100))
		assert.Equal(t, progress.OutcomeUnchanged, apply(40, false, 50))
		assert.Equal(t, progress.OutcomeUpdated, apply(70, true, 20))

		lp, err := progressRepo.Get(ctx, 7, 1)
		require.NoError(t, err)
		require.NotNil(t, lp)
		assert.Equal(t, 70.0, lp.ProgressPercent)
		assert.Equal(t, 100, lp.DurationWatched)
		assert.True(t, lp.IsCompleted)
		require.NotNil(t, lp.CompletionTime)
		stamped := *lp.CompletionTime

		assert.Equal(t, progress.OutcomeUpdated, apply(90, false, 120))
		lp, err = progressRepo.Get(ctx, 7, 1)
		require.NoError(t, err)
		assert.True(t, lp.IsCompleted)
		assert.True(t, stamped.Equal(*lp.CompletionTime))
		assert.EqualValues(t, 3, lp.Revision)

		_, err = progressRepo.ResolveCourse(ctx, 999)
		assert.ErrorIs(t, err, shared.ErrLectureNotFound)
	})

	t.Run("demographics round trip", func(t *testing.T) {
		none, err := stats.LatestSnapshot(ctx, 1)
		require.NoError(t, err)
		assert.Nil(t, none)

		snap := analytics.DemographicsSnapshot{
			CourseID:         1,
			SnapshotDate:     day,
			AgeRanges:        analytics.Distribution{"18-24": 3},
			Genders:          analytics.Distribution{"female": 2, "male": 1},
			Countries:        analytics.Distribution{"KZ": 3},
			ExperienceLevels: analytics.Distribution{},
		}
		require.NoError(t, stats.SaveSnapshot(ctx, snap))

		raw, err := stats.LatestSnapshot(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, raw)
		decoded, err := analytics.DecodeSnapshot(*raw)
		require.NoError(t, err)
		assert.Equal(t, snap.Genders, decoded.Genders)
		assert.True(t, decoded.SnapshotDate.Equal(day))
	})

	t.Run("course facts", func(t *testing.T) {
		facts, err := courses.CourseFacts(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Go Fundamentals", facts.Title)
		assert.Equal(t, "49.99", facts.Price.StringFixed(2))
		assert.Equal(t, 2, facts.ReviewCount)
		assert.Equal(t, "4.50", facts.AverageRating.StringFixed(2))
		assert.Equal(t, 2, facts.TotalLessons)

		_, err = courses.CourseFacts(ctx, 404)
		assert.ErrorIs(t, err, shared.ErrCourseNotFound)

		lessons, err := courses.LessonProgressStats(ctx, 1)
		require.NoError(t, err)
		require.Len(t, lessons, 2)
		assert.Equal(t, "Intro", lessons[0].Title)
		assert.Equal(t, 0, lessons[1].Viewers)

		ratings, err := courses.MonthlyRatings(ctx, 1)
		require.NoError(t, err)
		require.Len(t, ratings, 2)
		assert.Equal(t, "2024-02", ratings[0].Month)
		assert.Equal(t, "2024-03", ratings[1].Month)
	})

	t.Run("engagement counts", func(t *testing.T) {
		uid := int64(3)
		for _, typ := range []analytics.EngagementType{
			analytics.EngagementComment, analytics.EngagementComment, analytics.EngagementShare,
		} {
			require.NoError(t, stats.AppendEngagement(ctx, analytics.CourseEngagement{
				ID: uuid.New(), CourseID: 1, UserID: &uid, Type: typ, OccurredAt: day.Add(8 * time.Hour),
			}))
		}
		counts, err := stats.DailyEngagementCounts(ctx, 1)
		require.NoError(t, err)

		buckets := analytics.BucketEngagements(counts, analytics.PeriodDaily, 10)
		require.Len(t, buckets, 1)
		assert.Equal(t, "2024-03-10", buckets[0].Key)
		assert.Equal(t, 2, buckets[0].Counts[analytics.EngagementComment])
		assert.Equal(t, 3, buckets[0].Total)
	})
}

func seed(ctx context.Context, t *testing.T, conn *postgres.Connection) {
	t.Helper()

	stmts := []string{
		`INSERT INTO courses (id, title, price) VALUES (1, 'Go Fundamentals', 49.99)`,
		`INSERT INTO lessons (id, course_id, title, position) VALUES (1, 1, 'Intro', 1), (2, 1, 'Channels', 2)`,
		`INSERT INTO enrollments (course_id, user_id, enrolled_at) VALUES (1, 42, '2024-03-10T08:00:00Z')`,
		`INSERT INTO course_reviews (course_id, user_id, rating, created_at) VALUES
			(1, 42, 4, '2024-02-14T10:00:00Z'),
			(1, 43, 5, '2024-03-02T10:00:00Z')`,
	}
	for _, stmt := range stmts {
		_, err := conn.Exec(ctx, stmt)
		require.NoError(t, err)
	}
}

func startPostgres(ctx context.Context, t *testing.T) (string, func()) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "analytics",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
			return fmt.Sprintf("postgres://postgres:postgres@%s:%s/analytics?sslmode=disable", host, port.Port())
		}).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("skip integration: cannot start postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/analytics?sslmode=disable", host, port.Port())
	cleanup := func() {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(termCtx)
	}
	return dsn, cleanup
}
