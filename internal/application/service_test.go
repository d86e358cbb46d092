package application_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/learning-analytics/internal/application"
	"github.com/coursehub/learning-analytics/internal/application/command"
	"github.com/coursehub/learning-analytics/internal/application/query"
	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/internal/domain/progress"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
	"github.com/coursehub/learning-analytics/internal/infrastructure/persistence/sqlite"
	"github.com/coursehub/learning-analytics/pkg/logger"
	"github.com/coursehub/learning-analytics/pkg/timeutil"
)

var now = time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

func request(userID *int64) shared.RequestContext {
	rc := shared.NewRequestContext(userID, "")
	rc.Now = now
	return rc
}

type harness struct {
	svc     *application.Service
	store   *sqlite.Store
	catalog *sqlite.CatalogWriter
	cache   *memoryCache
}

func newHarness(t *testing.T, policy progress.MergePolicy) *harness {
	t.Helper()
	return newLoggedHarness(t, policy, nil)
}

func newLoggedHarness(t *testing.T, policy progress.MergePolicy, log *logger.Logger) *harness {
	t.Helper()

	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "analytics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ar := sqlite.NewAnalyticsRepository(store)
	cache := newMemoryCache()
	svc := application.NewService(application.Repositories{
		Stats:        ar,
		Views:        ar,
		Engagements:  ar,
		Demographics: ar,
		Courses:      sqlite.NewCourseRepository(store),
		Progress:     sqlite.NewProgressRepository(store),
	}, application.Options{
		MergePolicy:  policy,
		Synthesizer:  analytics.NewSeededSynthesizer(42),
		SummaryCache: cache,
		Logger:       log,
	})

	h := &harness{svc: svc, store: store, catalog: sqlite.NewCatalogWriter(store), cache: cache}
	h.seed(t)
	return h
}

func (h *harness) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, h.catalog.PutCourse(ctx, sqlite.CourseRecord{ID: 1, Title: "Go Fundamentals", Price: decimal.RequireFromString("49.99")}))
	require.NoError(t, h.catalog.PutLesson(ctx, sqlite.LessonRecord{ID: 10, CourseID: 1, Title: "Intro", Position: 1}))
	require.NoError(t, h.catalog.PutLesson(ctx, sqlite.LessonRecord{ID: 11, CourseID: 1, Title: "Channels", Position: 2}))
	require.NoError(t, h.catalog.Enroll(ctx, 1, 42, now.Add(-2*time.Hour)))
	require.NoError(t, h.catalog.Enroll(ctx, 1, 43, now.AddDate(0, -1, 0)))
	require.NoError(t, h.catalog.CompleteEnrollment(ctx, 1, 43, now.Add(-time.Hour)))
	require.NoError(t, h.catalog.PutReview(ctx, 1, 42, 4, time.Date(2024, 2, 14, 10, 0, 0, 0, time.UTC)))
	require.NoError(t, h.catalog.PutReview(ctx, 1, 43, 5, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)))
}

// memoryCache is an in-process application.SummaryCache.
type memoryCache struct {
	mu          sync.Mutex
	entries     map[int64]*query.CourseSummary
	invalidated []int64
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[int64]*query.CourseSummary{}}
}

func (c *memoryCache) Get(_ context.Context, courseID int64) (*query.CourseSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[courseID], nil
}

func (c *memoryCache) Set(_ context.Context, s *query.CourseSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[s.CourseID] = s
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, courseID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, courseID)
	c.invalidated = append(c.invalidated, courseID)
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// DAILY STATS
// ═══════════════════════════════════════════════════════════════════════════

func TestDailyStats_SyntheticForCourseWithoutHistory(t *testing.T) {
	h := newHarness(t, "")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)

	res, err := h.svc.DailyStats(context.Background(), request(nil), 7, &start, &end)
	require.NoError(t, err)

	assert.Equal(t, analytics.SourceSynthetic, res.Source)
	require.Len(t, res.Stats, 7)
	for i, s := range res.Stats {
		assert.Equal(t, start.AddDate(0, 0, i), s.StatDate)
		assert.Equal(t, int64(7), s.CourseID)
		assert.GreaterOrEqual(t, s.Views, 5)
		assert.LessOrEqual(t, s.Views, 30)
		assert.LessOrEqual(t, s.UniqueViewers, s.Views)
		assert.GreaterOrEqual(t, s.UniqueViewers, 0)
		assert.GreaterOrEqual(t, s.Enrollments, 0)
		assert.GreaterOrEqual(t, s.LessonCompletions, 0)
	}

	// Synthetic data is never written back.
	var rows int
	require.NoError(t, h.store.DB().Get(&rows, "SELECT COUNT(*) FROM course_daily_stats WHERE course_id = 7"))
	assert.Zero(t, rows)
}

func TestDailyStats_DefaultRangeAndSwappedBounds(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	res, err := h.svc.DailyStats(ctx, request(nil), 7, nil, nil)
	require.NoError(t, err)
	assert.Len(t, res.Stats, query.DefaultRangeDays)
	assert.Equal(t, timeutil.Day(now), res.To)

	later := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	earlier := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	res, err = h.svc.DailyStats(ctx, request(nil), 7, &later, &earlier)
	require.NoError(t, err)
	assert.Equal(t, earlier, res.From)
	assert.Equal(t, later, res.To)
	assert.Len(t, res.Stats, 10)
}

func TestDailyStats_RangeCap(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	// A full leap year is the widest accepted range, one entry per day.
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	res, err := h.svc.DailyStats(ctx, request(nil), 7, &start, &end)
	require.NoError(t, err)
	require.Len(t, res.Stats, query.MaxRangeDays)
	assert.Equal(t, start, res.Stats[0].StatDate)
	assert.Equal(t, end, res.Stats[len(res.Stats)-1].StatDate)

	// Two years are rejected rather than trimmed.
	start = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	end = time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	res, err = h.svc.DailyStats(ctx, request(nil), 7, &start, &end)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Nil(t, res)

	// An open-ended range that reaches back too far is rejected as well.
	old := timeutil.Day(now).AddDate(-2, 0, 0)
	_, err = h.svc.DailyStats(ctx, request(nil), 7, &old, nil)
	assert.True(t, shared.IsValidation(err))
}

func TestDailyStats_RejectsInvalidCourse(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.svc.DailyStats(context.Background(), request(nil), 0, nil, nil)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}

// ═══════════════════════════════════════════════════════════════════════════
// VIEWS AND ROLLUP
// ═══════════════════════════════════════════════════════════════════════════

func TestRecordCourseView_RefreshesRollup(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	uid := int64(42)

	require.NoError(t, h.svc.RecordCourseView(ctx, request(&uid), command.RecordViewCommand{CourseID: 1}))
	require.NoError(t, h.svc.RecordCourseView(ctx, request(&uid), command.RecordViewCommand{CourseID: 1}))
	require.NoError(t, h.svc.RecordCourseView(ctx, request(nil), command.RecordViewCommand{
		CourseID: 1, IPAddress: "10.0.0.9", DeviceType: "Tablet",
	}))

	day := timeutil.Day(now)
	res, err := h.svc.DailyStats(ctx, request(nil), 1, &day, &day)
	require.NoError(t, err)
	assert.Equal(t, analytics.SourceStored, res.Source)
	require.Len(t, res.Stats, 1)

	stat := res.Stats[0]
	assert.Equal(t, 3, stat.Views)
	assert.Equal(t, 2, stat.UniqueViewers)
	assert.Equal(t, 1, stat.Enrollments)
	assert.Contains(t, h.cache.invalidated, int64(1))
}

func TestRecordCourseView_RejectsInvalidInput(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	err := h.svc.RecordCourseView(ctx, request(nil), command.RecordViewCommand{CourseID: 0})
	assert.True(t, shared.IsValidation(err))

	bad := int64(-3)
	err = h.svc.RecordCourseView(ctx, request(nil), command.RecordViewCommand{CourseID: 1, UserID: &bad})
	assert.True(t, shared.IsValidation(err))

	var views int
	require.NoError(t, h.store.DB().Get(&views, "SELECT COUNT(*) FROM course_views"))
	assert.Zero(t, views)
}

func TestRefreshDailyStat_IsIdempotent(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	uid := int64(42)
	require.NoError(t, h.svc.RecordCourseView(ctx, request(&uid), command.RecordViewCommand{CourseID: 1}))

	type row struct {
		CourseID          int64  `db:"course_id"`
		StatDate          string `db:"stat_date"`
		Views             int    `db:"views"`
		UniqueViewers     int    `db:"unique_viewers"`
		Enrollments       int    `db:"enrollments"`
		LessonCompletions int    `db:"lesson_completions"`
	}
	read := func() []row {
		var rows []row
		require.NoError(t, h.store.DB().Select(&rows,
			"SELECT course_id, stat_date, views, unique_viewers, enrollments, lesson_completions FROM course_daily_stats ORDER BY stat_date"))
		return rows
	}

	require.NoError(t, h.svc.RefreshDailyStat(ctx, request(nil), 1, nil))
	first := read()
	require.NoError(t, h.svc.RefreshDailyStat(ctx, request(nil), 1, nil))
	assert.Equal(t, first, read())
	require.Len(t, first, 1)
	assert.Equal(t, timeutil.FormatDay(now), first[0].StatDate)
}

func TestRefreshRange_WritesEveryDay(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	to := timeutil.Day(now)
	from := to.AddDate(0, 0, -4)
	stats, err := h.svc.RefreshRange(ctx, request(nil), 1, to, from)
	require.NoError(t, err)
	require.Len(t, stats, 5)
	assert.Equal(t, from, stats[0].StatDate)
	assert.Equal(t, to, stats[4].StatDate)

	ids, err := h.svc.ActiveCourses(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}

func TestRefreshRange_RejectsOversizedRange(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	to := timeutil.Day(now)
	stats, err := h.svc.RefreshRange(ctx, request(nil), 1, to.AddDate(0, 0, -command.MaxRefreshRangeDays), to)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Empty(t, stats)

	var rows int
	require.NoError(t, h.store.DB().Get(&rows, "SELECT COUNT(*) FROM course_daily_stats"))
	assert.Zero(t, rows, "nothing is written for a rejected range")

	stats, err = h.svc.RefreshRange(ctx, request(nil), 1, to.AddDate(0, 0, -(command.MaxRefreshRangeDays-1)), to)
	require.NoError(t, err)
	assert.Len(t, stats, command.MaxRefreshRangeDays)
}

func TestRecordCourseView_ConcurrentViewsAreAllCounted(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	const viewers = 24

	var wg sync.WaitGroup
	errs := make([]error, viewers)
	for i := 0; i < viewers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uid := int64(1000 + i)
			errs[i] = h.svc.RecordCourseView(ctx, request(&uid), command.RecordViewCommand{CourseID: 1})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	// No explicit refresh: the row written by the last view must already
	// include every view.
	day := timeutil.Day(now)
	res, err := h.svc.DailyStats(ctx, request(nil), 1, &day, &day)
	require.NoError(t, err)
	require.Len(t, res.Stats, 1)
	assert.Equal(t, viewers, res.Stats[0].Views)
	assert.Equal(t, viewers, res.Stats[0].UniqueViewers)
}

// ═══════════════════════════════════════════════════════════════════════════
// PROGRESS
// ═══════════════════════════════════════════════════════════════════════════

func TestRecordLectureProgress_HighWater(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	uid := int64(42)
	repo := sqlite.NewProgressRepository(h.store)

	res, err := h.svc.RecordLectureProgress(ctx, request(&uid), command.RecordProgressCommand{
		LectureID: 10, ProgressPercent: 50, DurationWatched: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, progress.OutcomeCreated, res.Outcome)
	assert.Equal(t, int64(1), res.CourseID)
	assert.Equal(t, uid, res.UserID)
	require.NotNil(t, res.Record)
	assert.Equal(t, 50.0, res.Record.ProgressPercent)
	assert.True(t, now.Equal(res.Record.StartTime))

	// Regression on every dimension is ignored.
	res, err = h.svc.RecordLectureProgress(ctx, request(&uid), command.RecordProgressCommand{
		LectureID: 10, ProgressPercent: 40, DurationWatched: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, progress.OutcomeUnchanged, res.Outcome)
	assert.False(t, res.Accepted())
	require.NotNil(t, res.Record)
	assert.Equal(t, 50.0, res.Record.ProgressPercent)
	assert.Equal(t, 30, res.Record.DurationWatched)

	before, err := repo.Get(ctx, uid, 10)
	require.NoError(t, err)
	assert.Equal(t, 50.0, before.ProgressPercent)
	assert.Equal(t, 30, before.DurationWatched)
	assert.Nil(t, before.CompletionTime)

	// First completion stamps the completion time once.
	res, err = h.svc.RecordLectureProgress(ctx, request(&uid), command.RecordProgressCommand{
		LectureID: 10, ProgressPercent: 70, IsCompleted: true, DurationWatched: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, progress.OutcomeUpdated, res.Outcome)

	after, err := repo.Get(ctx, uid, 10)
	require.NoError(t, err)
	assert.True(t, after.IsCompleted)
	assert.Equal(t, 70.0, after.ProgressPercent)
	assert.Equal(t, 30, after.DurationWatched)
	require.NotNil(t, after.CompletionTime)

	// The returned record matches what was stored.
	require.NotNil(t, res.Record)
	assert.Equal(t, after.ProgressPercent, res.Record.ProgressPercent)
	assert.Equal(t, after.DurationWatched, res.Record.DurationWatched)
	assert.Equal(t, after.IsCompleted, res.Record.IsCompleted)
	require.NotNil(t, res.Record.CompletionTime)
	assert.True(t, after.CompletionTime.Equal(*res.Record.CompletionTime))
	stamped := *after.CompletionTime

	later := request(&uid)
	later.Now = now.Add(time.Hour)
	_, err = h.svc.RecordLectureProgress(ctx, later, command.RecordProgressCommand{
		LectureID: 10, ProgressPercent: 100, IsCompleted: true, DurationWatched: 60,
	})
	require.NoError(t, err)
	final, err := repo.Get(ctx, uid, 10)
	require.NoError(t, err)
	assert.True(t, stamped.Equal(*final.CompletionTime))
	assert.Equal(t, 100.0, final.ProgressPercent)
}

func TestRecordLectureProgress_Overwrite(t *testing.T) {
	var buf bytes.Buffer
	h := newLoggedHarness(t, progress.MergeOverwrite, logger.New(logger.Options{Output: &buf, Format: "json"}))
	ctx := context.Background()
	uid := int64(42)
	assert.Equal(t, progress.MergeOverwrite, h.svc.MergePolicy())

	_, err := h.svc.RecordLectureProgress(ctx, request(&uid), command.RecordProgressCommand{
		LectureID: 10, ProgressPercent: 80, DurationWatched: 10,
	})
	require.NoError(t, err)

	// More watch time is an improvement, so the lower percent is taken literally.
	res, err := h.svc.RecordLectureProgress(ctx, request(&uid), command.RecordProgressCommand{
		LectureID: 10, ProgressPercent: 60, DurationWatched: 25,
	})
	require.NoError(t, err)
	assert.Equal(t, progress.OutcomeUpdated, res.Outcome)

	require.NotNil(t, res.Record)
	assert.Equal(t, 60.0, res.Record.ProgressPercent)
	assert.Equal(t, 25, res.Record.DurationWatched)

	lp, err := sqlite.NewProgressRepository(h.store).Get(ctx, uid, 10)
	require.NoError(t, err)
	assert.Equal(t, 60.0, lp.ProgressPercent)
	assert.Equal(t, 25, lp.DurationWatched)

	// Only the percent went backwards, so only it is reported.
	var regressions []map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
		switch entry["msg"] {
		case "progress percent decreased", "watch time decreased":
			regressions = append(regressions, entry)
		}
	}
	require.Len(t, regressions, 1)
	assert.Equal(t, "progress percent decreased", regressions[0]["msg"])
	assert.Equal(t, "WARN", regressions[0]["level"])
	assert.Equal(t, 80.0, regressions[0]["from"])
	assert.Equal(t, 60.0, regressions[0]["to"])
}

func TestRecordLectureProgress_HighWaterNeverWarns(t *testing.T) {
	var buf bytes.Buffer
	h := newLoggedHarness(t, progress.MergeHighWater, logger.New(logger.Options{Output: &buf, Format: "json"}))
	ctx := context.Background()
	uid := int64(42)

	for _, cmd := range []command.RecordProgressCommand{
		{LectureID: 10, ProgressPercent: 80, DurationWatched: 10},
		{LectureID: 10, ProgressPercent: 60, DurationWatched: 25},
	} {
		_, err := h.svc.RecordLectureProgress(ctx, request(&uid), cmd)
		require.NoError(t, err)
	}
	assert.NotContains(t, buf.String(), "decreased")
}

func TestRecordLectureProgress_Errors(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	uid := int64(42)

	_, err := h.svc.RecordLectureProgress(ctx, request(&uid), command.RecordProgressCommand{LectureID: 999, ProgressPercent: 10})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.svc.RecordLectureProgress(ctx, request(nil), command.RecordProgressCommand{LectureID: 10, ProgressPercent: 10})
	assert.True(t, shared.IsValidation(err), "anonymous submissions need an explicit user")

	_, err = h.svc.RecordLectureProgress(ctx, request(&uid), command.RecordProgressCommand{LectureID: 10, DurationWatched: -1})
	assert.ErrorIs(t, err, shared.ErrNegativeWatch)
}

func TestLessonProgressStats(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	for _, uid := range []int64{42, 43} {
		id := uid
		_, err := h.svc.RecordLectureProgress(ctx, request(&id), command.RecordProgressCommand{
			LectureID: 10, ProgressPercent: float64(id - 2), IsCompleted: id == 43,
		})
		require.NoError(t, err)
	}

	stats, err := h.svc.LessonProgressStats(ctx, request(nil), 1)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, int64(10), stats[0].LessonID)
	assert.Equal(t, 2, stats[0].Viewers)
	assert.Equal(t, 1, stats[0].Completions)
	assert.InDelta(t, 40.5, stats[0].AverageProgress, 0.001)

	assert.Equal(t, int64(11), stats[1].LessonID)
	assert.Zero(t, stats[1].Viewers)
	assert.Zero(t, stats[1].AverageProgress)
}

// ═══════════════════════════════════════════════════════════════════════════
// ENGAGEMENT AND DEMOGRAPHICS
// ═══════════════════════════════════════════════════════════════════════════

func TestEngagementMetrics_SyntheticDaily(t *testing.T) {
	h := newHarness(t, "")

	res, err := h.svc.EngagementMetrics(context.Background(), request(nil), 1, "daily", 7)
	require.NoError(t, err)
	assert.Equal(t, analytics.SourceSynthetic, res.Source)
	require.Len(t, res.Buckets, 7)

	today := timeutil.Day(now)
	for i, b := range res.Buckets {
		assert.Equal(t, today.AddDate(0, 0, -i), b.Start)
		assert.Equal(t, timeutil.FormatDay(b.Start), b.Key)
		sum := 0
		for _, n := range b.Counts {
			sum += n
		}
		assert.Equal(t, sum, b.Total)
	}
}

func TestEngagementMetrics_Stored(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	uid := int64(42)

	for _, kind := range []string{"comment", "question", "comment", "share"} {
		_, err := h.svc.RecordEngagement(ctx, request(&uid), command.RecordEngagementCommand{CourseID: 1, Type: kind})
		require.NoError(t, err)
	}
	_, err := h.svc.RecordEngagement(ctx, request(&uid), command.RecordEngagementCommand{CourseID: 1, Type: "like"})
	assert.True(t, shared.IsValidation(err))

	res, err := h.svc.EngagementMetrics(ctx, request(nil), 1, "monthly", 0)
	require.NoError(t, err)
	assert.Equal(t, analytics.SourceStored, res.Source)
	assert.Equal(t, analytics.PeriodMonthly, res.Period)
	require.Len(t, res.Buckets, 1)

	b := res.Buckets[0]
	assert.Equal(t, "2024-03", b.Key)
	assert.Equal(t, 4, b.Total)
	assert.Equal(t, 2, b.Counts[analytics.EngagementComment])
	assert.Equal(t, 0, b.Counts[analytics.EngagementBookmark])
}

func TestDemographicData(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	synthetic, err := h.svc.DemographicData(ctx, request(nil), 1)
	require.NoError(t, err)
	assert.Equal(t, analytics.SourceSynthetic, synthetic.Source)
	assert.NotEmpty(t, synthetic.Snapshot.Countries)

	_, err = h.svc.ImportDemographics(ctx, request(nil), command.ImportDemographicsCommand{
		CourseID:  1,
		AgeRanges: analytics.Distribution{"25-34": 12, "35-44": 3},
		Countries: analytics.Distribution{"KZ": 9, "DE": 6},
	})
	require.NoError(t, err)

	stored, err := h.svc.DemographicData(ctx, request(nil), 1)
	require.NoError(t, err)
	assert.Equal(t, analytics.SourceStored, stored.Source)
	assert.Equal(t, analytics.Distribution{"KZ": 9, "DE": 6}, stored.Snapshot.Countries)
	assert.Equal(t, 15, stored.Snapshot.AgeRanges.Total())
	assert.Equal(t, timeutil.Day(now), stored.Snapshot.SnapshotDate)

	_, err = h.svc.ImportDemographics(ctx, request(nil), command.ImportDemographicsCommand{
		CourseID: 1,
		Genders:  analytics.Distribution{"female": -1},
	})
	assert.ErrorIs(t, err, shared.ErrMalformedSnapshot)
}

// ═══════════════════════════════════════════════════════════════════════════
// COURSE SUMMARY
// ═══════════════════════════════════════════════════════════════════════════

func TestCourseSummary(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	uid := int64(42)
	require.NoError(t, h.svc.RecordCourseView(ctx, request(&uid), command.RecordViewCommand{CourseID: 1}))

	summary, err := h.svc.CourseSummary(ctx, request(nil), 1)
	require.NoError(t, err)

	assert.Equal(t, "Go Fundamentals", summary.Title)
	assert.Equal(t, 2, summary.TotalStudents)
	assert.Equal(t, 1, summary.CompletedStudents)
	assert.Equal(t, 2, summary.ReviewCount)
	assert.True(t, decimal.RequireFromString("4.5").Equal(summary.AverageRating))
	assert.True(t, decimal.RequireFromString("49.99").Equal(summary.Price))
	assert.Equal(t, 2, summary.TotalLessons)
	assert.Equal(t, 1, summary.TotalViews)
	assert.Equal(t, 25, summary.Trends.Rating)
	assert.Zero(t, summary.Trends.Views, "no views last month")
	assert.Equal(t, now, summary.GeneratedAt)

	cached, err := h.cache.Get(ctx, 1)
	require.NoError(t, err)
	assert.Same(t, summary, cached)

	again, err := h.svc.CourseSummary(ctx, request(nil), 1)
	require.NoError(t, err)
	assert.Same(t, summary, again)
}

func TestCourseSummary_UnknownCourse(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.svc.CourseSummary(context.Background(), request(nil), 404)
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)
}

// ═══════════════════════════════════════════════════════════════════════════
// STORE FAILURES
// ═══════════════════════════════════════════════════════════════════════════

var errDisk = errors.New("disk I/O error")

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) RecomputeDailyStat(context.Context, int64, time.Time) (analytics.CourseDailyStat, error) {
	return analytics.CourseDailyStat{}, errDisk
}
func (brokenStore) HasDailyStats(context.Context, int64) (bool, error) { return false, errDisk }
func (brokenStore) ListDailyStats(context.Context, int64, time.Time, time.Time) ([]analytics.CourseDailyStat, error) {
	return nil, errDisk
}
func (brokenStore) ActiveCourses(context.Context, time.Time) ([]int64, error)   { return nil, errDisk }
func (brokenStore) AppendView(context.Context, analytics.CourseView) error      { return errDisk }
func (brokenStore) AppendEngagement(context.Context, analytics.CourseEngagement) error {
	return errDisk
}
func (brokenStore) HasEngagements(context.Context, int64) (bool, error) { return false, errDisk }
func (brokenStore) DailyEngagementCounts(context.Context, int64) ([]analytics.DailyEngagementCount, error) {
	return nil, errDisk
}
func (brokenStore) HasSnapshot(context.Context, int64) (bool, error) { return false, errDisk }
func (brokenStore) LatestSnapshot(context.Context, int64) (*analytics.RawSnapshot, error) {
	return nil, errDisk
}
func (brokenStore) SaveSnapshot(context.Context, analytics.DemographicsSnapshot) error { return errDisk }
func (brokenStore) CourseFacts(context.Context, int64) (*analytics.CourseFacts, error) {
	return nil, errDisk
}
func (brokenStore) LessonProgressStats(context.Context, int64) ([]analytics.LessonProgressStat, error) {
	return nil, errDisk
}
func (brokenStore) MonthlyRatings(context.Context, int64) ([]analytics.MonthlyValue, error) {
	return nil, errDisk
}
func (brokenStore) ResolveCourse(context.Context, int64) (int64, error) { return 0, errDisk }
func (brokenStore) Get(context.Context, int64, int64) (*progress.LectureProgress, error) {
	return nil, errDisk
}
func (brokenStore) Apply(context.Context, progress.ApplyRequest) (progress.Outcome, error) {
	return "", errDisk
}

func TestService_StoreFailuresArePersistenceErrors(t *testing.T) {
	var b brokenStore
	svc := application.NewService(application.Repositories{
		Stats: b, Views: b, Engagements: b, Demographics: b, Courses: b, Progress: b,
	}, application.Options{})
	ctx := context.Background()
	uid := int64(1)

	calls := map[string]func() error{
		"CourseSummary": func() error { _, err := svc.CourseSummary(ctx, request(nil), 1); return err },
		"DailyStats":    func() error { _, err := svc.DailyStats(ctx, request(nil), 1, nil, nil); return err },
		"LessonStats":   func() error { _, err := svc.LessonProgressStats(ctx, request(nil), 1); return err },
		"Engagement":    func() error { _, err := svc.EngagementMetrics(ctx, request(nil), 1, "weekly", 4); return err },
		"Demographics":  func() error { _, err := svc.DemographicData(ctx, request(nil), 1); return err },
		"RecordView":    func() error { return svc.RecordCourseView(ctx, request(nil), command.RecordViewCommand{CourseID: 1}) },
		"RecordProgress": func() error {
			_, err := svc.RecordLectureProgress(ctx, request(&uid), command.RecordProgressCommand{LectureID: 1})
			return err
		},
		"Refresh":       func() error { return svc.RefreshDailyStat(ctx, request(nil), 1, nil) },
		"ActiveCourses": func() error { _, err := svc.ActiveCourses(ctx, now); return err },
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			require.Error(t, err)
			assert.True(t, shared.IsPersistence(err), "got %v", err)
			assert.ErrorIs(t, err, errDisk)
		})
	}
}
