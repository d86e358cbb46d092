package analytics

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/coursehub/learning-analytics/internal/domain/shared"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

// ══════════════════════════════════════════════════════════════════════════════
// TREND
// ══════════════════════════════════════════════════════════════════════════════

func TestPercentChange(t *testing.T) {
	tests := []struct {
		name   string
		series []float64
		want   int
	}{
		{"empty", nil, 0},
		{"single", []float64{100}, 0},
		{"growth", []float64{100, 150}, 50},
		{"zero baseline", []float64{0, 50}, 0},
		{"negative baseline", []float64{-10, 50}, 0},
		{"decline", []float64{200, 150}, -25},
		{"uses last two", []float64{1, 1000, 100, 110}, 10},
		{"half rounds away from zero", []float64{4, 4.5}, 13},
		{"negative half rounds away from zero", []float64{4, 3.5}, -13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PercentChange(tt.series))
		})
	}
}

func TestComputeTrends_MonthOverMonth(t *testing.T) {
	now := time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC)
	stats := []CourseDailyStat{
		{StatDate: day("2023-12-31"), Views: 999, Enrollments: 999, LessonCompletions: 999},
		{StatDate: day("2024-01-10"), Views: 60, Enrollments: 4, LessonCompletions: 10},
		{StatDate: day("2024-01-20"), Views: 40, Enrollments: 6, LessonCompletions: 0},
		{StatDate: day("2024-02-01"), Views: 150, Enrollments: 5, LessonCompletions: 10},
	}
	ratings := []MonthlyValue{
		{Month: "2023-11", Value: 2.0},
		{Month: "2024-01", Value: 4.0},
		{Month: "2024-02", Value: 4.5},
	}

	got := ComputeTrends(stats, ratings, now)

	assert.Equal(t, Trends{Views: 50, Enrollments: -50, Completions: 0, Rating: 13}, got)
	assert.Equal(t, day("2024-01-01"), TrendWindowStart(now))
}

func TestComputeTrends_EmptyCurrentMonth(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	stats := []CourseDailyStat{{StatDate: day("2024-01-15"), Views: 10}}

	got := ComputeTrends(stats, nil, now)

	assert.Equal(t, -100, got.Views)
	assert.Zero(t, got.Enrollments)
	assert.Zero(t, got.Rating)
}

// ══════════════════════════════════════════════════════════════════════════════
// BUCKETING
// ══════════════════════════════════════════════════════════════════════════════

func TestBucketEngagements_TotalsAndOrder(t *testing.T) {
	counts := []DailyEngagementCount{
		{Day: day("2024-03-01"), Type: EngagementComment, Count: 2},
		{Day: day("2024-03-01"), Type: EngagementShare, Count: 1},
		{Day: day("2024-03-03"), Type: EngagementNote, Count: 4},
		{Day: day("2024-02-28"), Type: EngagementQuestion, Count: 3},
	}

	daily := BucketEngagements(counts, PeriodDaily, 10)
	require.Len(t, daily, 3)
	assert.Equal(t, []string{"2024-03-03", "2024-03-01", "2024-02-28"},
		[]string{daily[0].Key, daily[1].Key, daily[2].Key})

	for _, b := range daily {
		sum := 0
		for _, n := range b.Counts {
			sum += n
		}
		assert.Equal(t, b.Total, sum, b.Key)
		assert.Len(t, b.Counts, len(AllEngagementTypes))
	}
	assert.Equal(t, 3, daily[1].Total)

	monthly := BucketEngagements(counts, PeriodMonthly, 1)
	require.Len(t, monthly, 1)
	assert.Equal(t, "2024-03", monthly[0].Key)
	assert.Equal(t, 7, monthly[0].Total)
	assert.Equal(t, day("2024-03-01"), monthly[0].Start)
}

func TestBucketEngagements_WeeklyISOKeys(t *testing.T) {
	counts := []DailyEngagementCount{
		{Day: day("2024-12-30"), Type: EngagementDownload, Count: 1},
		{Day: day("2025-01-05"), Type: EngagementDownload, Count: 1},
		{Day: day("2024-12-29"), Type: EngagementDownload, Count: 1},
	}

	weekly := BucketEngagements(counts, PeriodWeekly, 0)
	require.Len(t, weekly, 2)
	assert.Equal(t, "2025-W01", weekly[0].Key)
	assert.Equal(t, 2, weekly[0].Total)
	assert.Equal(t, day("2024-12-30"), weekly[0].Start)
	assert.Equal(t, "2024-W52", weekly[1].Key)
}

func TestParsePeriodAndLimit(t *testing.T) {
	assert.Equal(t, PeriodWeekly, ParsePeriod("WEEKLY"))
	assert.Equal(t, PeriodMonthly, ParsePeriod("monthly"))
	assert.Equal(t, PeriodDaily, ParsePeriod("hourly"))
	assert.Equal(t, PeriodDaily, ParsePeriod(""))

	assert.Equal(t, DefaultBucketLimit, NormalizeLimit(0, 0))
	assert.Equal(t, 30, NormalizeLimit(-5, 30))
	assert.Equal(t, MaxBucketLimit, NormalizeLimit(10_000, 12))
	assert.Equal(t, 7, NormalizeLimit(7, 12))
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNTHESIZER
// ══════════════════════════════════════════════════════════════════════════════

func TestSynthesizer_DailySeriesRanges(t *testing.T) {
	s := NewSynthesizer()
	for run := 0; run < 50; run++ {
		stats := s.DailySeries(7, day("2024-01-01"), day("2024-01-07"))
		require.Len(t, stats, 7)

		for i, st := range stats {
			assert.Equal(t, day("2024-01-01").AddDate(0, 0, i), st.StatDate)
			assert.Equal(t, int64(7), st.CourseID)
			assert.GreaterOrEqual(t, st.Views, 5)
			assert.LessOrEqual(t, st.Views, 30)
			assert.LessOrEqual(t, st.UniqueViewers, st.Views)
			assert.GreaterOrEqual(t, st.UniqueViewers*10, st.Views*6)
			assert.GreaterOrEqual(t, st.Enrollments, 0)
			assert.LessOrEqual(t, st.Enrollments*5, st.Views+4)
			assert.GreaterOrEqual(t, st.LessonCompletions, 0)
			assert.LessOrEqual(t, st.LessonCompletions*10, st.Views*3+9)
		}
	}
}

func TestSynthesizer_EngagementBuckets(t *testing.T) {
	now := time.Date(2024, 3, 15, 13, 0, 0, 0, time.UTC)
	s := NewSeededSynthesizer(42)

	daily := s.EngagementBuckets(PeriodDaily, 7, now)
	require.Len(t, daily, 7)
	for i, b := range daily {
		assert.Equal(t, day("2024-03-15").AddDate(0, 0, -i), b.Start)
		sum := 0
		for _, n := range b.Counts {
			assert.GreaterOrEqual(t, n, 0)
			assert.LessOrEqual(t, n, 5)
			sum += n
		}
		assert.Equal(t, b.Total, sum)
	}
	assert.Equal(t, "2024-03-15", daily[0].Key)
	assert.Equal(t, "2024-03-09", daily[6].Key)

	monthly := s.EngagementBuckets(PeriodMonthly, 3, now)
	require.Len(t, monthly, 3)
	assert.Equal(t, []string{"2024-03", "2024-02", "2024-01"},
		[]string{monthly[0].Key, monthly[1].Key, monthly[2].Key})

	weekly := s.EngagementBuckets(PeriodWeekly, 2, now)
	require.Len(t, weekly, 2)
	assert.Equal(t, 7, int(weekly[0].Start.Sub(weekly[1].Start).Hours()/24))

	assert.Empty(t, s.EngagementBuckets(PeriodDaily, 0, now))
}

func TestSynthesizer_Demographics(t *testing.T) {
	snap := NewSynthesizer().Demographics(3, time.Now())
	for _, d := range []Distribution{snap.AgeRanges, snap.Genders, snap.Countries, snap.ExperienceLevels} {
		assert.NotEmpty(t, d)
		for label, n := range d {
			assert.NotEmpty(t, label)
			assert.GreaterOrEqual(t, n, 0)
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEMOGRAPHICS DECODE
// ══════════════════════════════════════════════════════════════════════════════

func rawSnapshot(age string) RawSnapshot {
	return RawSnapshot{
		CourseID:         1,
		SnapshotDate:     day("2024-01-01"),
		AgeRanges:        []byte(age),
		Genders:          []byte(`{"female": 10, "male": 12}`),
		Countries:        []byte(`{"US": 4}`),
		ExperienceLevels: []byte(`{}`),
	}
}

func TestDecodeSnapshot(t *testing.T) {
	snap, err := DecodeSnapshot(rawSnapshot(`{"18-24": 3, "25-34": 9}`))
	require.NoError(t, err)
	assert.Equal(t, Distribution{"18-24": 3, "25-34": 9}, snap.AgeRanges)
	assert.Equal(t, 22, snap.Genders.Total())
	assert.Empty(t, snap.ExperienceLevels)

	malformed := []string{
		``,
		`null`,
		`[1, 2]`,
		`{"18-24": -1}`,
		`{"18-24": 1.5}`,
		`{"": 3}`,
		`{"18-24": {"nested": 1}}`,
		`{"18-24": true}`,
		`{"18-24": 1} {"x": 2}`,
	}
	for _, m := range malformed {
		_, err := DecodeSnapshot(rawSnapshot(m))
		assert.Error(t, err, m)
		assert.True(t, shared.IsValidation(err), m)
		assert.ErrorIs(t, err, shared.ErrMalformedSnapshot, m)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENTS
// ══════════════════════════════════════════════════════════════════════════════

func TestNewCourseView_Defaults(t *testing.T) {
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	v := NewCourseView(5, nil, " 10.0.0.1 ", "", "", at)

	assert.Equal(t, DefaultDeviceType, v.DeviceType)
	assert.Equal(t, DefaultViewSource, v.Source)
	assert.Equal(t, "10.0.0.1", v.IPAddress)
	assert.NotEqual(t, [16]byte{}, [16]byte(v.ID))
}

func TestViewerKey(t *testing.T) {
	uid := int64(99)
	assert.Equal(t, "u:99", ViewerKey(&uid, "1.2.3.4", "mobile"))

	a := ViewerKey(nil, "1.2.3.4", "mobile")
	b := ViewerKey(nil, "1.2.3.4", "Mobile ")
	c := ViewerKey(nil, "1.2.3.4", "desktop")
	d := ViewerKey(nil, "5.6.7.8", "mobile")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, 2+32)
	assert.NotContains(t, a, "1.2.3.4")

	// Anonymous keys are the first 16 bytes of BLAKE2b-256 over "ip|device".
	sum := blake2b.Sum256([]byte("1.2.3.4|mobile"))
	assert.Equal(t, "a:"+hex.EncodeToString(sum[:16]), a)
}

func TestParseEngagementType(t *testing.T) {
	got, err := ParseEngagementType(" Bookmark ")
	require.NoError(t, err)
	assert.Equal(t, EngagementBookmark, got)

	_, err = ParseEngagementType("like")
	assert.True(t, shared.IsValidation(err))
}
