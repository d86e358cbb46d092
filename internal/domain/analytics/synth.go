package analytics

import (
	"math/rand/v2"
	"time"

	"github.com/coursehub/learning-analytics/pkg/timeutil"
)

// Per-period upper bound for a single engagement type in a synthetic bucket.
var syntheticEngagementMax = map[Period]int{
	PeriodDaily:   5,
	PeriodWeekly:  20,
	PeriodMonthly: 60,
}

// Synthesizer produces plausible placeholder data for courses that have no
// history yet. It holds no store handle; nothing it returns is ever persisted.
type Synthesizer struct {
	intn func(n int) int
}

// NewSynthesizer returns a synthesizer backed by the process-wide random source.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{intn: rand.IntN}
}

// NewSeededSynthesizer returns a synthesizer with its own seeded source.
func NewSeededSynthesizer(seed uint64) *Synthesizer {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return &Synthesizer{intn: r.IntN}
}

// between returns a uniform integer in [lo, hi].
func (s *Synthesizer) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.intn(hi-lo+1)
}

// ceilTenths returns ceil(v * tenths / 10) for non-negative v.
func ceilTenths(v, tenths int) int {
	return (v*tenths + 9) / 10
}

// DailySeries produces one stat per calendar day in [start, end].
func (s *Synthesizer) DailySeries(courseID int64, start, end time.Time) []CourseDailyStat {
	days := timeutil.EachDay(start, end)
	stats := make([]CourseDailyStat, 0, len(days))
	for _, day := range days {
		views := s.between(5, 30)
		stats = append(stats, CourseDailyStat{
			CourseID:          courseID,
			StatDate:          day,
			Views:             views,
			UniqueViewers:     s.between(ceilTenths(views, 6), views),
			Enrollments:       s.between(0, ceilTenths(views, 2)),
			LessonCompletions: s.between(0, ceilTenths(views, 3)),
		})
	}
	return stats
}

// EngagementBuckets produces limit buckets spaced by the period's interval,
// newest first, the newest containing now.
func (s *Synthesizer) EngagementBuckets(p Period, limit int, now time.Time) []EngagementBucket {
	ceiling, ok := syntheticEngagementMax[p]
	if !ok {
		p, ceiling = PeriodDaily, syntheticEngagementMax[PeriodDaily]
	}

	if limit < 0 {
		limit = 0
	}
	anchor := PeriodStart(p, now)
	buckets := make([]EngagementBucket, 0, limit)
	for i := 0; i < limit; i++ {
		var start time.Time
		switch p {
		case PeriodWeekly:
			start = anchor.AddDate(0, 0, -7*i)
		case PeriodMonthly:
			start = anchor.AddDate(0, -i, 0)
		default:
			start = anchor.AddDate(0, 0, -i)
		}

		b := NewEngagementBucket(PeriodKey(p, start), start)
		for _, t := range AllEngagementTypes {
			b.Add(t, s.between(0, ceiling))
		}
		buckets = append(buckets, b)
	}
	return buckets
}

var (
	synthAgeRanges  = []string{"18-24", "25-34", "35-44", "45-54", "55+"}
	synthGenders    = []string{"male", "female", "other"}
	synthCountries  = []string{"US", "IN", "GB", "DE", "BR", "KZ"}
	synthExperience = []string{"beginner", "intermediate", "advanced"}
)

// Demographics produces an illustrative snapshot dated today.
func (s *Synthesizer) Demographics(courseID int64, now time.Time) DemographicsSnapshot {
	fill := func(labels []string, lo, hi int) Distribution {
		d := make(Distribution, len(labels))
		for _, l := range labels {
			d[l] = s.between(lo, hi)
		}
		return d
	}
	return DemographicsSnapshot{
		CourseID:         courseID,
		SnapshotDate:     timeutil.Day(now),
		AgeRanges:        fill(synthAgeRanges, 5, 40),
		Genders:          fill(synthGenders, 2, 60),
		Countries:        fill(synthCountries, 1, 30),
		ExperienceLevels: fill(synthExperience, 5, 50),
	}
}
