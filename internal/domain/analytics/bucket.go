package analytics

import (
	"sort"
	"time"

	"github.com/coursehub/learning-analytics/pkg/timeutil"
)

const (
	// DefaultBucketLimit is used when a caller asks for zero or fewer buckets.
	DefaultBucketLimit = 12
	// MaxBucketLimit caps how many buckets a single call may return.
	MaxBucketLimit = 366
)

// NormalizeLimit coerces a requested bucket count into [1, MaxBucketLimit].
func NormalizeLimit(limit, fallback int) int {
	if fallback <= 0 {
		fallback = DefaultBucketLimit
	}
	if limit <= 0 {
		limit = fallback
	}
	if limit > MaxBucketLimit {
		limit = MaxBucketLimit
	}
	return limit
}

// PeriodStart returns the first instant of the bucket containing t.
func PeriodStart(p Period, t time.Time) time.Time {
	switch p {
	case PeriodWeekly:
		return timeutil.StartOfISOWeek(t)
	case PeriodMonthly:
		return timeutil.StartOfMonth(t)
	default:
		return timeutil.Day(t)
	}
}

// PeriodKey returns the bucket label for t: "YYYY-MM-DD", "YYYY-Www" or "YYYY-MM".
func PeriodKey(p Period, t time.Time) string {
	switch p {
	case PeriodWeekly:
		return timeutil.ISOWeekKey(t)
	case PeriodMonthly:
		return timeutil.MonthKey(t)
	default:
		return timeutil.FormatDay(t)
	}
}

// DailyEngagementCount is the number of events of one type on one UTC day.
type DailyEngagementCount struct {
	Day   time.Time
	Type  EngagementType
	Count int
}

// BucketEngagements groups daily counts by period, sums each type and returns
// at most limit buckets ordered by key descending.
func BucketEngagements(counts []DailyEngagementCount, p Period, limit int) []EngagementBucket {
	byKey := make(map[string]*EngagementBucket)
	for _, c := range counts {
		key := PeriodKey(p, c.Day)
		b, ok := byKey[key]
		if !ok {
			nb := NewEngagementBucket(key, PeriodStart(p, c.Day))
			b = &nb
			byKey[key] = b
		}
		b.Add(c.Type, c.Count)
	}

	buckets := make([]EngagementBucket, 0, len(byKey))
	for _, b := range byKey {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Key > buckets[j].Key
	})

	if limit > 0 && len(buckets) > limit {
		buckets = buckets[:limit]
	}
	return buckets
}
