package analytics

import (
	"math"
	"time"

	"github.com/coursehub/learning-analytics/pkg/timeutil"
)

// PercentChange returns the whole-number percentage change between the last
// two values of series. It returns 0 when fewer than two values exist or the
// previous value is not positive. Halves round away from zero.
func PercentChange(series []float64) int {
	if len(series) < 2 {
		return 0
	}
	prev, curr := series[len(series)-2], series[len(series)-1]
	if prev <= 0 {
		return 0
	}
	return int(math.Round((curr - prev) / prev * 100))
}

// Trends are the headline trend deltas shown on a course dashboard.
type Trends struct {
	Views       int `json:"views"`
	Enrollments int `json:"enrollments"`
	Completions int `json:"completions"`
	Rating      int `json:"rating"`
}

// monthWindow returns the start of the month before now's month and the
// start of now's month.
func monthWindow(now time.Time) (prev, curr time.Time) {
	curr = timeutil.StartOfMonth(now)
	return curr.AddDate(0, -1, 0), curr
}

// TrendWindowStart is the first day whose stats ComputeTrends looks at.
func TrendWindowStart(now time.Time) time.Time {
	prev, _ := monthWindow(now)
	return prev
}

// ComputeTrends derives month-over-month trends. Counters compare the
// previous calendar month with the current one, a month without rows
// counting as zero. Rating compares the two most recent months that have
// reviews; ratings must be ordered by month ascending.
func ComputeTrends(stats []CourseDailyStat, ratings []MonthlyValue, now time.Time) Trends {
	prev, curr := monthWindow(now)
	prevKey, currKey := timeutil.MonthKey(prev), timeutil.MonthKey(curr)

	views := make([]float64, 2)
	enrollments := make([]float64, 2)
	completions := make([]float64, 2)
	for _, s := range stats {
		var i int
		switch timeutil.MonthKey(s.StatDate) {
		case prevKey:
			i = 0
		case currKey:
			i = 1
		default:
			continue
		}
		views[i] += float64(s.Views)
		enrollments[i] += float64(s.Enrollments)
		completions[i] += float64(s.LessonCompletions)
	}

	ratingSeries := make([]float64, 0, len(ratings))
	for _, r := range ratings {
		if r.Month > currKey {
			continue
		}
		ratingSeries = append(ratingSeries, r.Value)
	}

	return Trends{
		Views:       PercentChange(views),
		Enrollments: PercentChange(enrollments),
		Completions: PercentChange(completions),
		Rating:      PercentChange(ratingSeries),
	}
}
