// Package analytics contains the domain entities and pure business logic for
// course statistics: daily rollups, engagement bucketing, synthetic data,
// trend deltas and demographics snapshots.
package analytics

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coursehub/learning-analytics/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SOURCE TAG
// ══════════════════════════════════════════════════════════════════════════════

// Source tells callers whether a result came from stored data or was synthesized.
type Source string

const (
	SourceStored    Source = "stored"
	SourceSynthetic Source = "synthetic"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY STATS
// ══════════════════════════════════════════════════════════════════════════════

// CourseDailyStat is the per-course, per-day aggregate row.
// There is at most one row per (CourseID, StatDate).
type CourseDailyStat struct {
	CourseID          int64     `json:"course_id"`
	StatDate          time.Time `json:"stat_date"`
	Views             int       `json:"views"`
	UniqueViewers     int       `json:"unique_viewers"`
	Enrollments       int       `json:"enrollments"`
	LessonCompletions int       `json:"lesson_completions"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RAW EVENTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	DefaultDeviceType = "unknown"
	DefaultViewSource = "direct"
)

// CourseView is one append-only page-view event.
type CourseView struct {
	ID         uuid.UUID
	CourseID   int64
	UserID     *int64
	ViewedAt   time.Time
	IPAddress  string
	DeviceType string
	Source     string
	ViewerKey  string
}

// NewCourseView builds a view event, applying defaults and deriving the
// viewer key.
func NewCourseView(courseID int64, userID *int64, ip, device, source string, at time.Time) CourseView {
	device = strings.TrimSpace(device)
	if device == "" {
		device = DefaultDeviceType
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = DefaultViewSource
	}
	return CourseView{
		ID:         uuid.New(),
		CourseID:   courseID,
		UserID:     userID,
		ViewedAt:   at.UTC(),
		IPAddress:  strings.TrimSpace(ip),
		DeviceType: device,
		Source:     source,
		ViewerKey:  ViewerKey(userID, ip, device),
	}
}

// EngagementType enumerates the engagement actions a learner can take.
type EngagementType string

const (
	EngagementComment  EngagementType = "comment"
	EngagementQuestion EngagementType = "question"
	EngagementNote     EngagementType = "note"
	EngagementDownload EngagementType = "download"
	EngagementBookmark EngagementType = "bookmark"
	EngagementShare    EngagementType = "share"
)

// AllEngagementTypes lists every engagement type in display order.
var AllEngagementTypes = []EngagementType{
	EngagementComment,
	EngagementQuestion,
	EngagementNote,
	EngagementDownload,
	EngagementBookmark,
	EngagementShare,
}

// ParseEngagementType validates a raw engagement type.
func ParseEngagementType(s string) (EngagementType, error) {
	t := EngagementType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllEngagementTypes {
		if t == known {
			return t, nil
		}
	}
	return "", shared.ErrInvalidEngagementType
}

// CourseEngagement is one append-only engagement event.
type CourseEngagement struct {
	ID         uuid.UUID
	CourseID   int64
	UserID     *int64
	Type       EngagementType
	OccurredAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// PERIODS & BUCKETS
// ══════════════════════════════════════════════════════════════════════════════

// Period is the granularity of engagement buckets.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// ParsePeriod maps a raw period to a known value. Anything unrecognised
// becomes PeriodDaily.
func ParsePeriod(s string) Period {
	switch Period(strings.ToLower(strings.TrimSpace(s))) {
	case PeriodWeekly:
		return PeriodWeekly
	case PeriodMonthly:
		return PeriodMonthly
	default:
		return PeriodDaily
	}
}

// EngagementBucket holds per-type counts for one period.
type EngagementBucket struct {
	Key    string                 `json:"key"`
	Start  time.Time              `json:"start"`
	Counts map[EngagementType]int `json:"counts"`
	Total  int                    `json:"total"`
}

// NewEngagementBucket returns a bucket with every engagement type present at zero.
func NewEngagementBucket(key string, start time.Time) EngagementBucket {
	counts := make(map[EngagementType]int, len(AllEngagementTypes))
	for _, t := range AllEngagementTypes {
		counts[t] = 0
	}
	return EngagementBucket{Key: key, Start: start, Counts: counts}
}

// Add increments the count for t.
func (b *EngagementBucket) Add(t EngagementType, n int) {
	b.Counts[t] += n
	b.Total += n
}

// ══════════════════════════════════════════════════════════════════════════════
// COURSE FACTS
// ══════════════════════════════════════════════════════════════════════════════

// LessonProgressStat is the per-lesson progress breakdown of a course.
type LessonProgressStat struct {
	LessonID        int64   `json:"lesson_id"`
	Title           string  `json:"title"`
	Position        int     `json:"position"`
	Viewers         int     `json:"viewers"`
	Completions     int     `json:"completions"`
	AverageProgress float64 `json:"average_progress"`
}

// CourseFacts are the headline numbers of one course, read in a single pass.
type CourseFacts struct {
	CourseID          int64
	Title             string
	Price             decimal.Decimal
	TotalStudents     int
	CompletedStudents int
	ReviewCount       int
	AverageRating     decimal.Decimal
	TotalLessons      int
	TotalViews        int
	UniqueViewers     int
}

// MonthlyValue is a per-month aggregate, keyed "YYYY-MM".
type MonthlyValue struct {
	Month string
	Value float64
}
