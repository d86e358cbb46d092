// Package progress contains the per-learner, per-lecture progress aggregate
// and the merge rules that keep it from regressing.
package progress

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/coursehub/learning-analytics/internal/domain/shared"
)

// MergePolicy decides which values are written when a sample is accepted.
type MergePolicy string

const (
	// MergeHighWater keeps each field at its own maximum.
	MergeHighWater MergePolicy = "high_water"
	// MergeOverwrite writes the sample's percent and duration verbatim once
	// any accept condition holds, so either may decrease.
	MergeOverwrite MergePolicy = "overwrite"
)

// ParseMergePolicy validates a configured policy. Empty means high-water.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch MergePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", MergeHighWater:
		return MergeHighWater, nil
	case MergeOverwrite:
		return MergeOverwrite, nil
	default:
		return "", fmt.Errorf("unknown progress merge policy %q", s)
	}
}

// Outcome reports what a submission did to the stored record.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

// Sample is one progress submission from a player.
type Sample struct {
	ProgressPercent float64
	IsCompleted     bool
	DurationWatched int
}

// NewSample validates and normalizes raw input. The percent is clamped into
// [0, 100]; a non-finite percent or a negative duration is rejected.
func NewSample(percent float64, completed bool, duration int) (Sample, error) {
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return Sample{}, shared.ErrInvalidPercent
	}
	if duration < 0 {
		return Sample{}, shared.ErrNegativeWatch
	}
	return Sample{
		ProgressPercent: math.Max(0, math.Min(100, percent)),
		IsCompleted:     completed,
		DurationWatched: duration,
	}, nil
}

// LectureProgress is the stored progress of one user on one lecture.
type LectureProgress struct {
	UserID          int64
	LectureID       int64
	CourseID        int64
	ProgressPercent float64
	IsCompleted     bool
	DurationWatched int
	StartTime       time.Time
	LastAccessTime  time.Time
	CompletionTime  *time.Time
	Revision        int64
}

// NewLectureProgress creates the first record for a (user, lecture) pair.
func NewLectureProgress(userID, lectureID, courseID int64, s Sample, at time.Time) *LectureProgress {
	at = at.UTC()
	lp := &LectureProgress{
		UserID:          userID,
		LectureID:       lectureID,
		CourseID:        courseID,
		ProgressPercent: s.ProgressPercent,
		IsCompleted:     s.IsCompleted,
		DurationWatched: s.DurationWatched,
		StartTime:       at,
		LastAccessTime:  at,
		Revision:        1,
	}
	if s.IsCompleted {
		lp.CompletionTime = &at
	}
	return lp
}

// Accepts reports whether s improves on the stored record: more progress,
// more watch time, or a first completion.
func (lp *LectureProgress) Accepts(s Sample) bool {
	return s.ProgressPercent > lp.ProgressPercent ||
		s.DurationWatched > lp.DurationWatched ||
		(s.IsCompleted && !lp.IsCompleted)
}

// Apply merges s into the record under policy and reports whether it changed.
// Completion is sticky and its timestamp is set only on the first completion.
// Stores perform the same merge as a single conditional write; this method
// replays it on a record already read.
func (lp *LectureProgress) Apply(s Sample, policy MergePolicy, at time.Time) bool {
	if !lp.Accepts(s) {
		return false
	}
	at = at.UTC()

	switch policy {
	case MergeOverwrite:
		lp.ProgressPercent = s.ProgressPercent
		lp.DurationWatched = s.DurationWatched
	default:
		lp.ProgressPercent = math.Max(lp.ProgressPercent, s.ProgressPercent)
		if s.DurationWatched > lp.DurationWatched {
			lp.DurationWatched = s.DurationWatched
		}
	}

	if s.IsCompleted && !lp.IsCompleted {
		lp.IsCompleted = true
		if lp.CompletionTime == nil {
			lp.CompletionTime = &at
		}
	}
	lp.LastAccessTime = at
	lp.Revision++
	return true
}
