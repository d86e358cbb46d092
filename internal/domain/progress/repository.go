package progress

import (
	"context"
	"time"
)

// ApplyRequest is one conditional write of a progress sample.
type ApplyRequest struct {
	UserID    int64
	LectureID int64
	CourseID  int64
	Sample    Sample
	Policy    MergePolicy
	At        time.Time
}

// Repository defines progress persistence.
// This interface is implemented by the infrastructure layer.
type Repository interface {
	// ResolveCourse returns the course owning a lecture.
	// Returns shared.ErrLectureNotFound when the lecture does not exist.
	ResolveCourse(ctx context.Context, lectureID int64) (int64, error)

	// Get returns the stored record, or nil with no error when none exists.
	Get(ctx context.Context, userID, lectureID int64) (*LectureProgress, error)

	// Apply creates the record or merges the sample into it in one atomic
	// statement guarded by the accept-if-improved rule.
	Apply(ctx context.Context, req ApplyRequest) (Outcome, error)
}
