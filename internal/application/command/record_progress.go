package command

import (
	"context"
	"time"

	"github.com/coursehub/learning-analytics/internal/application/validation"
	"github.com/coursehub/learning-analytics/internal/domain/progress"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
	"github.com/coursehub/learning-analytics/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD PROGRESS COMMAND
// Merges a player's progress sample into the learner's lecture record.
// Samples that do not improve the record are ignored, never an error.
// ══════════════════════════════════════════════════════════════════════════════

// RecordProgressCommand contains one progress submission.
type RecordProgressCommand struct {
	// UserID is the learner; zero falls back to the request's user.
	UserID int64 `validate:"gte=0"`

	// LectureID is the lecture being watched.
	LectureID int64 `validate:"gt=0"`

	// ProgressPercent is clamped into [0, 100].
	ProgressPercent float64

	// IsCompleted marks the lecture as finished.
	IsCompleted bool

	// DurationWatched is the watch time in seconds; must not be negative.
	DurationWatched int
}

// RecordProgressResult reports what happened to the stored record.
type RecordProgressResult struct {
	UserID    int64
	LectureID int64
	CourseID  int64
	Outcome   progress.Outcome

	// Record is the lecture record after this sample was merged. It is nil
	// only when the sample was ignored and no record exists yet.
	Record *progress.LectureProgress
}

// Accepted reports whether the sample changed the stored record.
func (r *RecordProgressResult) Accepted() bool {
	return r.Outcome == progress.OutcomeCreated || r.Outcome == progress.OutcomeUpdated
}

// RecordProgressHandler handles RecordProgressCommand.
type RecordProgressHandler struct {
	repo    progress.Repository
	policy  progress.MergePolicy
	metrics Metrics
	log     *logger.Logger
}

// NewRecordProgressHandler creates a new RecordProgressHandler.
func NewRecordProgressHandler(
	repo progress.Repository,
	policy progress.MergePolicy,
	metrics Metrics,
	log *logger.Logger,
) *RecordProgressHandler {
	if policy == "" {
		policy = progress.MergeHighWater
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("progress_tracker"))
	if policy == progress.MergeOverwrite {
		log.Warn("progress merge policy allows progress and watch time to decrease",
			logger.String("policy", string(policy)))
	}
	return &RecordProgressHandler{
		repo:    repo,
		policy:  policy,
		metrics: metrics,
		log:     log,
	}
}

// Policy returns the merge policy in effect.
func (h *RecordProgressHandler) Policy() progress.MergePolicy {
	return h.policy
}

// Handle validates the sample, resolves the lecture's course and applies the
// sample in a single conditional write. The returned record is the stored
// record merged with the sample as seen by this submission.
func (h *RecordProgressHandler) Handle(ctx context.Context, rc shared.RequestContext, cmd RecordProgressCommand) (*RecordProgressResult, error) {
	if cmd.UserID == 0 && rc.UserID != nil {
		cmd.UserID = *rc.UserID
	}
	if err := validation.Struct("progress", "RecordProgress", cmd); err != nil {
		return nil, err
	}
	if cmd.UserID <= 0 {
		return nil, shared.Validation("progress", "RecordProgress", "user_id is required")
	}

	sample, err := progress.NewSample(cmd.ProgressPercent, cmd.IsCompleted, cmd.DurationWatched)
	if err != nil {
		return nil, err
	}

	courseID, err := h.repo.ResolveCourse(ctx, cmd.LectureID)
	if err != nil {
		return nil, storeErr("progress", "ResolveCourse", err)
	}

	prev, err := h.repo.Get(ctx, cmd.UserID, cmd.LectureID)
	if err != nil {
		return nil, storeErr("progress", "Get", err)
	}

	outcome, err := h.repo.Apply(ctx, progress.ApplyRequest{
		UserID:    cmd.UserID,
		LectureID: cmd.LectureID,
		CourseID:  courseID,
		Sample:    sample,
		Policy:    h.policy,
		At:        rc.Clock(),
	})
	if err != nil {
		h.log.Error("apply progress failed",
			logger.String(logger.RequestIDKey, rc.RequestID),
			logger.UserID(cmd.UserID),
			logger.LectureID(cmd.LectureID),
			logger.Err(err),
		)
		return nil, storeErr("progress", "Apply", err)
	}

	h.metrics.ProgressSample(ctx, string(outcome))
	h.log.Debug("progress sample processed",
		logger.UserID(cmd.UserID),
		logger.LectureID(cmd.LectureID),
		logger.CourseID(courseID),
		logger.String("outcome", string(outcome)),
	)

	record := h.merge(prev, cmd.UserID, cmd.LectureID, courseID, sample, outcome, rc.Clock())
	if outcome == progress.OutcomeUpdated && prev != nil && record != nil {
		h.warnRegression(rc, prev, record)
	}

	return &RecordProgressResult{
		UserID:    cmd.UserID,
		LectureID: cmd.LectureID,
		CourseID:  courseID,
		Outcome:   outcome,
		Record:    record,
	}, nil
}

// merge replays the store's write on the record read before it.
func (h *RecordProgressHandler) merge(
	prev *progress.LectureProgress,
	userID, lectureID, courseID int64,
	sample progress.Sample,
	outcome progress.Outcome,
	at time.Time,
) *progress.LectureProgress {
	if prev == nil {
		if outcome == progress.OutcomeUnchanged {
			return nil
		}
		return progress.NewLectureProgress(userID, lectureID, courseID, sample, at)
	}
	record := *prev
	if outcome != progress.OutcomeUnchanged {
		record.Apply(sample, h.policy, at)
	}
	return &record
}

// warnRegression logs every field an overwrite moved backwards.
func (h *RecordProgressHandler) warnRegression(rc shared.RequestContext, prev, next *progress.LectureProgress) {
	if h.policy != progress.MergeOverwrite {
		return
	}
	if next.ProgressPercent < prev.ProgressPercent {
		h.log.Warn("progress percent decreased",
			logger.String(logger.RequestIDKey, rc.RequestID),
			logger.UserID(next.UserID),
			logger.LectureID(next.LectureID),
			logger.Float64("from", prev.ProgressPercent),
			logger.Float64("to", next.ProgressPercent),
		)
	}
	if next.DurationWatched < prev.DurationWatched {
		h.log.Warn("watch time decreased",
			logger.String(logger.RequestIDKey, rc.RequestID),
			logger.UserID(next.UserID),
			logger.LectureID(next.LectureID),
			logger.Int("from", prev.DurationWatched),
			logger.Int("to", next.DurationWatched),
		)
	}
}
