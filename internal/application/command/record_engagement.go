package command

import (
	"context"

	"github.com/google/uuid"

	"github.com/coursehub/learning-analytics/internal/application/validation"
	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
	"github.com/coursehub/learning-analytics/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ENGAGEMENT COMMAND
// Appends one learner action (comment, question, note, download, bookmark,
// share) for participation analytics.
// ══════════════════════════════════════════════════════════════════════════════

// RecordEngagementCommand contains one engagement action.
type RecordEngagementCommand struct {
	CourseID int64  `validate:"gt=0"`
	UserID   *int64 `validate:"omitempty,gt=0"`
	Type     string `validate:"required"`
}

// RecordEngagementHandler handles RecordEngagementCommand.
type RecordEngagementHandler struct {
	repo analytics.EngagementRepository
	log  *logger.Logger
}

// NewRecordEngagementHandler creates a new RecordEngagementHandler.
func NewRecordEngagementHandler(repo analytics.EngagementRepository, log *logger.Logger) *RecordEngagementHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &RecordEngagementHandler{repo: repo, log: log.With(logger.Component("engagement"))}
}

// Handle validates the action type and appends the event.
func (h *RecordEngagementHandler) Handle(ctx context.Context, rc shared.RequestContext, cmd RecordEngagementCommand) (*analytics.CourseEngagement, error) {
	if err := validation.Struct("analytics", "RecordEngagement", cmd); err != nil {
		return nil, err
	}
	kind, err := analytics.ParseEngagementType(cmd.Type)
	if err != nil {
		return nil, err
	}

	userID := cmd.UserID
	if userID == nil {
		userID = rc.UserID
	}

	e := analytics.CourseEngagement{
		ID:         uuid.New(),
		CourseID:   cmd.CourseID,
		UserID:     userID,
		Type:       kind,
		OccurredAt: rc.Clock(),
	}
	if err := h.repo.AppendEngagement(ctx, e); err != nil {
		h.log.Error("append engagement failed", logger.CourseID(cmd.CourseID), logger.Err(err))
		return nil, storeErr("analytics", "AppendEngagement", err)
	}
	return &e, nil
}
