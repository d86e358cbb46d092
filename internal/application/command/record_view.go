package command

import (
	"context"

	"github.com/coursehub/learning-analytics/internal/application/validation"
	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
	"github.com/coursehub/learning-analytics/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD VIEW COMMAND
// Appends one course page view and refreshes that course's aggregate for the
// day of the view.
// ══════════════════════════════════════════════════════════════════════════════

// RecordViewCommand contains the data of one page view.
type RecordViewCommand struct {
	// CourseID is the viewed course.
	CourseID int64 `validate:"gt=0"`

	// UserID is the signed-in viewer; nil falls back to the request's user.
	UserID *int64 `validate:"omitempty,gt=0"`

	// DeviceType defaults to "unknown".
	DeviceType string `validate:"max=32"`

	// Source defaults to "direct".
	Source string `validate:"max=64"`

	// IPAddress is the viewer's address as seen by the web layer.
	IPAddress string `validate:"max=64"`
}

// RecordViewHandler handles RecordViewCommand.
type RecordViewHandler struct {
	views   analytics.ViewRepository
	rollup  *RefreshDailyStatHandler
	metrics Metrics
	log     *logger.Logger
}

// NewRecordViewHandler creates a new RecordViewHandler.
func NewRecordViewHandler(
	views analytics.ViewRepository,
	rollup *RefreshDailyStatHandler,
	metrics Metrics,
	log *logger.Logger,
) *RecordViewHandler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RecordViewHandler{
		views:   views,
		rollup:  rollup,
		metrics: metrics,
		log:     log.With(logger.Component("view_recorder")),
	}
}

// Handle stores the view and refreshes the day's rollup. A failed append
// skips the rollup. A failed rollup after a stored view is still reported;
// the next refresh of that day repairs the aggregate.
func (h *RecordViewHandler) Handle(ctx context.Context, rc shared.RequestContext, cmd RecordViewCommand) error {
	if err := validation.Struct("analytics", "RecordView", cmd); err != nil {
		return err
	}

	userID := cmd.UserID
	if userID == nil {
		userID = rc.UserID
	}

	view := analytics.NewCourseView(cmd.CourseID, userID, cmd.IPAddress, cmd.DeviceType, cmd.Source, rc.Clock())
	if err := h.views.AppendView(ctx, view); err != nil {
		h.log.Error("append view failed",
			logger.String(logger.RequestIDKey, rc.RequestID),
			logger.CourseID(cmd.CourseID),
			logger.Err(err),
		)
		return storeErr("analytics", "AppendView", err)
	}
	h.metrics.ViewRecorded(ctx)

	day := view.ViewedAt
	if _, err := h.rollup.Handle(ctx, rc, RefreshDailyStatCommand{CourseID: cmd.CourseID, StatDate: &day}); err != nil {
		return err
	}
	return nil
}
