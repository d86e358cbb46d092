package query

import (
	"context"

	"github.com/coursehub/learning-analytics/internal/application/validation"
	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
	"github.com/coursehub/learning-analytics/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DEMOGRAPHICS QUERY
// Returns the latest audience snapshot, or an illustrative one for courses
// that have none.
// ══════════════════════════════════════════════════════════════════════════════

// GetDemographicsQuery identifies the course.
type GetDemographicsQuery struct {
	CourseID int64 `validate:"gt=0"`
}

// DemographicsResult is a snapshot with its provenance.
type DemographicsResult struct {
	CourseID int64                          `json:"course_id"`
	Source   analytics.Source               `json:"source"`
	Snapshot analytics.DemographicsSnapshot `json:"snapshot"`
}

// GetDemographicsHandler handles GetDemographicsQuery.
type GetDemographicsHandler struct {
	selector *Selector
	log      *logger.Logger
}

// NewGetDemographicsHandler creates a new GetDemographicsHandler.
func NewGetDemographicsHandler(selector *Selector, log *logger.Logger) *GetDemographicsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetDemographicsHandler{selector: selector, log: log}
}

// Handle executes the query. A malformed stored snapshot is a validation
// error, not a reason to fall back to synthetic data.
func (h *GetDemographicsHandler) Handle(ctx context.Context, rc shared.RequestContext, q GetDemographicsQuery) (*DemographicsResult, error) {
	if err := validation.Struct("analytics", "GetDemographics", q); err != nil {
		return nil, err
	}

	agg, err := h.selector.ForDemographics(ctx, q.CourseID)
	if err != nil {
		return nil, err
	}
	snap, err := agg.Demographics(ctx, q.CourseID, rc.Clock())
	if err != nil {
		if shared.IsValidation(err) {
			h.log.Error("stored demographics snapshot rejected", logger.CourseID(q.CourseID), logger.Err(err))
		}
		return nil, err
	}
	if snap == nil {
		// Snapshot vanished between the presence check and the read.
		agg = h.selector.Synthetic()
		if snap, err = agg.Demographics(ctx, q.CourseID, rc.Clock()); err != nil {
			return nil, err
		}
	}

	return &DemographicsResult{
		CourseID: q.CourseID,
		Source:   agg.Source(),
		Snapshot: *snap,
	}, nil
}
