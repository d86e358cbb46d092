package command

import (
	"context"
	"time"

	"github.com/coursehub/learning-analytics/internal/application/validation"
	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
	"github.com/coursehub/learning-analytics/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// IMPORT DEMOGRAPHICS COMMAND
// Stores an audience snapshot produced outside the engine (survey exports,
// profile aggregation). One snapshot per course per day; re-import replaces.
// ══════════════════════════════════════════════════════════════════════════════

// ImportDemographicsCommand carries one snapshot.
type ImportDemographicsCommand struct {
	CourseID         int64 `validate:"gt=0"`
	SnapshotDate     *time.Time
	AgeRanges        analytics.Distribution
	Genders          analytics.Distribution
	Countries        analytics.Distribution
	ExperienceLevels analytics.Distribution
}

// ImportDemographicsHandler handles ImportDemographicsCommand.
type ImportDemographicsHandler struct {
	repo analytics.DemographicsRepository
}

// NewImportDemographicsHandler creates a new ImportDemographicsHandler.
func NewImportDemographicsHandler(repo analytics.DemographicsRepository) *ImportDemographicsHandler {
	return &ImportDemographicsHandler{repo: repo}
}

// Handle validates every distribution and stores the snapshot.
func (h *ImportDemographicsHandler) Handle(ctx context.Context, rc shared.RequestContext, cmd ImportDemographicsCommand) (*analytics.DemographicsSnapshot, error) {
	if err := validation.Struct("analytics", "ImportDemographics", cmd); err != nil {
		return nil, err
	}

	date := rc.Today()
	if cmd.SnapshotDate != nil && !cmd.SnapshotDate.IsZero() {
		date = timeutil.Day(*cmd.SnapshotDate)
	}

	snap := analytics.DemographicsSnapshot{
		CourseID:         cmd.CourseID,
		SnapshotDate:     date,
		AgeRanges:        cmd.AgeRanges,
		Genders:          cmd.Genders,
		Countries:        cmd.Countries,
		ExperienceLevels: cmd.ExperienceLevels,
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	if err := h.repo.SaveSnapshot(ctx, snap); err != nil {
		return nil, storeErr("analytics", "SaveSnapshot", err)
	}
	return &snap, nil
}
