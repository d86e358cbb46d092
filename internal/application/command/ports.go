// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"

	"github.com/coursehub/learning-analytics/internal/domain/shared"
)

// Metrics receives write-side counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RollupRefreshed(ctx context.Context, ok bool)
	ViewRecorded(ctx context.Context)
	ProgressSample(ctx context.Context, outcome string)
}

// SummaryInvalidator drops cached course summaries after their inputs change.
type SummaryInvalidator interface {
	Invalidate(ctx context.Context, courseID int64) error
}

type nopMetrics struct{}

func (nopMetrics) RollupRefreshed(context.Context, bool)  {}
func (nopMetrics) ViewRecorded(context.Context)           {}
func (nopMetrics) ProgressSample(context.Context, string) {}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(context.Context, int64) error { return nil }

// storeErr guarantees a repository failure carries a domain kind.
func storeErr(domain, op string, err error) error {
	if err == nil || shared.IsPersistence(err) || shared.IsNotFound(err) || shared.IsValidation(err) {
		return err
	}
	return shared.Persistence(domain, op, err)
}
