// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"time"

	"github.com/coursehub/learning-analytics/internal/domain/analytics"
	"github.com/coursehub/learning-analytics/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATORS
// Two implementations of the same read surface. RealAggregator reads stored
// data; SyntheticAggregator fabricates placeholders and has no store handle,
// so synthetic output can never be written back. Selector picks one per
// course with a single presence check.
// ══════════════════════════════════════════════════════════════════════════════

// Aggregator produces the time-series reads behind the dashboard.
type Aggregator interface {
	Source() analytics.Source
	DailyStats(ctx context.Context, courseID int64, from, to time.Time) ([]analytics.CourseDailyStat, error)
	EngagementBuckets(ctx context.Context, courseID int64, period analytics.Period, limit int, now time.Time) ([]analytics.EngagementBucket, error)
	Demographics(ctx context.Context, courseID int64, now time.Time) (*analytics.DemographicsSnapshot, error)
}

// RealAggregator serves stored data.
type RealAggregator struct {
	stats        analytics.StatsRepository
	engagements  analytics.EngagementRepository
	demographics analytics.DemographicsRepository
}

// NewRealAggregator creates a RealAggregator.
func NewRealAggregator(
	stats analytics.StatsRepository,
	engagements analytics.EngagementRepository,
	demographics analytics.DemographicsRepository,
) *RealAggregator {
	return &RealAggregator{stats: stats, engagements: engagements, demographics: demographics}
}

// Source implements Aggregator.
func (a *RealAggregator) Source() analytics.Source { return analytics.SourceStored }

// DailyStats returns stored rows in [from, to], date ascending.
func (a *RealAggregator) DailyStats(ctx context.Context, courseID int64, from, to time.Time) ([]analytics.CourseDailyStat, error) {
	rows, err := a.stats.ListDailyStats(ctx, courseID, from, to)
	if err != nil {
		return nil, storeErr("analytics", "ListDailyStats", err)
	}
	return rows, nil
}

// EngagementBuckets groups stored events. now is unused; buckets come from
// whatever history exists.
func (a *RealAggregator) EngagementBuckets(ctx context.Context, courseID int64, period analytics.Period, limit int, _ time.Time) ([]analytics.EngagementBucket, error) {
	counts, err := a.engagements.DailyEngagementCounts(ctx, courseID)
	if err != nil {
		return nil, storeErr("analytics", "DailyEngagementCounts", err)
	}
	return analytics.BucketEngagements(counts, period, limit), nil
}

// Demographics decodes the latest stored snapshot. Returns nil when none exists.
func (a *RealAggregator) Demographics(ctx context.Context, courseID int64, _ time.Time) (*analytics.DemographicsSnapshot, error) {
	raw, err := a.demographics.LatestSnapshot(ctx, courseID)
	if err != nil {
		return nil, storeErr("analytics", "LatestSnapshot", err)
	}
	if raw == nil {
		return nil, nil
	}
	snap, err := analytics.DecodeSnapshot(*raw)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// SyntheticAggregator serves placeholder data.
type SyntheticAggregator struct {
	synth *analytics.Synthesizer
}

// NewSyntheticAggregator creates a SyntheticAggregator.
func NewSyntheticAggregator(synth *analytics.Synthesizer) *SyntheticAggregator {
	if synth == nil {
		synth = analytics.NewSynthesizer()
	}
	return &SyntheticAggregator{synth: synth}
}

// Source implements Aggregator.
func (a *SyntheticAggregator) Source() analytics.Source { return analytics.SourceSynthetic }

// DailyStats returns one synthetic entry per day in [from, to].
func (a *SyntheticAggregator) DailyStats(_ context.Context, courseID int64, from, to time.Time) ([]analytics.CourseDailyStat, error) {
	return a.synth.DailySeries(courseID, from, to), nil
}

// EngagementBuckets returns limit synthetic buckets ending at now.
func (a *SyntheticAggregator) EngagementBuckets(_ context.Context, _ int64, period analytics.Period, limit int, now time.Time) ([]analytics.EngagementBucket, error) {
	return a.synth.EngagementBuckets(period, limit, now), nil
}

// Demographics returns an illustrative snapshot.
func (a *SyntheticAggregator) Demographics(_ context.Context, courseID int64, now time.Time) (*analytics.DemographicsSnapshot, error) {
	snap := a.synth.Demographics(courseID, now)
	return &snap, nil
}

// Selector chooses between the real and synthetic aggregators.
type Selector struct {
	stored    *RealAggregator
	synthetic *SyntheticAggregator

	stats        analytics.StatsRepository
	engagements  analytics.EngagementRepository
	demographics analytics.DemographicsRepository
	metrics      Metrics
}

// NewSelector creates a Selector. metrics may be nil.
func NewSelector(stored *RealAggregator, synthetic *SyntheticAggregator, metrics Metrics) *Selector {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Selector{
		stored:       stored,
		synthetic:    synthetic,
		stats:        stored.stats,
		engagements:  stored.engagements,
		demographics: stored.demographics,
		metrics:      metrics,
	}
}

func (s *Selector) pick(ctx context.Context, kind string, has bool) Aggregator {
	if has {
		return s.stored
	}
	s.metrics.SyntheticFallback(ctx, kind)
	return s.synthetic
}

// ForDailyStats selects by the presence of any stored rollup row.
func (s *Selector) ForDailyStats(ctx context.Context, courseID int64) (Aggregator, error) {
	has, err := s.stats.HasDailyStats(ctx, courseID)
	if err != nil {
		return nil, storeErr("analytics", "HasDailyStats", err)
	}
	return s.pick(ctx, "daily_stats", has), nil
}

// ForEngagement selects by the presence of any engagement event.
func (s *Selector) ForEngagement(ctx context.Context, courseID int64) (Aggregator, error) {
	has, err := s.engagements.HasEngagements(ctx, courseID)
	if err != nil {
		return nil, storeErr("analytics", "HasEngagements", err)
	}
	return s.pick(ctx, "engagement", has), nil
}

// ForDemographics selects by the presence of any snapshot.
func (s *Selector) ForDemographics(ctx context.Context, courseID int64) (Aggregator, error) {
	has, err := s.demographics.HasSnapshot(ctx, courseID)
	if err != nil {
		return nil, storeErr("analytics", "HasSnapshot", err)
	}
	return s.pick(ctx, "demographics", has), nil
}

// Synthetic exposes the synthetic aggregator for fallbacks after selection.
func (s *Selector) Synthetic() *SyntheticAggregator {
	return s.synthetic
}

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Metrics receives read-side counters.
type Metrics interface {
	SyntheticFallback(ctx context.Context, kind string)
}

type nopMetrics struct{}

func (nopMetrics) SyntheticFallback(context.Context, string) {}

func storeErr(domain, op string, err error) error {
	if err == nil || shared.IsPersistence(err) || shared.IsNotFound(err) || shared.IsValidation(err) {
		return err
	}
	return shared.Persistence(domain, op, err)
}
