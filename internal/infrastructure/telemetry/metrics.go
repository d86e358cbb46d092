// Package telemetry exposes the engine's OpenTelemetry instruments.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coursehub/learning-analytics/pkg/logger"
)

// MeterName scopes every instrument registered here.
const MeterName = "learning-analytics"

const (
	metricRollupRefresh     = "analytics_rollup_refresh_total"
	metricSyntheticFallback = "analytics_synthetic_fallback_total"
	metricProgressSample    = "analytics_progress_sample_total"
	metricViewRecorded      = "analytics_view_recorded_total"
	metricSweepDuration     = "analytics_rollup_sweep_duration_ms"
)

// Metrics implements the command and query metric ports. A nil *Metrics or
// one whose registration failed records nothing.
type Metrics struct {
	rollup   metric.Int64Counter
	fallback metric.Int64Counter
	progress metric.Int64Counter
	views    metric.Int64Counter
	sweep    metric.Float64Histogram
	enabled  bool
}

// NewMetrics registers the instruments on meter, or on the global meter
// provider when meter is nil.
func NewMetrics(meter metric.Meter, log *logger.Logger) *Metrics {
	if log == nil {
		log = logger.Nop()
	}
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(MeterName)
	}

	m := &Metrics{}
	var err error
	if m.rollup, err = meter.Int64Counter(metricRollupRefresh,
		metric.WithDescription("Daily rollup recomputations by result")); err != nil {
		log.Warn("register rollup counter", logger.Err(err))
		return m
	}
	if m.fallback, err = meter.Int64Counter(metricSyntheticFallback,
		metric.WithDescription("Reads served from synthetic data by kind")); err != nil {
		log.Warn("register fallback counter", logger.Err(err))
		return m
	}
	if m.progress, err = meter.Int64Counter(metricProgressSample,
		metric.WithDescription("Progress submissions by outcome")); err != nil {
		log.Warn("register progress counter", logger.Err(err))
		return m
	}
	if m.views, err = meter.Int64Counter(metricViewRecorded,
		metric.WithDescription("Course page views recorded")); err != nil {
		log.Warn("register view counter", logger.Err(err))
		return m
	}
	if m.sweep, err = meter.Float64Histogram(metricSweepDuration,
		metric.WithDescription("Wall time of one scheduled rollup sweep"), metric.WithUnit("ms")); err != nil {
		log.Warn("register sweep histogram", logger.Err(err))
		return m
	}
	m.enabled = true
	return m
}

// RollupRefreshed counts one refresh of a (course, day) row.
func (m *Metrics) RollupRefreshed(ctx context.Context, ok bool) {
	if m == nil || !m.enabled {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.rollup.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// ViewRecorded counts one stored page view.
func (m *Metrics) ViewRecorded(ctx context.Context) {
	if m == nil || !m.enabled {
		return
	}
	m.views.Add(ctx, 1)
}

// ProgressSample counts one progress submission by outcome.
func (m *Metrics) ProgressSample(ctx context.Context, outcome string) {
	if m == nil || !m.enabled {
		return
	}
	m.progress.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// SyntheticFallback counts one read answered by the synthesizer.
func (m *Metrics) SyntheticFallback(ctx context.Context, kind string) {
	if m == nil || !m.enabled {
		return
	}
	m.fallback.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// SweepFinished records the duration of one rollup sweep.
func (m *Metrics) SweepFinished(ctx context.Context, elapsed time.Duration, failed int) {
	if m == nil || !m.enabled {
		return
	}
	status := "ok"
	if failed > 0 {
		status = "partial"
	}
	m.sweep.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(attribute.String("status", status)))
}
