package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/coursehub/learning-analytics/internal/application/query"
	"github.com/coursehub/learning-analytics/pkg/circuitbreaker"
)

// DefaultSummaryTTL bounds how stale a cached course summary may get.
const DefaultSummaryTTL = 5 * time.Minute

// SummaryCache caches course summaries. It implements query.SummaryCache and
// command.SummaryInvalidator.
type SummaryCache struct {
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.Breaker
}

// SummaryOption configures a SummaryCache.
type SummaryOption func(*SummaryCache)

// WithBreaker routes every Redis call through b. While b is open, reads miss
// and writes are skipped.
func WithBreaker(b *circuitbreaker.Breaker) SummaryOption {
	return func(s *SummaryCache) { s.breaker = b }
}

// NewSummaryCache creates a SummaryCache. A non-positive ttl uses DefaultSummaryTTL.
func NewSummaryCache(cache *Cache, ttl time.Duration, opts ...SummaryOption) *SummaryCache {
	if ttl <= 0 {
		ttl = DefaultSummaryTTL
	}
	s := &SummaryCache{cache: cache, ttl: ttl}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SummaryKey is the cache key of a course summary.
func SummaryKey(courseID int64) string {
	return PrefixAnalytics + "summary:" + strconv.FormatInt(courseID, 10)
}

// Get returns the cached summary, or nil on a miss.
func (s *SummaryCache) Get(ctx context.Context, courseID int64) (*query.CourseSummary, error) {
	load := func(ctx context.Context) (*query.CourseSummary, error) {
		var summary query.CourseSummary
		if err := s.cache.Get(ctx, SummaryKey(courseID), &summary); err != nil {
			return nil, err
		}
		return &summary, nil
	}

	var (
		summary *query.CourseSummary
		err     error
	)
	if s.breaker == nil {
		summary, err = load(ctx)
	} else {
		summary, err = circuitbreaker.Call(ctx, s.breaker, load)
	}
	switch {
	case err == nil:
		return summary, nil
	case errors.Is(err, ErrCacheMiss), circuitbreaker.Rejected(err):
		return nil, nil
	default:
		return nil, err
	}
}

// Set stores a summary for the configured TTL.
func (s *SummaryCache) Set(ctx context.Context, summary *query.CourseSummary) error {
	if summary == nil {
		return ErrCacheNilValue
	}
	err := s.guard(ctx, func(ctx context.Context) error {
		return s.cache.Set(ctx, SummaryKey(summary.CourseID), summary, s.ttl)
	})
	if circuitbreaker.Rejected(err) {
		return nil
	}
	return err
}

// Invalidate drops the cached summary of a course. A rejected call is
// reported so the caller can log that a stale entry may survive until TTL.
func (s *SummaryCache) Invalidate(ctx context.Context, courseID int64) error {
	return s.guard(ctx, func(ctx context.Context) error {
		return s.cache.Delete(ctx, SummaryKey(courseID))
	})
}

// Ping checks Redis directly, bypassing the breaker.
func (s *SummaryCache) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

func (s *SummaryCache) guard(ctx context.Context, fn func(context.Context) error) error {
	if s.breaker == nil {
		return fn(ctx)
	}
	return s.breaker.Do(ctx, fn)
}

// IsCacheFailure reports whether err says Redis itself is unhealthy, as
// opposed to a miss or a bad payload.
func IsCacheFailure(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrCacheMiss) &&
		!errors.Is(err, ErrCacheSerialization) &&
		!errors.Is(err, ErrCacheKeyEmpty) &&
		!errors.Is(err, ErrCacheNilValue)
}
