package redis

import (
	"context"
	"errors"
	"time"

	"github.com/hirohiroko250/autograder-system/internal/application/command"
	"github.com/hirohiroko250/autograder-system/internal/application/query"
)

// StandingCache stores one hash per test with a JSON standing per student,
// next to a counter that every invalidation bumps. It implements
// query.StandingCache and command.CacheInvalidator.
type StandingCache struct {
	cache *Cache
	ttl   time.Duration
}

var (
	_ query.StandingCache      = (*StandingCache)(nil)
	_ command.CacheInvalidator = (*StandingCache)(nil)
)

// NewStandingCache creates a new StandingCache. A non-positive ttl uses
// TTLStanding.
func NewStandingCache(cache *Cache, ttl time.Duration) *StandingCache {
	if ttl <= 0 {
		ttl = TTLStanding
	}
	return &StandingCache{cache: cache, ttl: ttl}
}

// GetStanding returns the cached standing, or nil on a miss.
func (s *StandingCache) GetStanding(ctx context.Context, testID, studentID string) (*query.StandingView, error) {
	var v query.StandingView
	if err := s.cache.HGetJSON(ctx, StandingKey(testID), studentID, &v); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// Generation returns the invalidation counter of a test.
func (s *StandingCache) Generation(ctx context.Context, testID string) (int64, error) {
	return s.cache.Version(ctx, StandingGenerationKey(testID))
}

// SetStanding caches a standing read under generation gen. The write is
// dropped when the test was invalidated since.
func (s *StandingCache) SetStanding(ctx context.Context, gen int64, v query.StandingView) error {
	_, err := s.cache.HSetJSONIfVersion(ctx, StandingKey(v.TestID), v.StudentID, v, s.ttl, StandingGenerationKey(v.TestID), gen)
	return err
}

// InvalidateTest drops every cached standing of a test and bumps its
// generation.
func (s *StandingCache) InvalidateTest(ctx context.Context, testID string) error {
	return s.cache.BumpVersion(ctx, StandingGenerationKey(testID), TTLStandingGeneration, StandingKey(testID))
}

// Ping checks that the underlying Redis is reachable.
func (s *StandingCache) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}
