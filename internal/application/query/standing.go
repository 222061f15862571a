// Package query contains the read operations downstream consumers use:
// the authoritative rank, deviation and finalization state of a result.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hirohiroko250/autograder-system/internal/domain/scoring"
	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
	"github.com/hirohiroko250/autograder-system/pkg/circuitbreaker"
	"github.com/hirohiroko250/autograder-system/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STANDING VIEW
// ══════════════════════════════════════════════════════════════════════════════

// StandingView is the read model of one result: only what consumers see.
type StandingView struct {
	StudentID       string          `json:"student_id"`
	TestID          string          `json:"test_id"`
	TotalScore      int             `json:"total_score"`
	CorrectnessRate float64         `json:"correctness_rate"`
	Current         scoring.RankSet `json:"current"`
	Deviation       *float64        `json:"deviation,omitempty"`
	Finalized       bool            `json:"finalized"`
}

// NewStandingView projects a result: final ranks when finalized, temporary
// ranks otherwise.
func NewStandingView(r *scoring.AggregateResult) StandingView {
	v := StandingView{
		StudentID:       r.StudentID,
		TestID:          r.TestID,
		TotalScore:      r.TotalScore,
		CorrectnessRate: r.CorrectnessRate,
		Current:         r.CurrentRanks(),
		Finalized:       r.IsRankFinalized,
	}
	if r.Deviation != nil {
		d := *r.Deviation
		v.Deviation = &d
	}
	return v
}

// StandingCache caches standings per test. A miss returns (nil, nil).
// The generation of a test changes on every invalidation; SetStanding
// drops a standing read under an older generation.
type StandingCache interface {
	GetStanding(ctx context.Context, testID, studentID string) (*StandingView, error)
	Generation(ctx context.Context, testID string) (int64, error)
	SetStanding(ctx context.Context, gen int64, v StandingView) error
}

// DefaultReadTimeout bounds a shared repository read.
const DefaultReadTimeout = 5 * time.Second

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// StandingServiceConfig configures StandingService.
type StandingServiceConfig struct {
	// Breaker guards cache calls; a default cache breaker if nil.
	Breaker *circuitbreaker.CircuitBreaker
	Logger  *slog.Logger

	// ReadTimeout bounds a repository read shared by concurrent callers.
	// DefaultReadTimeout if zero.
	ReadTimeout time.Duration
}

// StandingService answers standing queries from the cache when possible and
// from the result repository otherwise. Concurrent misses for the same
// result share one repository read, which outlives a caller that gives up.
type StandingService struct {
	results     scoring.ResultRepository
	cache       StandingCache
	breaker     *circuitbreaker.CircuitBreaker
	group       singleflight.Group
	readTimeout time.Duration
	log         *slog.Logger
}

// NewStandingService creates a StandingService. cache may be nil.
func NewStandingService(results scoring.ResultRepository, cache StandingCache, cfg StandingServiceConfig) *StandingService {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.CacheBreaker("standing-cache",
			circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
				cfg.Logger.Warn("circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			}),
		)
	}
	return &StandingService{
		results:     results,
		cache:       cache,
		breaker:     cfg.Breaker,
		readTimeout: cfg.ReadTimeout,
		log:         cfg.Logger.With(logger.Component("standing_query")),
	}
}

// Standing returns the standing of a result.
// Returns shared.ErrResultNotFound if the student has no result for the test.
func (s *StandingService) Standing(ctx context.Context, studentID, testID string) (*StandingView, error) {
	if studentID == "" || testID == "" {
		return nil, shared.NewDomainError("scoring", "Standing", shared.ErrInvalidInput, "student_id and test_id are required")
	}

	if v := s.fromCache(ctx, testID, studentID); v != nil {
		return v, nil
	}

	key := testID + "/" + studentID
	ch := s.group.DoChan(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.readTimeout)
		defer cancel()

		// Read the generation first so an invalidation racing the
		// repository read makes the fill below a no-op.
		gen, cacheable := s.generation(ctx, testID)
		r, err := s.results.Get(ctx, studentID, testID)
		if err != nil {
			return nil, err
		}
		v := NewStandingView(r)
		if cacheable {
			s.toCache(ctx, gen, v)
		}
		return &v, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("standing: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("standing: %w", res.Err)
		}
		v := *res.Val.(*StandingView)
		return &v, nil
	}
}

// GetCurrentRank returns the authoritative rank of a result in a partition.
// A nil pair means the student is not ranked in that partition.
func (s *StandingService) GetCurrentRank(ctx context.Context, studentID, testID string, pt scoring.PartitionType) (*scoring.RankPair, error) {
	v, err := s.Standing(ctx, studentID, testID)
	if err != nil {
		return nil, err
	}
	p, ok := v.Current.Get(pt)
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// GetCurrentDeviation returns the grade-level deviation score.
// Returns shared.ErrDeviationNotComputed before the first rank pass.
func (s *StandingService) GetCurrentDeviation(ctx context.Context, studentID, testID string) (float64, error) {
	v, err := s.Standing(ctx, studentID, testID)
	if err != nil {
		return 0, err
	}
	if v.Deviation == nil {
		return 0, shared.ErrDeviationNotComputed
	}
	return *v.Deviation, nil
}

// IsFinalized reports whether the ranks of a result are final. A student
// without a result is not finalized.
func (s *StandingService) IsFinalized(ctx context.Context, studentID, testID string) (bool, error) {
	v, err := s.Standing(ctx, studentID, testID)
	if err != nil {
		if shared.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return v.Finalized, nil
}

func (s *StandingService) fromCache(ctx context.Context, testID, studentID string) *StandingView {
	if s.cache == nil {
		return nil
	}
	start := time.Now()
	v, err := circuitbreaker.Call(ctx, s.breaker, func(ctx context.Context) (*StandingView, error) {
		return s.cache.GetStanding(ctx, testID, studentID)
	})
	if err != nil {
		if !circuitbreaker.IsRejected(err) {
			s.log.Warn("standing cache read failed", logger.TestID(testID), logger.Err(err))
		}
		return nil
	}
	if v != nil {
		s.log.Debug("standing cache hit", logger.TestID(testID), logger.StudentID(studentID), logger.Latency(time.Since(start)))
	}
	return v
}

func (s *StandingService) generation(ctx context.Context, testID string) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	gen, err := circuitbreaker.Call(ctx, s.breaker, func(ctx context.Context) (int64, error) {
		return s.cache.Generation(ctx, testID)
	})
	if err != nil {
		if !circuitbreaker.IsRejected(err) {
			s.log.Warn("standing cache generation read failed", logger.TestID(testID), logger.Err(err))
		}
		return 0, false
	}
	return gen, true
}

func (s *StandingService) toCache(ctx context.Context, gen int64, v StandingView) {
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.cache.SetStanding(ctx, gen, v)
	})
	if err != nil && !circuitbreaker.IsRejected(err) {
		s.log.Warn("standing cache write failed", logger.TestID(v.TestID), logger.Err(err))
	}
}
