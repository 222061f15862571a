// Package jobs contains the scheduled jobs of the scoring worker.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hirohiroko250/autograder-system/internal/application/command"
	"github.com/hirohiroko250/autograder-system/internal/domain/scoring"
	"github.com/hirohiroko250/autograder-system/pkg/logger"
	"github.com/hirohiroko250/autograder-system/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE SCORES JOB
// ══════════════════════════════════════════════════════════════════════════════

// ScopeRunner runs aggregate and rank over a scope of tests.
type ScopeRunner interface {
	Handle(ctx context.Context, cmd command.RecomputeScopeCommand) (*command.ScopeResult, error)
}

// RecomputeScoresConfig contains configuration for the recompute job.
type RecomputeScoresConfig struct {
	// Period narrows the run to one period; 0 recomputes the whole year.
	Period scoring.Period

	// CountAbsent adds the likely-absent count to every test.
	CountAbsent bool

	// Location decides the current academic year.
	Location *time.Location
}

// RecomputeScoresJob recomputes every test of the current academic year.
// Ranks are written in auto mode, so tests past their deadline are
// finalized by the same run.
type RecomputeScoresJob struct {
	runner ScopeRunner
	clock  timeutil.Clock
	logger *slog.Logger
	config RecomputeScoresConfig

	last atomic.Pointer[command.ScopeResult]
}

// NewRecomputeScoresJob creates a new recompute job.
func NewRecomputeScoresJob(runner ScopeRunner, clock timeutil.Clock, log *slog.Logger, config RecomputeScoresConfig) *RecomputeScoresJob {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if config.Location == nil {
		config.Location = timeutil.JST
	}
	return &RecomputeScoresJob{
		runner: runner,
		clock:  clock,
		logger: log.With(logger.Component("recompute_scores_job")),
		config: config,
	}
}

// Name returns the job name.
func (j *RecomputeScoresJob) Name() string {
	return "recompute_scores"
}

// Description returns a human-readable description.
func (j *RecomputeScoresJob) Description() string {
	return "Aggregates, ranks and finalizes the tests of the current academic year"
}

// Run executes the job.
func (j *RecomputeScoresJob) Run(ctx context.Context) error {
	year := timeutil.AcademicYear(j.clock.Now(), j.config.Location)

	cmd := command.RecomputeScopeCommand{
		Year:        year,
		Period:      j.config.Period,
		Mode:        scoring.ModeAuto,
		CountAbsent: j.config.CountAbsent,
	}

	result, err := j.runner.Handle(ctx, cmd)
	if result != nil {
		j.last.Store(result)
	}
	if err != nil {
		return fmt.Errorf("recompute year %d: %w", year, err)
	}

	j.logger.Info("academic year recomputed",
		logger.RunID(result.RunID),
		slog.Int("year", year),
		slog.Int("tests", len(result.Tests)),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("rank_updated", result.RankUpdated),
		slog.Int("likely_absent", result.LikelyAbsent),
	)
	return nil
}

// LastResult returns the result of the most recent run, or nil.
func (j *RecomputeScoresJob) LastResult() *command.ScopeResult {
	return j.last.Load()
}
