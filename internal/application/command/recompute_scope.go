package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hirohiroko250/autograder-system/internal/domain/scoring"
	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
	"github.com/hirohiroko250/autograder-system/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE SCOPE COMMAND
// Runs aggregate → rank over one test or every test of a year/period,
// sequentially, one test at a time.
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeScopeCommand selects the tests to recompute. Either TestID or
// Year (optionally narrowed by Period) must be set.
type RecomputeScopeCommand struct {
	TestID string
	Year   int
	Period scoring.Period

	// Mode is passed to the rank step.
	Mode scoring.Mode

	// CountAbsent runs the likely-absent count after ranking.
	CountAbsent bool

	RunID string
}

// Validate validates the command.
func (c RecomputeScopeCommand) Validate() error {
	if c.TestID == "" && c.Year <= 0 {
		return shared.NewDomainError("scoring", "RecomputeScope", shared.ErrInvalidInput, "test_id or year is required")
	}
	if c.Period != 0 && !c.Period.IsValid() {
		return shared.ErrUnknownPeriod
	}
	return nil
}

// TestRun is the outcome of the scope steps on one test.
type TestRun struct {
	TestID    string   `json:"test_id"`
	Aggregate *Summary `json:"aggregate"`
	Rank      *Summary `json:"rank,omitempty"`
	Absent    *Summary `json:"absent,omitempty"`
}

// ScopeResult aggregates the runs of a scope.
type ScopeResult struct {
	RunID string    `json:"run_id"`
	Tests []TestRun `json:"tests"`

	Created      int `json:"created"`
	Updated      int `json:"updated"`
	RankUpdated  int `json:"rank_updated"`
	Skipped      int `json:"skipped"`
	LikelyAbsent int `json:"likely_absent"`
}

func (r *ScopeResult) add(run TestRun) {
	r.Tests = append(r.Tests, run)
	for _, s := range []*Summary{run.Aggregate, run.Rank, run.Absent} {
		if s == nil {
			continue
		}
		r.Created += s.Created
		r.Updated += s.Updated
		r.RankUpdated += s.RankUpdated
		r.Skipped += s.Skipped
		r.LikelyAbsent += s.LikelyAbsent
	}
}

// RecomputeScopeHandler handles RecomputeScopeCommand.
type RecomputeScopeHandler struct {
	deps       Dependencies
	aggregates *RecomputeAggregatesHandler
	ranks      *RecomputeRanksHandler
	absent     *LikelyAbsentHandler
}

// NewRecomputeScopeHandler creates a new RecomputeScopeHandler.
func NewRecomputeScopeHandler(deps Dependencies, cfg BatchConfig) *RecomputeScopeHandler {
	return &RecomputeScopeHandler{
		deps:       deps.withDefaults(),
		aggregates: NewRecomputeAggregatesHandler(deps, cfg),
		ranks:      NewRecomputeRanksHandler(deps, cfg),
		absent:     NewLikelyAbsentHandler(deps),
	}
}

// Handle recomputes every test in scope. A fatal error stops the run; the
// tests completed before it are still returned.
func (h *RecomputeScopeHandler) Handle(ctx context.Context, cmd RecomputeScopeCommand) (*ScopeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("recompute_scope: validation failed: %w", err)
	}

	result := &ScopeResult{RunID: newRunID(cmd.RunID), Tests: make([]TestRun, 0)}
	log := h.deps.Logger.With(logger.RunID(result.RunID), logger.Component("scope"))

	testIDs, err := h.testIDs(ctx, cmd)
	if err != nil {
		return result, err
	}
	log.Info("recomputing scope",
		slog.Int("tests", len(testIDs)),
		slog.Int("year", cmd.Year),
		slog.String("period", cmd.Period.String()),
	)

	for _, testID := range testIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		run := TestRun{TestID: testID}

		run.Aggregate, err = h.aggregates.Handle(ctx, RecomputeAggregatesCommand{TestID: testID, RunID: result.RunID})
		if err != nil {
			result.add(run)
			return result, err
		}

		run.Rank, err = h.ranks.Handle(ctx, RecomputeRanksCommand{TestID: testID, Mode: cmd.Mode, RunID: result.RunID})
		if err != nil {
			result.add(run)
			return result, err
		}

		if cmd.CountAbsent {
			run.Absent, err = h.absent.Handle(ctx, LikelyAbsentQuery{TestID: testID, RunID: result.RunID})
			if err != nil {
				result.add(run)
				return result, err
			}
		}

		result.add(run)
	}

	log.Info("scope completed",
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("rank_updated", result.RankUpdated),
		slog.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (h *RecomputeScopeHandler) testIDs(ctx context.Context, cmd RecomputeScopeCommand) ([]string, error) {
	if cmd.TestID != "" {
		return []string{cmd.TestID}, nil
	}
	tests, err := h.deps.Scores.ListTests(ctx, scoring.TestFilter{Year: cmd.Year, Period: cmd.Period})
	if err != nil {
		return nil, fmt.Errorf("recompute_scope: list tests: %w", err)
	}
	ids := make([]string, len(tests))
	for i, t := range tests {
		ids[i] = t.ID
	}
	return ids, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIKELY ABSENT
// Maintenance count of zero-total results. Nothing is deleted here; pruning
// is left to downstream tooling.
// ══════════════════════════════════════════════════════════════════════════════

// LikelyAbsentQuery selects the test to inspect.
type LikelyAbsentQuery struct {
	TestID string
	RunID  string
}

// LikelyAbsentHandler counts zero-total results of a test.
type LikelyAbsentHandler struct {
	deps Dependencies
}

// NewLikelyAbsentHandler creates a new LikelyAbsentHandler.
func NewLikelyAbsentHandler(deps Dependencies) *LikelyAbsentHandler {
	return &LikelyAbsentHandler{deps: deps.withDefaults()}
}

// Handle returns a summary with LikelyAbsent set.
func (h *LikelyAbsentHandler) Handle(ctx context.Context, q LikelyAbsentQuery) (*Summary, error) {
	if q.TestID == "" {
		return nil, shared.NewDomainError("scoring", "LikelyAbsent", shared.ErrInvalidInput, "test_id is required")
	}

	summary := newSummary(newRunID(q.RunID), StepAbsent, q.TestID, h.deps.Clock.Now())
	n, err := h.deps.Results.CountZeroTotals(ctx, q.TestID)
	if err != nil {
		return summary, fmt.Errorf("likely_absent: count: %w", err)
	}
	summary.LikelyAbsent = n
	summary.CompletedAt = h.deps.Clock.Now()

	if n > 0 {
		h.deps.Logger.Info("zero-total results found",
			logger.RunID(summary.RunID),
			logger.TestID(q.TestID),
			slog.Int("likely_absent", n),
		)
	}
	return summary, nil
}
