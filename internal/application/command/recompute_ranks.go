package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hirohiroko250/autograder-system/internal/domain/scoring"
	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
	"github.com/hirohiroko250/autograder-system/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE RANKS COMMAND
// Ranks every aggregated result of a test in all partitions, computes the
// grade deviation and writes them into the temporary or final fields.
// ══════════════════════════════════════════════════════════════════════════════

// Reasons reported by rank and finalize steps.
const (
	ReasonNoResults = "no aggregate results for test"
	ReasonNoRanked  = "no result could be ranked"
)

// RecomputeRanksCommand selects the test to rank.
type RecomputeRanksCommand struct {
	TestID string

	// Mode decides which rank fields are written. ModeAuto lets the
	// deadline decide.
	Mode scoring.Mode

	RunID string
}

// Validate validates the command.
func (c RecomputeRanksCommand) Validate() error {
	if c.TestID == "" {
		return shared.NewDomainError("scoring", "RecomputeRanks", shared.ErrInvalidInput, "test_id is required")
	}
	return nil
}

// RecomputeRanksHandler handles RecomputeRanksCommand.
type RecomputeRanksHandler struct {
	pass *rankPass
}

// NewRecomputeRanksHandler creates a new RecomputeRanksHandler.
func NewRecomputeRanksHandler(deps Dependencies, cfg BatchConfig) *RecomputeRanksHandler {
	return &RecomputeRanksHandler{pass: newRankPass(deps, cfg)}
}

// Handle ranks one test.
func (h *RecomputeRanksHandler) Handle(ctx context.Context, cmd RecomputeRanksCommand) (*Summary, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("recompute_ranks: validation failed: %w", err)
	}
	return h.pass.run(ctx, StepRank, cmd.TestID, cmd.RunID, func(deadline *time.Time, now time.Time) (scoring.Decision, bool) {
		return scoring.Decide(cmd.Mode, deadline, now), true
	}, cmd.Mode)
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK PASS
// ══════════════════════════════════════════════════════════════════════════════

// decideFunc picks the phase of a pass. Returning false turns the pass into
// a no-op with the decision's reason.
type decideFunc func(deadline *time.Time, now time.Time) (scoring.Decision, bool)

// rankPass is shared by RecomputeRanks and Finalize.
type rankPass struct {
	deps Dependencies
	cfg  BatchConfig
}

func newRankPass(deps Dependencies, cfg BatchConfig) *rankPass {
	return &rankPass{deps: deps.withDefaults(), cfg: cfg.withDefaults()}
}

func (p *rankPass) run(ctx context.Context, step Step, testID, runID string, decide decideFunc, mode scoring.Mode) (summary *Summary, err error) {
	runID = newRunID(runID)
	log := p.deps.Logger.With(logger.RunID(runID), logger.Step(string(step)), logger.TestID(testID))
	summary = newSummary(runID, step, testID, p.deps.Clock.Now())

	ctx, span, cancel := stepContext(ctx, p.deps, p.cfg, step, testID, runID)
	defer cancel()
	defer func() { finishStep(p.deps, span, log, summary, err) }()

	deadline, err := p.deps.Scores.GetTestDeadline(ctx, testID)
	if err != nil {
		if shared.IsNotFound(err) {
			return summary.noOp("test not found"), nil
		}
		return summary, fmt.Errorf("%s: load deadline: %w", step, err)
	}

	results, err := read(ctx, log, "results", func(ctx context.Context) ([]*scoring.AggregateResult, error) {
		return p.deps.Results.ListByTest(ctx, testID)
	})
	if err != nil {
		return summary, fmt.Errorf("%s: list results: %w", step, err)
	}
	if len(results) == 0 {
		return summary.noOp(ReasonNoResults), nil
	}

	now := p.deps.Clock.Now()
	decision, proceed := decide(deadline, now)
	summary.Phase = decision.Phase.String()
	if !proceed {
		return summary.noOp(decision.Reason), nil
	}
	if shared.IsMissingReference(decision.Cause) {
		summary.Reason = decision.Reason
		log.Warn("ranks stay temporary", logger.Err(decision.Cause))
	}
	log.Info("recomputing ranks",
		slog.String("phase", decision.Phase.String()),
		slog.String("mode", mode.String()),
		slog.Int("results", len(results)),
	)

	entries, err := p.entries(ctx, results, summary, log)
	if err != nil {
		return summary, err
	}
	if len(entries) == 0 {
		return summary.noOp(ReasonNoRanked), nil
	}

	standings, rejected := scoring.ComputeStandings(entries)
	for _, r := range rejected {
		log.Warn("skipping result refused by ranking", logger.StudentID(r.StudentID), logger.Err(r.Err))
	}
	summary.reject(rejected)

	writer := newChunkWriter(step, testID, p.cfg, p.deps, log,
		p.deps.Results.SaveStandings,
		func(batch []pendingWrite) {
			summary.RankUpdated += len(batch)
			p.deps.Metrics.RowsWritten(string(step), scoring.Updated.String(), len(batch))
		},
	)

	for _, r := range results {
		s, ok := standings[r.StudentID]
		if !ok {
			continue
		}
		next := scoring.ApplyStanding(r, s, decision, mode, now)
		if next == nil {
			summary.Unchanged++
			continue
		}
		if err := writer.Add(ctx, next, scoring.Updated); err != nil {
			return summary, err
		}
	}
	if err := writer.Flush(ctx); err != nil {
		return summary, err
	}

	p.deps.Metrics.RowsWritten(string(step), scoring.Unchanged.String(), summary.Unchanged)
	invalidate(ctx, p.deps, log, summary)
	return summary, nil
}

// entries joins results with student attributes. Results of missing
// students or with an invalid grade are skipped.
func (p *rankPass) entries(ctx context.Context, results []*scoring.AggregateResult, summary *Summary, log *slog.Logger) ([]scoring.Entry, error) {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.StudentID
	}
	attrs, err := read(ctx, log, "students", func(ctx context.Context) (map[string]scoring.Attributes, error) {
		return p.deps.Scores.StudentAttributes(ctx, ids)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: load students: %w", summary.Step, err)
	}

	entries := make([]scoring.Entry, 0, len(results))
	for _, r := range results {
		a, ok := attrs[r.StudentID]
		if !ok {
			summary.skip(r.StudentID, shared.ErrStudentNotFound)
			log.Warn("skipping result of unknown student", logger.StudentID(r.StudentID))
			continue
		}
		if err := a.Validate(); err != nil {
			summary.skip(r.StudentID, err)
			log.Warn("skipping result with invalid attributes", logger.StudentID(r.StudentID), logger.Err(err))
			continue
		}
		entries = append(entries, scoring.Entry{
			StudentID:  r.StudentID,
			Score:      r.TotalScore,
			Attributes: a,
		})
	}
	return entries, nil
}
