package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hirohiroko250/autograder-system/internal/domain/scoring"
	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
	"github.com/hirohiroko250/autograder-system/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE AGGREGATES COMMAND
// Collapses the attended raw scores of a test into one AggregateResult per
// student. Rows whose total did not change are not written.
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeAggregatesCommand selects the test to aggregate.
type RecomputeAggregatesCommand struct {
	TestID string

	// RunID groups the steps of one batch run; generated if empty.
	RunID string
}

// Validate validates the command.
func (c RecomputeAggregatesCommand) Validate() error {
	if c.TestID == "" {
		return shared.NewDomainError("scoring", "RecomputeAggregates", shared.ErrInvalidInput, "test_id is required")
	}
	return nil
}

// RecomputeAggregatesHandler handles RecomputeAggregatesCommand.
type RecomputeAggregatesHandler struct {
	deps Dependencies
	cfg  BatchConfig
}

// NewRecomputeAggregatesHandler creates a new RecomputeAggregatesHandler.
func NewRecomputeAggregatesHandler(deps Dependencies, cfg BatchConfig) *RecomputeAggregatesHandler {
	return &RecomputeAggregatesHandler{
		deps: deps.withDefaults(),
		cfg:  cfg.withDefaults(),
	}
}

// Handle aggregates one test. The returned error is non-nil only for
// invalid commands and storage failures; everything else is reported in
// the summary.
func (h *RecomputeAggregatesHandler) Handle(ctx context.Context, cmd RecomputeAggregatesCommand) (summary *Summary, err error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("recompute_aggregates: validation failed: %w", err)
	}

	runID := newRunID(cmd.RunID)
	log := h.deps.Logger.With(logger.RunID(runID), logger.Step(string(StepAggregate)), logger.TestID(cmd.TestID))
	summary = newSummary(runID, StepAggregate, cmd.TestID, h.deps.Clock.Now())

	ctx, span, cancel := stepContext(ctx, h.deps, h.cfg, StepAggregate, cmd.TestID, runID)
	defer cancel()
	defer func() { finishStep(h.deps, span, log, summary, err) }()

	log.Info("recomputing aggregates")

	maxScore, err := h.deps.Scores.GetTestMaxScore(ctx, cmd.TestID)
	if err != nil {
		if shared.IsNotFound(err) {
			return summary.noOp("test not found"), nil
		}
		return summary, fmt.Errorf("recompute_aggregates: load test: %w", err)
	}
	if maxScore <= 0 {
		log.Warn("test has no positive max score, correctness rate defaults to 0", slog.Int("max_score", maxScore))
	}

	scores, err := read(ctx, log, "scores", func(ctx context.Context) ([]scoring.RawScore, error) {
		return h.deps.Scores.ListAttendedScores(ctx, cmd.TestID)
	})
	if err != nil {
		return summary, fmt.Errorf("recompute_aggregates: list scores: %w", err)
	}

	totals, rejected := scoring.Aggregate(scores, maxScore)
	for _, r := range rejected {
		log.Warn("skipping scores above question group max", logger.StudentID(r.StudentID))
	}
	summary.reject(rejected)
	if len(totals) == 0 {
		return summary.noOp("no attended scores for test"), nil
	}

	existing, err := h.existingByStudent(ctx, log, cmd.TestID)
	if err != nil {
		return summary, err
	}

	ids := make([]string, len(totals))
	for i, t := range totals {
		ids[i] = t.StudentID
	}
	attrs, err := read(ctx, log, "students", func(ctx context.Context) (map[string]scoring.Attributes, error) {
		return h.deps.Scores.StudentAttributes(ctx, ids)
	})
	if err != nil {
		return summary, fmt.Errorf("recompute_aggregates: load students: %w", err)
	}

	writer := newChunkWriter(StepAggregate, cmd.TestID, h.cfg, h.deps, log,
		h.deps.Results.SaveTotals,
		func(batch []pendingWrite) {
			created, updated := 0, 0
			for _, p := range batch {
				if p.outcome == scoring.Created {
					created++
				} else {
					updated++
				}
			}
			summary.Created += created
			summary.Updated += updated
			h.deps.Metrics.RowsWritten(string(StepAggregate), scoring.Created.String(), created)
			h.deps.Metrics.RowsWritten(string(StepAggregate), scoring.Updated.String(), updated)
		},
	)

	now := h.deps.Clock.Now()
	for _, t := range totals {
		if _, ok := attrs[t.StudentID]; !ok {
			summary.skip(t.StudentID, shared.ErrStudentNotFound)
			log.Warn("skipping scores of unknown student", logger.StudentID(t.StudentID))
			continue
		}

		next, outcome := scoring.PlanTotal(cmd.TestID, existing[t.StudentID], t, now)
		if outcome == scoring.Unchanged {
			summary.Unchanged++
			continue
		}
		if err := writer.Add(ctx, next, outcome); err != nil {
			return summary, err
		}
	}
	if err := writer.Flush(ctx); err != nil {
		return summary, err
	}

	h.deps.Metrics.RowsWritten(string(StepAggregate), scoring.Unchanged.String(), summary.Unchanged)
	invalidate(ctx, h.deps, log, summary)
	return summary, nil
}

func (h *RecomputeAggregatesHandler) existingByStudent(ctx context.Context, log *slog.Logger, testID string) (map[string]*scoring.AggregateResult, error) {
	rows, err := read(ctx, log, "results", func(ctx context.Context) ([]*scoring.AggregateResult, error) {
		return h.deps.Results.ListByTest(ctx, testID)
	})
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("recompute_aggregates: list results: %w", err)
	}
	out := make(map[string]*scoring.AggregateResult, len(rows))
	for _, r := range rows {
		out[r.StudentID] = r
	}
	return out, nil
}
