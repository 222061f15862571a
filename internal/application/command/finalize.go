package command

import (
	"context"
	"fmt"
	"time"

	"github.com/hirohiroko250/autograder-system/internal/domain/scoring"
	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FINALIZE COMMAND
// Recomputes the ranks of a test and stores them as the final snapshot.
// Without Force the deadline must have passed.
// ══════════════════════════════════════════════════════════════════════════════

// FinalizeCommand selects the test to finalize.
type FinalizeCommand struct {
	TestID string

	// Force finalizes regardless of the deadline.
	Force bool

	RunID string
}

// Validate validates the command.
func (c FinalizeCommand) Validate() error {
	if c.TestID == "" {
		return shared.NewDomainError("scoring", "Finalize", shared.ErrInvalidInput, "test_id is required")
	}
	return nil
}

// FinalizeHandler handles FinalizeCommand.
type FinalizeHandler struct {
	pass *rankPass
}

// NewFinalizeHandler creates a new FinalizeHandler.
func NewFinalizeHandler(deps Dependencies, cfg BatchConfig) *FinalizeHandler {
	return &FinalizeHandler{pass: newRankPass(deps, cfg)}
}

// Handle finalizes one test. Finalizing before the deadline without Force,
// or a test without results, is a no-op with a reason.
func (h *FinalizeHandler) Handle(ctx context.Context, cmd FinalizeCommand) (*Summary, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("finalize: validation failed: %w", err)
	}

	mode := scoring.ModeAuto
	if cmd.Force {
		mode = scoring.ModeForceFinal
	}

	return h.pass.run(ctx, StepFinalize, cmd.TestID, cmd.RunID, func(deadline *time.Time, now time.Time) (scoring.Decision, bool) {
		d := scoring.Decide(mode, deadline, now)
		return d, d.Phase == scoring.PhaseFinal
	}, mode)
}
