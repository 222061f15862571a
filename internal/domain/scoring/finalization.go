package scoring

import (
	"strings"
	"time"

	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
	"github.com/hirohiroko250/autograder-system/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PHASE
// ══════════════════════════════════════════════════════════════════════════════

// Phase is the lifecycle state of a result's ranks.
type Phase int

const (
	// PhaseTemporary - ranks may still change; temporary fields are current.
	PhaseTemporary Phase = iota + 1
	// PhaseFinal - ranks are a snapshot; final fields are current.
	PhaseFinal
)

// String returns the storage code of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseTemporary:
		return "temporary"
	case PhaseFinal:
		return "final"
	default:
		return "unknown"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MODE
// ══════════════════════════════════════════════════════════════════════════════

// Mode tells a rank pass how to pick the phase it writes.
type Mode int

const (
	// ModeAuto lets the test deadline decide.
	ModeAuto Mode = iota
	// ModeForceFinal finalizes regardless of the deadline.
	ModeForceFinal
	// ModeForceTemporary writes temporary ranks and reopens finalized
	// results. Correction tooling only.
	ModeForceTemporary
)

// String returns the name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeForceFinal:
		return "force_final"
	case ModeForceTemporary:
		return "force_temporary"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "force_final", "final":
		return ModeForceFinal, nil
	case "force_temporary", "temporary":
		return ModeForceTemporary, nil
	default:
		return 0, shared.NewDomainError("scoring", "ParseMode", shared.ErrInvalidFormat, "unknown mode "+s)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DECISION
// ══════════════════════════════════════════════════════════════════════════════

// Decision is the phase a rank pass writes, with a note when the outcome
// was not the obvious one.
type Decision struct {
	Phase  Phase
	Reason string

	// Cause is set when missing reference data forced the phase.
	Cause error
}

// Reasons attached to decisions.
const (
	ReasonForcedFinal     = "finalization forced"
	ReasonForcedTemporary = "temporary ranks forced"
	ReasonBeforeDeadline  = "deadline has not passed"
	ReasonDeadlinePassed  = "deadline has passed"
)

// ReasonNoDeadline is reported while a test without deadline stays temporary.
var ReasonNoDeadline = shared.ErrDeadlineMissing.Message + "; ranks stay temporary"

// Decide picks the phase for a rank pass. In auto mode a result becomes final
// once now is at or after the deadline; a missing deadline keeps it temporary.
func Decide(mode Mode, deadline *time.Time, now time.Time) Decision {
	switch mode {
	case ModeForceFinal:
		return Decision{Phase: PhaseFinal, Reason: ReasonForcedFinal}
	case ModeForceTemporary:
		return Decision{Phase: PhaseTemporary, Reason: ReasonForcedTemporary}
	}

	if deadline == nil {
		return Decision{Phase: PhaseTemporary, Reason: ReasonNoDeadline, Cause: shared.ErrDeadlineMissing}
	}
	if !timeutil.IsPast(*deadline, now) {
		return Decision{Phase: PhaseTemporary, Reason: ReasonBeforeDeadline}
	}
	return Decision{Phase: PhaseFinal, Reason: ReasonDeadlinePassed}
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLY
// ══════════════════════════════════════════════════════════════════════════════

// ApplyStanding writes freshly computed ranks and deviation onto a stored
// result according to the decided phase. It returns nil when the stored
// result already carries exactly these values.
//
//   - PhaseFinal: final fields take the ranks, the result is finalized and
//     finalized_at is stamped whenever the final snapshot changes.
//   - PhaseTemporary: temporary fields take the ranks. A finalized result
//     keeps its final snapshot unless mode is ModeForceTemporary, which
//     clears it.
func ApplyStanding(existing *AggregateResult, s Standing, d Decision, mode Mode, now time.Time) *AggregateResult {
	if existing == nil {
		return nil
	}

	next := existing.Clone()
	dev := s.Deviation
	next.Deviation = &dev

	switch d.Phase {
	case PhaseFinal:
		if !next.IsRankFinalized || next.Final != s.Ranks {
			at := now
			next.FinalizedAt = &at
		}
		next.Final = s.Ranks
		next.IsRankFinalized = true
	default:
		next.Temporary = s.Ranks
		if mode == ModeForceTemporary {
			next.Final = RankSet{}
			next.IsRankFinalized = false
			next.FinalizedAt = nil
		}
	}

	if sameStanding(existing, next) {
		return nil
	}
	next.UpdatedAt = now
	return next
}

func sameStanding(a, b *AggregateResult) bool {
	if a.Temporary != b.Temporary || a.Final != b.Final {
		return false
	}
	if a.IsRankFinalized != b.IsRankFinalized {
		return false
	}
	if (a.FinalizedAt == nil) != (b.FinalizedAt == nil) {
		return false
	}
	if a.FinalizedAt != nil && !a.FinalizedAt.Equal(*b.FinalizedAt) {
		return false
	}
	if (a.Deviation == nil) != (b.Deviation == nil) {
		return false
	}
	return a.Deviation == nil || *a.Deviation == *b.Deviation
}
