package scoring

import (
	"sort"
	"time"

	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
)

// Rejection is a student left out of a computation, with the cause.
type Rejection struct {
	StudentID string
	Err       error
}

// Total is a student's collapsed score for one test.
type Total struct {
	StudentID       string
	TotalScore      int
	QuestionCount   int
	CorrectnessRate float64
}

// CorrectnessRate returns total as a percentage of maxScore, rounded to two
// decimals. A zero or negative maxScore yields 0.
func CorrectnessRate(total, maxScore int) float64 {
	if maxScore <= 0 {
		return 0
	}
	return round2(float64(total) / float64(maxScore) * 100)
}

// Aggregate sums the attended, non-negative scores of each student.
// Students with no counted question group are left out. A student with a
// score above its question group max is rejected as a whole. Both results
// are ordered by student ID.
func Aggregate(scores []RawScore, maxScore int) ([]Total, []Rejection) {
	var rejected []Rejection
	over := make(map[string]bool)
	for _, s := range scores {
		if s.Attended && s.GroupMax != nil && s.Value > *s.GroupMax && !over[s.StudentID] {
			over[s.StudentID] = true
			rejected = append(rejected, Rejection{StudentID: s.StudentID, Err: shared.ErrScoreAboveGroupMax})
		}
	}

	byStudent := make(map[string]*Total)
	for _, s := range scores {
		if !s.Attended || s.Value < 0 || over[s.StudentID] {
			continue
		}
		t, ok := byStudent[s.StudentID]
		if !ok {
			t = &Total{StudentID: s.StudentID}
			byStudent[s.StudentID] = t
		}
		t.TotalScore += s.Value
		t.QuestionCount++
	}

	totals := make([]Total, 0, len(byStudent))
	for _, t := range byStudent {
		if t.QuestionCount == 0 {
			continue
		}
		t.CorrectnessRate = CorrectnessRate(t.TotalScore, maxScore)
		totals = append(totals, *t)
	}

	sort.Slice(totals, func(i, j int) bool {
		return totals[i].StudentID < totals[j].StudentID
	})
	sort.Slice(rejected, func(i, j int) bool {
		return rejected[i].StudentID < rejected[j].StudentID
	})
	return totals, rejected
}

// ══════════════════════════════════════════════════════════════════════════════
// UPSERT
// ══════════════════════════════════════════════════════════════════════════════

// UpsertOutcome is the effect an insert-or-update-if-changed had.
type UpsertOutcome int

const (
	Unchanged UpsertOutcome = iota
	Created
	Updated
)

// String returns the outcome name used in logs and metrics.
func (o UpsertOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// PlanTotal decides how a freshly aggregated total lands on the stored
// result. existing may be nil. For Unchanged the returned result is nil and
// nothing must be written.
func PlanTotal(testID string, existing *AggregateResult, t Total, now time.Time) (*AggregateResult, UpsertOutcome) {
	if existing == nil {
		return &AggregateResult{
			StudentID:       t.StudentID,
			TestID:          testID,
			TotalScore:      t.TotalScore,
			CorrectnessRate: t.CorrectnessRate,
			QuestionCount:   t.QuestionCount,
			CreatedAt:       now,
			UpdatedAt:       now,
		}, Created
	}

	if existing.TotalScore == t.TotalScore &&
		existing.CorrectnessRate == t.CorrectnessRate &&
		existing.QuestionCount == t.QuestionCount {
		return nil, Unchanged
	}

	next := existing.Clone()
	next.TotalScore = t.TotalScore
	next.CorrectnessRate = t.CorrectnessRate
	next.QuestionCount = t.QuestionCount
	next.UpdatedAt = now
	return next, Updated
}
