// Package command contains the batch write operations of the scoring engine:
// recomputing aggregates, recomputing ranks, finalizing, and running them
// over a scope of tests.
package command

import (
	"errors"
	"time"

	"github.com/hirohiroko250/autograder-system/internal/domain/scoring"
	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
)

// ErrBatchAborted is returned when a chunk could not be written, usually
// because lock contention outlasted every retry. Chunks flushed before the
// failure stay committed.
var ErrBatchAborted = errors.New("batch aborted")

// Step names a batch operation in summaries, logs and metrics.
type Step string

const (
	StepAggregate Step = "aggregate"
	StepRank      Step = "rank"
	StepFinalize  Step = "finalize"
	StepAbsent    Step = "absent"
)

// Skip reasons reported in RowError.Reason. Skips caused by a domain error
// carry its message.
var (
	ReasonStudentNotFound  = shared.ErrStudentNotFound.Message
	ReasonInvalidGrade     = shared.ErrInvalidGrade.Message
	ReasonScoreAboveMax    = shared.ErrScoreAboveGroupMax.Message
	ReasonDuplicateStudent = scoring.ErrDuplicateMember.Error()
	ReasonMissingStudentID = scoring.ErrEmptyStudentID.Error()
)

// RowError is one row that was skipped, with the reason.
type RowError struct {
	StudentID string `json:"student_id"`
	Reason    string `json:"reason"`
}

// Summary is the structured outcome of one batch step on one test.
type Summary struct {
	RunID  string `json:"run_id"`
	Step   Step   `json:"step"`
	TestID string `json:"test_id"`

	Created     int `json:"created"`
	Updated     int `json:"updated"`
	Unchanged   int `json:"unchanged"`
	RankUpdated int `json:"rank_updated"`
	Skipped     int `json:"skipped"`

	// LikelyAbsent counts zero-total results; only set by the absent step.
	LikelyAbsent int `json:"likely_absent,omitempty"`

	// Phase is the rank phase written by a rank or finalize step.
	Phase string `json:"phase,omitempty"`

	Errors []RowError `json:"errors"`

	// NoOp is set when a precondition was not met and nothing was done.
	NoOp   bool   `json:"no_op"`
	Reason string `json:"reason,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

func newSummary(runID string, step Step, testID string, now time.Time) *Summary {
	return &Summary{
		RunID:     runID,
		Step:      step,
		TestID:    testID,
		Errors:    make([]RowError, 0),
		StartedAt: now,
	}
}

func (s *Summary) skip(studentID string, err error) {
	reason := err.Error()
	var de *shared.DomainError
	if errors.As(err, &de) {
		reason = de.Message
	}
	s.Skipped++
	s.Errors = append(s.Errors, RowError{StudentID: studentID, Reason: reason})
}

func (s *Summary) reject(rejected []scoring.Rejection) {
	for _, r := range rejected {
		s.skip(r.StudentID, r.Err)
	}
}

func (s *Summary) noOp(reason string) *Summary {
	s.NoOp = true
	s.Reason = reason
	return s
}

// Written returns the number of rows this step wrote.
func (s *Summary) Written() int {
	return s.Created + s.Updated + s.RankUpdated
}

// Duration returns how long the step took.
func (s *Summary) Duration() time.Duration {
	return s.CompletedAt.Sub(s.StartedAt)
}
