package scoring

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORE SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// ScoreSource is the read-only view on score entry data: tests, raw scores
// and student attributes. Implementations live in the infrastructure layer.
type ScoreSource interface {
	// GetTest returns a test by ID. Returns shared.ErrTestNotFound if absent.
	GetTest(ctx context.Context, testID string) (*Test, error)

	// ListTests returns the tests matching the filter, ordered by ID.
	ListTests(ctx context.Context, filter TestFilter) ([]Test, error)

	// ListAttendedScores returns the raw scores of a test that are marked as
	// attended. Non-attended rows are never returned.
	ListAttendedScores(ctx context.Context, testID string) ([]RawScore, error)

	// GetTestMaxScore returns the maximum achievable total of a test.
	GetTestMaxScore(ctx context.Context, testID string) (int, error)

	// GetTestDeadline returns the deadline of a test, or nil when none is
	// configured.
	GetTestDeadline(ctx context.Context, testID string) (*time.Time, error)

	// StudentAttributes returns the attributes of the given students in one
	// round trip. Students that no longer exist are absent from the map.
	StudentAttributes(ctx context.Context, studentIDs []string) (map[string]Attributes, error)
}

// TestFilter selects tests. Zero fields match everything.
type TestFilter struct {
	Year   int
	Period Period
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ResultRepository persists AggregateResults.
type ResultRepository interface {
	// Get returns one result. Returns shared.ErrResultNotFound if absent.
	Get(ctx context.Context, studentID, testID string) (*AggregateResult, error)

	// ListByTest returns every result of a test ordered by student ID.
	ListByTest(ctx context.Context, testID string) ([]*AggregateResult, error)

	// SaveTotals inserts or updates the total score, correctness rate and
	// question count of the given results in a single transaction.
	// Rank fields of existing rows are not touched.
	SaveTotals(ctx context.Context, results []*AggregateResult) error

	// SaveStandings updates the rank, deviation and finalization fields of
	// existing results in a single transaction.
	SaveStandings(ctx context.Context, results []*AggregateResult) error

	// CountZeroTotals returns how many results of a test have a zero total.
	CountZeroTotals(ctx context.Context, testID string) (int, error)
}
