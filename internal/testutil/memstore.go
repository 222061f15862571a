// Package testutil provides an in-memory score store for package tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hirohiroko250/autograder-system/internal/domain/scoring"
	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
)

// MemStore implements scoring.ScoreSource and scoring.ResultRepository in
// memory. It counts written rows and can fail upcoming reads and writes on
// demand.
type MemStore struct {
	mu sync.Mutex

	tests    map[string]scoring.Test
	scores   map[string][]scoring.RawScore
	students map[string]scoring.Attributes
	results  map[string]*scoring.AggregateResult

	totalRows    int
	standingRows int
	commits      int
	writeCalls   int
	failures     []error
	readFailures []error
	readCalls    int
}

var (
	_ scoring.ScoreSource      = (*MemStore)(nil)
	_ scoring.ResultRepository = (*MemStore)(nil)
)

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		tests:    make(map[string]scoring.Test),
		scores:   make(map[string][]scoring.RawScore),
		students: make(map[string]scoring.Attributes),
		results:  make(map[string]*scoring.AggregateResult),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────────────────────────────────

// AddTest registers a test.
func (m *MemStore) AddTest(t scoring.Test) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tests[t.ID] = t
}

// SetDeadline changes the deadline of a registered test.
func (m *MemStore) SetDeadline(testID string, deadline *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tests[testID]
	t.Deadline = deadline
	m.tests[testID] = t
}

// AddStudent registers a student.
func (m *MemStore) AddStudent(id string, attrs scoring.Attributes) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[id] = attrs
}

// RemoveStudent deletes a student; its scores stay.
func (m *MemStore) RemoveStudent(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.students, id)
}

// AddScore appends a raw score.
func (m *MemStore) AddScore(s scoring.RawScore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[s.TestID] = append(m.scores[s.TestID], s)
}

// SetScore replaces the value of a (student, test, question group) score,
// adding it if absent.
func (m *MemStore) SetScore(s scoring.RawScore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.scores[s.TestID]
	for i := range rows {
		if rows[i].StudentID == s.StudentID && rows[i].QuestionGroupID == s.QuestionGroupID {
			rows[i] = s
			return
		}
	}
	m.scores[s.TestID] = append(rows, s)
}

// PutResult stores a result as-is.
func (m *MemStore) PutResult(r *scoring.AggregateResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[r.Key()] = r.Clone()
}

// FailWrites makes the next len(errs) write calls return the given errors
// in order. A nil entry lets that call through.
func (m *MemStore) FailWrites(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// ──────────────────────────────────────────────────────────────────────────────
// Inspection
// ──────────────────────────────────────────────────────────────────────────────

// Result returns a copy of a stored result, or nil.
func (m *MemStore) Result(studentID, testID string) *scoring.AggregateResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[studentID+"/"+testID].Clone()
}

// RowsWritten returns the number of rows written by SaveTotals and
// SaveStandings since the last reset.
func (m *MemStore) RowsWritten() (totals, standings int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalRows, m.standingRows
}

// Commits returns the number of successful write transactions.
func (m *MemStore) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// FailReads makes the next len(errs) calls of ListAttendedScores,
// StudentAttributes or ListByTest return the given errors in order.
func (m *MemStore) FailReads(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readFailures = append(m.readFailures, errs...)
}

// ReadCalls returns the number of ListAttendedScores, StudentAttributes and
// ListByTest calls, failed ones included.
func (m *MemStore) ReadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls
}

// WriteCalls returns the number of write attempts, failed ones included.
func (m *MemStore) WriteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeCalls
}

// ResetCounters zeroes the write counters.
func (m *MemStore) ResetCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRows, m.standingRows, m.commits, m.writeCalls = 0, 0, 0, 0
}

// ──────────────────────────────────────────────────────────────────────────────
// scoring.ScoreSource
// ──────────────────────────────────────────────────────────────────────────────

func (m *MemStore) GetTest(ctx context.Context, testID string) (*scoring.Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tests[testID]
	if !ok {
		return nil, shared.ErrTestNotFound
	}
	return &t, nil
}

func (m *MemStore) ListTests(ctx context.Context, filter scoring.TestFilter) ([]scoring.Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]scoring.Test, 0, len(m.tests))
	for _, t := range m.tests {
		if filter.Year != 0 && t.Year != filter.Year {
			continue
		}
		if filter.Period != 0 && t.Period != filter.Period {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) ListAttendedScores(ctx context.Context, testID string) ([]scoring.RawScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.nextReadFailure(); err != nil {
		return nil, err
	}
	if _, ok := m.tests[testID]; !ok {
		return nil, shared.ErrTestNotFound
	}
	out := make([]scoring.RawScore, 0, len(m.scores[testID]))
	for _, s := range m.scores[testID] {
		if s.Attended {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemStore) GetTestMaxScore(ctx context.Context, testID string) (int, error) {
	t, err := m.GetTest(ctx, testID)
	if err != nil {
		return 0, err
	}
	return t.MaxScore, nil
}

func (m *MemStore) GetTestDeadline(ctx context.Context, testID string) (*time.Time, error) {
	t, err := m.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	return t.Deadline, nil
}

func (m *MemStore) StudentAttributes(ctx context.Context, studentIDs []string) (map[string]scoring.Attributes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.nextReadFailure(); err != nil {
		return nil, err
	}
	out := make(map[string]scoring.Attributes, len(studentIDs))
	for _, id := range studentIDs {
		if a, ok := m.students[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// scoring.ResultRepository
// ──────────────────────────────────────────────────────────────────────────────

func (m *MemStore) Get(ctx context.Context, studentID, testID string) (*scoring.AggregateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[studentID+"/"+testID]
	if !ok {
		return nil, shared.ErrResultNotFound
	}
	return r.Clone(), nil
}

func (m *MemStore) ListByTest(ctx context.Context, testID string) ([]*scoring.AggregateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.nextReadFailure(); err != nil {
		return nil, err
	}
	out := make([]*scoring.AggregateResult, 0)
	for _, r := range m.results {
		if r.TestID == testID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (m *MemStore) SaveTotals(ctx context.Context, results []*scoring.AggregateResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.nextFailure(); err != nil {
		return err
	}
	for _, r := range results {
		existing, ok := m.results[r.Key()]
		if !ok {
			m.results[r.Key()] = r.Clone()
			continue
		}
		existing.TotalScore = r.TotalScore
		existing.CorrectnessRate = r.CorrectnessRate
		existing.QuestionCount = r.QuestionCount
		existing.UpdatedAt = r.UpdatedAt
	}
	m.totalRows += len(results)
	m.commits++
	return nil
}

func (m *MemStore) SaveStandings(ctx context.Context, results []*scoring.AggregateResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.nextFailure(); err != nil {
		return err
	}
	for _, r := range results {
		if _, ok := m.results[r.Key()]; !ok {
			return shared.ErrResultNotFound
		}
	}
	for _, r := range results {
		existing := m.results[r.Key()]
		next := r.Clone()
		next.TotalScore = existing.TotalScore
		next.CorrectnessRate = existing.CorrectnessRate
		next.QuestionCount = existing.QuestionCount
		next.CreatedAt = existing.CreatedAt
		m.results[r.Key()] = next
	}
	m.standingRows += len(results)
	m.commits++
	return nil
}

func (m *MemStore) CountZeroTotals(ctx context.Context, testID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.results {
		if r.TestID == testID && r.TotalScore == 0 {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) nextFailure() error {
	m.writeCalls++
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}

func (m *MemStore) nextReadFailure() error {
	m.readCalls++
	if len(m.readFailures) == 0 {
		return nil
	}
	err := m.readFailures[0]
	m.readFailures = m.readFailures[1:]
	return err
}
