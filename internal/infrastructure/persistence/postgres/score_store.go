package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hirohiroko250/autograder-system/internal/domain/scoring"
	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCORE STORE
// Read-only adapter over the score entry tables.
// ══════════════════════════════════════════════════════════════════════════════

// ScoreStore implements scoring.ScoreSource for PostgreSQL.
type ScoreStore struct {
	conn *Connection
}

// NewScoreStore creates a new ScoreStore.
func NewScoreStore(conn *Connection) *ScoreStore {
	return &ScoreStore{conn: conn}
}

var _ scoring.ScoreSource = (*ScoreStore)(nil)

const testColumns = `id, year, period, subject, max_score, deadline`

// GetTest returns a test by ID.
func (s *ScoreStore) GetTest(ctx context.Context, testID string) (*scoring.Test, error) {
	row := s.conn.QueryRow(ctx, `SELECT `+testColumns+` FROM tests WHERE id = $1`, testID)
	t, err := scanTest(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	return t, nil
}

// ListTests returns the tests matching the filter, ordered by ID.
func (s *ScoreStore) ListTests(ctx context.Context, filter scoring.TestFilter) ([]scoring.Test, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Year != 0 {
		args = append(args, filter.Year)
		where = append(where, fmt.Sprintf("year = $%d", len(args)))
	}
	if filter.Period != 0 {
		args = append(args, filter.Period.String())
		where = append(where, fmt.Sprintf("period = $%d", len(args)))
	}

	query := `SELECT ` + testColumns + ` FROM tests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	defer rows.Close()

	var tests []scoring.Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test: %w", err)
		}
		tests = append(tests, *t)
	}
	return tests, rows.Err()
}

// ListAttendedScores returns the attended raw scores of a test ordered by
// student and question group, each with the max of its question group.
func (s *ScoreStore) ListAttendedScores(ctx context.Context, testID string) ([]scoring.RawScore, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT rs.student_id, rs.question_group_id, rs.value, qg.max_score
		FROM raw_scores rs
		JOIN question_groups qg ON qg.id = rs.question_group_id
		WHERE rs.test_id = $1 AND rs.attended
		ORDER BY rs.student_id, rs.question_group_id
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw scores: %w", err)
	}
	defer rows.Close()

	var scores []scoring.RawScore
	for rows.Next() {
		rs := scoring.RawScore{TestID: testID, Attended: true}
		var groupMax int
		if err := rows.Scan(&rs.StudentID, &rs.QuestionGroupID, &rs.Value, &groupMax); err != nil {
			return nil, fmt.Errorf("failed to scan raw score: %w", err)
		}
		rs.GroupMax = &groupMax
		scores = append(scores, rs)
	}
	return scores, rows.Err()
}

// GetTestMaxScore returns the max score of a test.
func (s *ScoreStore) GetTestMaxScore(ctx context.Context, testID string) (int, error) {
	var maxScore int
	err := s.conn.QueryRow(ctx, `SELECT max_score FROM tests WHERE id = $1`, testID).Scan(&maxScore)
	if err != nil {
		if IsNoRows(err) {
			return 0, shared.ErrTestNotFound
		}
		return 0, fmt.Errorf("failed to get max score: %w", err)
	}
	return maxScore, nil
}

// GetTestDeadline returns the deadline of a test, or nil when none is set.
func (s *ScoreStore) GetTestDeadline(ctx context.Context, testID string) (*time.Time, error) {
	var deadline *time.Time
	err := s.conn.QueryRow(ctx, `SELECT deadline FROM tests WHERE id = $1`, testID).Scan(&deadline)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrTestNotFound
		}
		return nil, fmt.Errorf("failed to get deadline: %w", err)
	}
	return deadline, nil
}

// StudentAttributes returns the attributes of existing, non-deleted
// students among ids.
func (s *ScoreStore) StudentAttributes(ctx context.Context, studentIDs []string) (map[string]scoring.Attributes, error) {
	out := make(map[string]scoring.Attributes, len(studentIDs))
	if len(studentIDs) == 0 {
		return out, nil
	}

	rows, err := s.conn.Query(ctx, `
		SELECT id, grade, COALESCE(organization_id, ''), COALESCE(category, '')
		FROM students
		WHERE id = ANY($1) AND deleted_at IS NULL
	`, studentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load students: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    string
			grade int
			a     scoring.Attributes
		)
		if err := rows.Scan(&id, &grade, &a.OrganizationID, &a.Category); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		a.Grade = scoring.Grade(grade)
		out[id] = a
	}
	return out, rows.Err()
}

func scanTest(row pgx.Row) (*scoring.Test, error) {
	var (
		t       scoring.Test
		period  string
		subject string
	)
	if err := row.Scan(&t.ID, &t.Year, &period, &subject, &t.MaxScore, &t.Deadline); err != nil {
		return nil, err
	}

	var err error
	if t.Period, err = scoring.ParsePeriod(period); err != nil {
		return nil, fmt.Errorf("test %s: %w", t.ID, err)
	}
	if t.Subject, err = scoring.ParseSubject(subject); err != nil {
		return nil, fmt.Errorf("test %s: %w", t.ID, err)
	}
	return &t, nil
}
