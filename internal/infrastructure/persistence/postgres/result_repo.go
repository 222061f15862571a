package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hirohiroko250/autograder-system/internal/domain/scoring"
	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESULT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ResultRepository implements scoring.ResultRepository for PostgreSQL.
// Every Save call is one transaction; the rows of a call are sent as a
// single pgx batch.
type ResultRepository struct {
	conn *Connection
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(conn *Connection) *ResultRepository {
	return &ResultRepository{conn: conn}
}

var _ scoring.ResultRepository = (*ResultRepository)(nil)

const resultColumns = `
	student_id, test_id, total_score, correctness_rate, question_count,
	national_rank, national_total, grade_rank, grade_total,
	organization_rank, organization_total, category_rank, category_total,
	final_national_rank, final_national_total, final_grade_rank, final_grade_total,
	final_organization_rank, final_organization_total, final_category_rank, final_category_total,
	deviation_score, is_rank_finalized, finalized_at, created_at, updated_at`

// Get returns one result.
func (r *ResultRepository) Get(ctx context.Context, studentID, testID string) (*scoring.AggregateResult, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+resultColumns+`
		FROM aggregate_results
		WHERE student_id = $1 AND test_id = $2`, studentID, testID)

	res, err := scanResult(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return res, nil
}

// ListByTest returns every result of a test ordered by student ID.
func (r *ResultRepository) ListByTest(ctx context.Context, testID string) ([]*scoring.AggregateResult, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+resultColumns+`
		FROM aggregate_results
		WHERE test_id = $1
		ORDER BY student_id`, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []*scoring.AggregateResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// SaveTotals upserts the total fields of results. Rank columns of existing
// rows are left alone.
func (r *ResultRepository) SaveTotals(ctx context.Context, results []*scoring.AggregateResult) error {
	if len(results) == 0 {
		return nil
	}

	const query = `
		INSERT INTO aggregate_results (
			student_id, test_id, total_score, correctness_rate, question_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (student_id, test_id) DO UPDATE SET
			total_score = EXCLUDED.total_score,
			correctness_rate = EXCLUDED.correctness_rate,
			question_count = EXCLUDED.question_count,
			updated_at = EXCLUDED.updated_at`

	batch := &pgx.Batch{}
	for _, res := range results {
		batch.Queue(query,
			res.StudentID,
			res.TestID,
			res.TotalScore,
			res.CorrectnessRate,
			res.QuestionCount,
			orNow(res.CreatedAt),
			orNow(res.UpdatedAt),
		)
	}

	return r.sendBatch(ctx, batch, "save totals", false)
}

// SaveStandings updates rank, deviation and finalization columns of existing
// results.
func (r *ResultRepository) SaveStandings(ctx context.Context, results []*scoring.AggregateResult) error {
	if len(results) == 0 {
		return nil
	}

	const query = `
		UPDATE aggregate_results SET
			national_rank = $3, national_total = $4,
			grade_rank = $5, grade_total = $6,
			organization_rank = $7, organization_total = $8,
			category_rank = $9, category_total = $10,
			final_national_rank = $11, final_national_total = $12,
			final_grade_rank = $13, final_grade_total = $14,
			final_organization_rank = $15, final_organization_total = $16,
			final_category_rank = $17, final_category_total = $18,
			deviation_score = $19,
			is_rank_finalized = $20,
			finalized_at = $21,
			updated_at = $22
		WHERE student_id = $1 AND test_id = $2`

	batch := &pgx.Batch{}
	for _, res := range results {
		args := []interface{}{res.StudentID, res.TestID}
		args = append(args, rankArgs(res.Temporary)...)
		args = append(args, rankArgs(res.Final)...)
		args = append(args, res.Deviation, res.IsRankFinalized, res.FinalizedAt, orNow(res.UpdatedAt))
		batch.Queue(query, args...)
	}

	return r.sendBatch(ctx, batch, "save standings", true)
}

// CountZeroTotals returns how many results of a test have a zero total.
func (r *ResultRepository) CountZeroTotals(ctx context.Context, testID string) (int, error) {
	var n int
	err := r.conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM aggregate_results WHERE test_id = $1 AND total_score = 0
	`, testID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count zero totals: %w", err)
	}
	return n, nil
}

// sendBatch runs a queued batch inside one transaction. With mustExist,
// an update that matched no row fails the whole batch.
func (r *ResultRepository) sendBatch(ctx context.Context, batch *pgx.Batch, op string, mustExist bool) error {
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return err
			}
			if mustExist && tag.RowsAffected() == 0 {
				_ = br.Close()
				return fmt.Errorf("row %d: %w", i, shared.ErrResultNotFound)
			}
		}
		return br.Close()
	})
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

type rankCols struct {
	national, nationalTotal         *int
	grade, gradeTotal               *int
	organization, organizationTotal *int
	category, categoryTotal         *int
}

func (c *rankCols) dest() []interface{} {
	return []interface{}{
		&c.national, &c.nationalTotal,
		&c.grade, &c.gradeTotal,
		&c.organization, &c.organizationTotal,
		&c.category, &c.categoryTotal,
	}
}

func (c *rankCols) set() scoring.RankSet {
	return scoring.RankSet{
		National:     pair(c.national, c.nationalTotal),
		Grade:        pair(c.grade, c.gradeTotal),
		Organization: pair(c.organization, c.organizationTotal),
		Category:     pair(c.category, c.categoryTotal),
	}
}

func scanResult(row pgx.Row) (*scoring.AggregateResult, error) {
	var (
		res         scoring.AggregateResult
		temp, final rankCols
	)

	dest := []interface{}{&res.StudentID, &res.TestID, &res.TotalScore, &res.CorrectnessRate, &res.QuestionCount}
	dest = append(dest, temp.dest()...)
	dest = append(dest, final.dest()...)
	dest = append(dest, &res.Deviation, &res.IsRankFinalized, &res.FinalizedAt, &res.CreatedAt, &res.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	res.Temporary = temp.set()
	res.Final = final.set()
	return &res, nil
}

func pair(rank, total *int) scoring.RankPair {
	var p scoring.RankPair
	if rank != nil {
		p.Rank = *rank
	}
	if total != nil {
		p.Total = *total
	}
	return p
}

// rankArgs stores unranked partitions as NULL.
func rankArgs(s scoring.RankSet) []interface{} {
	args := make([]interface{}, 0, 8)
	for _, t := range scoring.AllPartitionTypes {
		p, ok := s.Get(t)
		if !ok {
			args = append(args, nil, nil)
			continue
		}
		args = append(args, p.Rank, p.Total)
	}
	return args
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
