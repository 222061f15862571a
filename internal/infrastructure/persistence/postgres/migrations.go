package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded migrations in version order.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations and returns how many ran.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if mig.UpSQL == "" {
			return ran, fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName), mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("%w: version %d: %w", ErrMigrationFailed, mig.Version, err)
		}
		ran++
	}

	return ran, nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			mig = &m.migrations[i]
			break
		}
	}
	if mig == nil || mig.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// Status returns every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_score_entry",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_aggregate_results",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "check_raw_score_group_max",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: SCORE ENTRY
// Students, tests and raw scores. Written by score entry, read here.
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS students (
    id VARCHAR(64) PRIMARY KEY,
    grade SMALLINT NOT NULL,
    organization_id VARCHAR(64),
    category VARCHAR(64),
    deleted_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_students_grade_org ON students(grade, organization_id);

CREATE TABLE IF NOT EXISTS tests (
    id VARCHAR(64) PRIMARY KEY,
    year INTEGER NOT NULL,
    period VARCHAR(10) NOT NULL,
    subject VARCHAR(20) NOT NULL,
    max_score INTEGER NOT NULL DEFAULT 0,
    deadline TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_period CHECK (period IN ('spring', 'summer', 'autumn', 'winter')),
    CONSTRAINT valid_max_score CHECK (max_score >= 0)
);

CREATE INDEX IF NOT EXISTS idx_tests_year_period ON tests(year, period);

CREATE TABLE IF NOT EXISTS question_groups (
    id VARCHAR(64) PRIMARY KEY,
    test_id VARCHAR(64) NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
    position SMALLINT NOT NULL DEFAULT 0,
    max_score INTEGER NOT NULL,

    CONSTRAINT valid_group_max CHECK (max_score >= 0)
);

CREATE INDEX IF NOT EXISTS idx_question_groups_test ON question_groups(test_id);

CREATE TABLE IF NOT EXISTS raw_scores (
    student_id VARCHAR(64) NOT NULL,
    test_id VARCHAR(64) NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
    question_group_id VARCHAR(64) NOT NULL REFERENCES question_groups(id) ON DELETE CASCADE,
    value INTEGER NOT NULL DEFAULT 0,
    attended BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (student_id, test_id, question_group_id),
    CONSTRAINT valid_value CHECK (value >= 0)
);

CREATE INDEX IF NOT EXISTS idx_raw_scores_attended ON raw_scores(test_id, student_id) WHERE attended;
`

const migration001Down = `
DROP TABLE IF EXISTS raw_scores;
DROP TABLE IF EXISTS question_groups;
DROP TABLE IF EXISTS tests;
DROP TABLE IF EXISTS students;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: AGGREGATE RESULTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS aggregate_results (
    student_id VARCHAR(64) NOT NULL,
    test_id VARCHAR(64) NOT NULL REFERENCES tests(id) ON DELETE CASCADE,

    total_score INTEGER NOT NULL DEFAULT 0,
    correctness_rate NUMERIC(6,2) NOT NULL DEFAULT 0,
    question_count INTEGER NOT NULL DEFAULT 0,

    national_rank INTEGER,
    national_total INTEGER,
    grade_rank INTEGER,
    grade_total INTEGER,
    organization_rank INTEGER,
    organization_total INTEGER,
    category_rank INTEGER,
    category_total INTEGER,

    final_national_rank INTEGER,
    final_national_total INTEGER,
    final_grade_rank INTEGER,
    final_grade_total INTEGER,
    final_organization_rank INTEGER,
    final_organization_total INTEGER,
    final_category_rank INTEGER,
    final_category_total INTEGER,

    deviation_score NUMERIC(5,2),
    is_rank_finalized BOOLEAN NOT NULL DEFAULT FALSE,
    finalized_at TIMESTAMP WITH TIME ZONE,

    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (student_id, test_id),
    CONSTRAINT valid_total CHECK (total_score >= 0),
    CONSTRAINT valid_deviation CHECK (deviation_score IS NULL OR (deviation_score >= 0 AND deviation_score <= 100))
);

CREATE INDEX IF NOT EXISTS idx_aggregate_results_test ON aggregate_results(test_id, student_id);
CREATE INDEX IF NOT EXISTS idx_aggregate_results_zero ON aggregate_results(test_id) WHERE total_score = 0;
`

const migration002Down = `
DROP TABLE IF EXISTS aggregate_results;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: RAW SCORE UPPER BOUND
// A raw score may not exceed the max score of its question group. Rows written
// before this migration are caught when aggregating.
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE OR REPLACE FUNCTION check_raw_score_group_max() RETURNS TRIGGER AS $$
DECLARE
    group_max INTEGER;
BEGIN
    SELECT max_score INTO group_max FROM question_groups WHERE id = NEW.question_group_id;
    IF group_max IS NOT NULL AND NEW.value > group_max THEN
        RAISE EXCEPTION 'raw score % exceeds max % of question group %', NEW.value, group_max, NEW.question_group_id
            USING ERRCODE = 'check_violation';
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS raw_scores_group_max ON raw_scores;
CREATE TRIGGER raw_scores_group_max
    BEFORE INSERT OR UPDATE OF value, question_group_id ON raw_scores
    FOR EACH ROW EXECUTE FUNCTION check_raw_score_group_max();
`

const migration003Down = `
DROP TRIGGER IF EXISTS raw_scores_group_max ON raw_scores;
DROP FUNCTION IF EXISTS check_raw_score_group_max();
`
