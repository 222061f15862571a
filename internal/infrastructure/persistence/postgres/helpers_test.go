package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirohiroko250/autograder-system/internal/domain/scoring"
	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
)

func TestMapError_Contention(t *testing.T) {
	tests := []struct {
		code       string
		contention bool
	}{
		{"40001", true},
		{"40P01", true},
		{"55P03", true},
		{"42P01", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := fmt.Errorf("exec: %w", &pgconn.PgError{Code: tt.code})
			mapped := MapError(err)
			assert.Equal(t, tt.contention, shared.IsContention(mapped))
			if !tt.contention {
				assert.Same(t, err, mapped)
			}
		})
	}
}

func TestMapError_ConstraintViolations(t *testing.T) {
	tests := []struct {
		code string
		kind error
	}{
		{"23505", shared.ErrAlreadyExists},
		{"23503", shared.ErrMissingReference},
		{"23514", shared.ErrValueOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			pgErr := &pgconn.PgError{Code: tt.code}
			mapped := MapError(fmt.Errorf("exec: %w", pgErr))
			assert.ErrorIs(t, mapped, tt.kind)
			assert.ErrorIs(t, mapped, pgErr)
			assert.False(t, shared.IsContention(mapped))
		})
	}

	assert.True(t, shared.IsMissingReference(MapError(&pgconn.PgError{Code: "23503"})))
	assert.True(t, shared.IsValidation(MapError(&pgconn.PgError{Code: "23514"})))
}

func TestMapError_PassThrough(t *testing.T) {
	assert.NoError(t, MapError(nil))

	plain := errors.New("boom")
	assert.Same(t, plain, MapError(plain))

	once := MapError(&pgconn.PgError{Code: "40001"})
	assert.Same(t, once, MapError(once), "already mapped errors are not wrapped again")
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsForeignKeyViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("23505")))
	assert.True(t, IsNoRows(fmt.Errorf("scan: %w", pgx.ErrNoRows)))
}

func TestRankArgs_NullsForUnranked(t *testing.T) {
	set := scoring.RankSet{
		National: scoring.RankPair{Rank: 3, Total: 40},
		Grade:    scoring.RankPair{Rank: 1, Total: 12},
	}

	args := rankArgs(set)
	require.Len(t, args, 8)
	assert.Equal(t, []interface{}{3, 40, 1, 12, nil, nil, nil, nil}, args)
}

func TestRankCols_RoundTrip(t *testing.T) {
	three, forty := 3, 40
	c := rankCols{national: &three, nationalTotal: &forty}

	got := c.set()
	assert.Equal(t, scoring.RankPair{Rank: 3, Total: 40}, got.National)
	assert.True(t, got.Category.IsZero())
}

func TestGetMigrations_Ordered(t *testing.T) {
	migs := GetMigrations()
	require.NotEmpty(t, migs)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
	assert.Contains(t, migs[1].UpSQL, "aggregate_results")

	last := migs[len(migs)-1]
	assert.Contains(t, last.UpSQL, "question_groups WHERE id = NEW.question_group_id")
	assert.Contains(t, last.UpSQL, "check_violation")
	assert.Contains(t, last.DownSQL, "DROP TRIGGER IF EXISTS raw_scores_group_max")
}

func TestConfig_PoolConfig(t *testing.T) {
	cfg := DefaultConfig("postgres://u:p@localhost:5432/scores?sslmode=disable")
	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(10), pc.MaxConns)
	assert.Equal(t, "5000", pc.ConnConfig.RuntimeParams["lock_timeout"])

	_, err = Config{URL: "postgres://%zz"}.PoolConfig()
	assert.Error(t, err)
}
