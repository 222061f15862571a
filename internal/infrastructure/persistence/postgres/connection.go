// Package postgres implements the PostgreSQL persistence layer of the
// scoring engine: the read side of score entry (tests, raw scores, students)
// and the aggregate_results table the batch steps write.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrConnectionClosed indicates the connection pool is closed.
	ErrConnectionClosed = errors.New("postgres: connection pool is closed")

	// ErrMigrationFailed indicates a migration failure.
	ErrMigrationFailed = errors.New("postgres: migration failed")

	// ErrTransactionFailed indicates a transaction failure.
	ErrTransactionFailed = errors.New("postgres: transaction failed")
)

// SQLSTATE codes the engine cares about.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION POOL
// ══════════════════════════════════════════════════════════════════════════════

// Config holds PostgreSQL connection configuration.
type Config struct {
	// URL is a postgres:// connection string.
	URL string

	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration

	// LockTimeout bounds how long a write waits for a row lock before
	// failing with lock_not_available; 0 leaves the server default.
	LockTimeout time.Duration
}

// DefaultConfig returns pool settings sized for a batch worker.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		MaxConns:          10,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
		LockTimeout:       5 * time.Second,
	}
}

// PoolConfig returns pgxpool configuration.
func (c Config) PoolConfig() (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse database URL: %w", err)
	}

	if c.MaxConns > 0 {
		config.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		config.MinConns = c.MinConns
	}
	if c.MaxConnLifetime > 0 {
		config.MaxConnLifetime = c.MaxConnLifetime
	}
	if c.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = c.MaxConnIdleTime
	}
	if c.HealthCheckPeriod > 0 {
		config.HealthCheckPeriod = c.HealthCheckPeriod
	}
	if c.LockTimeout > 0 {
		config.ConnConfig.RuntimeParams["lock_timeout"] = fmt.Sprintf("%d", c.LockTimeout.Milliseconds())
	}

	return config, nil
}

// Connection represents a PostgreSQL connection pool.
type Connection struct {
	pool   *pgxpool.Pool
	closed bool
	mu     sync.RWMutex
}

// NewConnection creates a new PostgreSQL connection pool and pings it.
func NewConnection(ctx context.Context, cfg Config) (*Connection, error) {
	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	return &Connection{pool: pool}, nil
}

// Pool returns the underlying connection pool.
func (c *Connection) Pool() *pgxpool.Pool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pool
}

// Close closes the connection pool.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	c.pool.Close()
}

// Ping checks if the database connection is alive.
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrConnectionClosed
	}

	return c.pool.Ping(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION SUPPORT
// ══════════════════════════════════════════════════════════════════════════════

// WithTx executes fn within a read-committed transaction. The transaction
// is committed if fn returns nil and rolled back otherwise. Errors are
// passed through MapError.
func (c *Connection) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrConnectionClosed
	}
	pool := c.pool
	c.mu.RUnlock()

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return MapError(fmt.Errorf("%w: %w", ErrTransactionFailed, err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return MapError(fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr))
		}
		return MapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return MapError(fmt.Errorf("commit error: %w", err))
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// Querier is an interface that both *pgxpool.Pool and pgx.Tx implement.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Exec executes a query that doesn't return rows.
func (c *Connection) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return pgconn.CommandTag{}, ErrConnectionClosed
	}

	return c.pool.Exec(ctx, sql, args...)
}

// Query executes a query that returns rows.
func (c *Connection) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrConnectionClosed
	}

	return c.pool.Query(ctx, sql, args...)
}

// QueryRow executes a query that returns a single row.
func (c *Connection) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.pool.QueryRow(ctx, sql, args...)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// MapError translates PostgreSQL errors into domain error kinds. Lock and
// serialization conflicts become shared.ErrConcurrentModification so the
// batch layer can retry them. Constraint violations get their matching kind
// and anything else is returned unchanged.
func MapError(err error) error {
	var de *shared.DomainError
	if err == nil || errors.As(err, &de) {
		return err
	}
	switch {
	case IsContention(err):
		return shared.WrapError("postgres", "Write", shared.ErrConcurrentModification, "write conflicted with a concurrent transaction", err)
	case IsUniqueViolation(err):
		return shared.WrapError("postgres", "Write", shared.ErrAlreadyExists, "row already exists", err)
	case IsForeignKeyViolation(err):
		return shared.WrapError("postgres", "Write", shared.ErrMissingReference, "referenced row does not exist", err)
	case pgCode(err) == codeCheckViolation:
		return shared.WrapError("postgres", "Write", shared.ErrValueOutOfRange, "value violates a check constraint", err)
	}
	return err
}

// IsContention checks if the error is a serialization failure, a deadlock
// or a lock timeout.
func IsContention(err error) bool {
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	}
	return false
}

// IsUniqueViolation checks if the error is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

// IsForeignKeyViolation checks if the error is a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	return pgCode(err) == codeForeignKeyViolation
}

// IsNoRows checks if the error is a "no rows" error.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
