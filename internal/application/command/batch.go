package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hirohiroko250/autograder-system/internal/domain/scoring"
	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
	"github.com/hirohiroko250/autograder-system/pkg/logger"
	"github.com/hirohiroko250/autograder-system/pkg/retry"
	"github.com/hirohiroko250/autograder-system/pkg/timeutil"
)

const tracerName = "github.com/hirohiroko250/autograder-system/internal/application/command"

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// Metrics records batch activity. See infrastructure/metrics for the
// Prometheus implementation.
type Metrics interface {
	RowsWritten(step string, outcome string, n int)
	ChunkRetried(step string)
	ChunkAborted(step string)
	StepCompleted(step string, status string, d time.Duration)
}

// CacheInvalidator drops cached standings of a test after its results were
// rewritten.
type CacheInvalidator interface {
	InvalidateTest(ctx context.Context, testID string) error
}

type noopMetrics struct{}

func (noopMetrics) RowsWritten(string, string, int)             {}
func (noopMetrics) ChunkRetried(string)                         {}
func (noopMetrics) ChunkAborted(string)                         {}
func (noopMetrics) StepCompleted(string, string, time.Duration) {}

// Dependencies are shared by every batch handler.
type Dependencies struct {
	Scores  scoring.ScoreSource
	Results scoring.ResultRepository

	// Optional.
	Cache   CacheInvalidator
	Metrics Metrics
	Clock   timeutil.Clock
	Logger  *slog.Logger
	Tracer  trace.Tracer
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Metrics == nil {
		d.Metrics = noopMetrics{}
	}
	if d.Clock == nil {
		d.Clock = timeutil.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer(tracerName)
	}
	return d
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// BatchConfig controls chunking and contention retries.
type BatchConfig struct {
	// ChunkSize is the number of rows written per transaction.
	ChunkSize int

	// MaxRetries is how often a chunk is retried after lock contention.
	MaxRetries int

	// BackoffStep is the linear backoff step between retries.
	BackoffStep time.Duration

	// StepTimeout bounds one step on one test; 0 disables it.
	StepTimeout time.Duration
}

// DefaultBatchConfig returns 500-row chunks retried 3 times after 1s, 2s, 3s.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		ChunkSize:   500,
		MaxRetries:  3,
		BackoffStep: time.Second,
	}
}

func (c BatchConfig) withDefaults() BatchConfig {
	def := DefaultBatchConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BackoffStep <= 0 {
		c.BackoffStep = def.BackoffStep
	}
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// CHUNK WRITER
// ══════════════════════════════════════════════════════════════════════════════

// pendingWrite is a result waiting in the chunk buffer.
type pendingWrite struct {
	result  *scoring.AggregateResult
	outcome scoring.UpsertOutcome
}

// chunkWriter buffers results and writes them in fixed-size chunks, one
// transaction per chunk. A chunk failing with lock contention is retried
// with linear backoff; any other failure, or running out of retries,
// aborts the step with ErrBatchAborted.
type chunkWriter struct {
	step    Step
	testID  string
	size    int
	write   func(ctx context.Context, rows []*scoring.AggregateResult) error
	flushed func(batch []pendingWrite)

	retrier *retry.Retrier
	metrics Metrics
	log     *slog.Logger

	buf    []pendingWrite
	chunks int
}

func newChunkWriter(
	step Step,
	testID string,
	cfg BatchConfig,
	deps Dependencies,
	log *slog.Logger,
	write func(ctx context.Context, rows []*scoring.AggregateResult) error,
	flushed func(batch []pendingWrite),
) *chunkWriter {
	w := &chunkWriter{
		step:    step,
		testID:  testID,
		size:    cfg.ChunkSize,
		write:   write,
		flushed: flushed,
		metrics: deps.Metrics,
		log:     log,
		buf:     make([]pendingWrite, 0, cfg.ChunkSize),
	}
	w.retrier = retry.ChunkWriteRetrier(cfg.MaxRetries, cfg.BackoffStep, shared.IsContention,
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			w.metrics.ChunkRetried(string(step))
			w.log.Warn("chunk write contended, retrying",
				logger.Chunk(w.chunks),
				logger.Attempt(attempt),
				slog.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)
	return w
}

// Add buffers one row and flushes when the chunk is full.
func (w *chunkWriter) Add(ctx context.Context, r *scoring.AggregateResult, outcome scoring.UpsertOutcome) error {
	w.buf = append(w.buf, pendingWrite{result: r, outcome: outcome})
	if len(w.buf) >= w.size {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered rows.
func (w *chunkWriter) Flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}

	rows := make([]*scoring.AggregateResult, len(w.buf))
	for i, p := range w.buf {
		rows[i] = p.result
	}

	err := w.retrier.Do(ctx, func(ctx context.Context) error {
		return w.write(ctx, rows)
	})
	if err != nil {
		w.metrics.ChunkAborted(string(w.step))
		w.log.Error("chunk write failed, aborting step",
			logger.Chunk(w.chunks),
			slog.Int("rows", len(rows)),
			logger.Err(err),
		)
		return fmt.Errorf("%w: %s %s chunk %d: %w", ErrBatchAborted, w.step, w.testID, w.chunks, err)
	}

	w.log.Debug("chunk flushed", logger.Chunk(w.chunks), slog.Int("rows", len(rows)))
	w.chunks++
	if w.flushed != nil {
		w.flushed(w.buf)
	}
	w.buf = w.buf[:0]
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func newRunID(runID string) string {
	if runID != "" {
		return runID
	}
	return uuid.NewString()
}

// read runs a store read, retrying it on lock contention.
func read[T any](ctx context.Context, log *slog.Logger, what string, fn func(ctx context.Context) (T, error)) (T, error) {
	r := retry.DatabaseRetrier(
		retry.WithRetryIf(shared.IsContention),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("read conflicted, retrying",
				slog.String("read", what),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
				logger.Err(err),
			)
		}),
	)
	return retry.DoWithData(ctx, r, fn)
}

// stepContext applies the step timeout and opens a span.
func stepContext(ctx context.Context, deps Dependencies, cfg BatchConfig, step Step, testID, runID string) (context.Context, trace.Span, context.CancelFunc) {
	cancel := context.CancelFunc(func() {})
	if cfg.StepTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.StepTimeout)
	}
	ctx, span := deps.Tracer.Start(ctx, "scoring."+string(step),
		trace.WithAttributes(
			attribute.String("scoring.test_id", testID),
			attribute.String("scoring.run_id", runID),
		),
	)
	return ctx, span, cancel
}

// finishStep stamps the summary and reports the step to metrics, tracing
// and the log.
func finishStep(deps Dependencies, span trace.Span, log *slog.Logger, s *Summary, err error) {
	s.CompletedAt = deps.Clock.Now()

	status := "ok"
	switch {
	case err != nil:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case s.NoOp:
		status = "noop"
	}

	span.SetAttributes(
		attribute.Int("scoring.created", s.Created),
		attribute.Int("scoring.updated", s.Updated),
		attribute.Int("scoring.rank_updated", s.RankUpdated),
		attribute.Int("scoring.skipped", s.Skipped),
	)
	span.End()

	deps.Metrics.StepCompleted(string(s.Step), status, s.Duration())
	if s.Skipped > 0 {
		deps.Metrics.RowsWritten(string(s.Step), "skipped", s.Skipped)
	}

	attrs := []any{
		slog.String("status", status),
		slog.Int("created", s.Created),
		slog.Int("updated", s.Updated),
		slog.Int("unchanged", s.Unchanged),
		slog.Int("rank_updated", s.RankUpdated),
		slog.Int("skipped", s.Skipped),
		logger.Latency(s.Duration()),
	}
	if s.Reason != "" {
		attrs = append(attrs, slog.String("reason", s.Reason))
	}
	if err != nil {
		log.Error("step failed", append(attrs, logger.Err(err))...)
		return
	}
	log.Info("step completed", attrs...)
}

// invalidate drops cached standings after a step wrote rows. A cache
// failure never fails the step.
func invalidate(ctx context.Context, deps Dependencies, log *slog.Logger, s *Summary) {
	if deps.Cache == nil || s.Written() == 0 {
		return
	}
	if err := deps.Cache.InvalidateTest(ctx, s.TestID); err != nil {
		log.Warn("failed to invalidate standing cache", logger.Err(err))
	}
}
