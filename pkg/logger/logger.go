// Package logger builds the process-wide slog.Logger and provides attribute
// helpers so the same keys are used by every component.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseLevel parses a level name. Unknown names map to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configures New.
type Options struct {
	Level  string
	Format Format
	Output io.Writer

	// AddSource adds file:line to every record.
	AddSource bool
}

// DefaultOptions returns text output at info level on stdout.
func DefaultOptions() Options {
	return Options{
		Level:  "info",
		Format: FormatText,
		Output: os.Stdout,
	}
}

// New creates a logger. JSON output is meant for production where logs are
// shipped to an aggregator, text output for local runs.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	hOpts := &slog.HandlerOptions{
		Level:     ParseLevel(opts.Level),
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.Format == FormatJSON {
		handler = slog.NewJSONHandler(opts.Output, hOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, hOpts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops every record. Used in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ──────────────────────────────────────────────────────────────────────────────
// Context propagation
// ──────────────────────────────────────────────────────────────────────────────

type ctxKey struct{}

// WithContext stores l in ctx.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// ──────────────────────────────────────────────────────────────────────────────
// Attributes
// ──────────────────────────────────────────────────────────────────────────────

func TestID(id string) slog.Attr        { return slog.String("test_id", id) }
func StudentID(id string) slog.Attr     { return slog.String("student_id", id) }
func RunID(id string) slog.Attr         { return slog.String("run_id", id) }
func Step(name string) slog.Attr        { return slog.String("step", name) }
func Chunk(index int) slog.Attr         { return slog.Int("chunk", index) }
func Component(name string) slog.Attr   { return slog.String("component", name) }
func Attempt(n int) slog.Attr           { return slog.Int("attempt", n) }
func Latency(d time.Duration) slog.Attr { return slog.Duration("latency", d) }

// Err returns an "error" attribute; nil errors render as an empty string.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
