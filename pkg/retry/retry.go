// Package retry runs an operation again when it fails with an error the
// caller considers transient. Delays grow linearly or exponentially.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryableError marks an error as retryable when no RetryIf is configured.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps an error to indicate it should be retried.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable checks if an error is marked retryable.
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// PermanentError stops retrying immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent.
func IsPermanent(err error) bool {
	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return "retry: attempts exhausted: " + e.Err.Error()
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted checks if err reports exhausted retries.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// Backoff selects how the delay grows between attempts.
type Backoff int

const (
	// BackoffExponential: initialDelay * multiplier^(retry-1).
	BackoffExponential Backoff = iota
	// BackoffLinear: initialDelay * retry, i.e. 1s, 2s, 3s for a 1s step.
	BackoffLinear
)

// Config holds retry configuration.
type Config struct {
	// MaxAttempts is the number of attempts including the first one.
	MaxAttempts int

	// InitialDelay is the delay before the first retry, and the step for
	// linear backoff.
	InitialDelay time.Duration

	// MaxDelay caps any single delay.
	MaxDelay time.Duration

	Backoff    Backoff
	Multiplier float64

	// JitterFactor adds randomness to delays (0.0 = none, 1.0 = full).
	JitterFactor float64

	// RetryIf decides whether an error is retried. If nil, only errors
	// wrapped with Retryable are.
	RetryIf func(error) bool

	// OnRetry is called before each retry with the 1-based retry number.
	OnRetry func(retry int, err error, delay time.Duration)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Backoff:      BackoffExponential,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Option is a functional option for configuring retries.
type Option func(*Config)

// WithMaxAttempts sets the number of attempts including the first one.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.MaxAttempts = n + 1
		}
	}
}

// WithInitialDelay sets the delay before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InitialDelay = d
		}
	}
}

// WithMaxDelay sets the maximum delay between retries.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

// WithMultiplier sets the exponential backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(c *Config) {
		if m >= 1.0 {
			c.Multiplier = m
		}
	}
}

// WithLinearBackoff makes the n-th retry wait n*step, without jitter.
func WithLinearBackoff(step time.Duration) Option {
	return func(c *Config) {
		c.Backoff = BackoffLinear
		c.JitterFactor = 0
		if step > 0 {
			c.InitialDelay = step
		}
	}
}

// WithJitter sets the jitter factor (0.0 to 1.0).
func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1.0 {
			c.JitterFactor = j
		}
	}
}

// WithRetryIf sets a custom function to determine if an error should be retried.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) {
		c.RetryIf = fn
	}
}

// WithOnRetry sets a callback function called before each retry.
func WithOnRetry(fn func(retry int, err error, delay time.Duration)) Option {
	return func(c *Config) {
		c.OnRetry = fn
	}
}

// Retrier manages retry operations.
type Retrier struct {
	config Config
}

// New creates a new Retrier with the given options.
func New(opts ...Option) *Retrier {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Retrier{config: config}
}

// MaxAttempts returns the configured number of attempts.
func (r *Retrier) MaxAttempts() int {
	return r.config.MaxAttempts
}

// Do executes the operation until it succeeds, fails with a non-retryable
// error, or runs out of attempts. In the last case the returned error is an
// *ExhaustedError wrapping the last failure.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		if !r.shouldRetry(err) {
			return err
		}

		if attempt == r.config.MaxAttempts {
			if IsRetryable(err) {
				err = errors.Unwrap(err)
			}
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := r.Delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

func (r *Retrier) shouldRetry(err error) bool {
	if r.config.RetryIf != nil {
		return r.config.RetryIf(err)
	}
	return IsRetryable(err)
}

// Delay returns the wait before the given 1-based retry.
func (r *Retrier) Delay(retry int) time.Duration {
	var base float64
	switch r.config.Backoff {
	case BackoffLinear:
		base = float64(r.config.InitialDelay) * float64(retry)
	default:
		base = float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(retry-1))
	}

	if base > float64(r.config.MaxDelay) {
		base = float64(r.config.MaxDelay)
	}

	if r.config.JitterFactor > 0 {
		base += base * r.config.JitterFactor * (rand.Float64()*2 - 1)
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}

// Do is a convenience function that creates a Retrier and executes the operation.
func Do(ctx context.Context, operation func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, operation)
}

// DoWithData runs an operation that returns data through r.
func DoWithData[T any](ctx context.Context, r *Retrier, operation func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = operation(ctx)
		return opErr
	})
	return result, err
}

// ChunkWriteRetrier returns a Retrier for batch chunk writes: maxRetries
// retries after the first attempt, waiting step, 2*step, 3*step...
// retryIf selects the errors worth another attempt, typically lock
// contention.
func ChunkWriteRetrier(maxRetries int, step time.Duration, retryIf func(error) bool, opts ...Option) *Retrier {
	base := []Option{
		WithMaxRetries(maxRetries),
		WithLinearBackoff(step),
		WithMaxDelay(time.Minute),
		WithRetryIf(retryIf),
	}
	return New(append(base, opts...)...)
}

// DatabaseRetrier returns a Retrier configured for short database reads.
func DatabaseRetrier(opts ...Option) *Retrier {
	base := []Option{
		WithMaxAttempts(3),
		WithInitialDelay(50 * time.Millisecond),
		WithMaxDelay(1 * time.Second),
		WithMultiplier(2.0),
		WithJitter(0.05),
	}
	return New(append(base, opts...)...)
}
