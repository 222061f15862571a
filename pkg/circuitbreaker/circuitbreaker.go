// Package circuitbreaker stops calling a failing dependency for a while so
// callers can fall back to another source instead of waiting on timeouts.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// StateClosed - calls pass through.
	StateClosed State = iota
	// StateOpen - calls are rejected until the open timeout elapses.
	StateOpen
	// StateHalfOpen - a limited number of trial calls pass through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned while the circuit is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open trial budget is used up.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// IsRejected reports whether err came from the breaker rather than the call.
func IsRejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

// Config holds circuit breaker configuration.
type Config struct {
	Name string

	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes
	// that closes it again.
	SuccessThreshold int

	// OpenTimeout is how long the circuit stays open.
	OpenTimeout time.Duration

	// MaxHalfOpenRequests is the trial-call budget in half-open state.
	MaxHalfOpenRequests int

	OnStateChange func(name string, from, to State)

	// IsFailure decides whether an error counts. If nil, every error does.
	IsFailure func(error) bool

	// Now is the time source; time.Now if nil.
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeout:         30 * time.Second,
		MaxHalfOpenRequests: 1,
		Now:                 time.Now,
	}
}

// Option is a functional option for configuring the circuit breaker.
type Option func(*Config)

// WithFailureThreshold sets the failure threshold.
func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

// WithSuccessThreshold sets the success threshold.
func WithSuccessThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SuccessThreshold = n
		}
	}
}

// WithOpenTimeout sets how long the circuit stays open.
func WithOpenTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.OpenTimeout = d
		}
	}
}

// WithMaxHalfOpenRequests sets the half-open trial-call budget.
func WithMaxHalfOpenRequests(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxHalfOpenRequests = n
		}
	}
}

// WithOnStateChange sets the state change callback.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) {
		c.OnStateChange = fn
	}
}

// WithIsFailure sets the failure detection function.
func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) {
		c.IsFailure = fn
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.Now = now
		}
	}
}

// Counts holds the current counts for the circuit breaker.
type Counts struct {
	Requests             int
	TotalSuccesses       int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	config Config

	mu        sync.Mutex
	state     State
	counts    Counts
	openedAt  time.Time
	inFlights int
}

// New creates a new CircuitBreaker with the given name and options.
func New(name string, opts ...Option) *CircuitBreaker {
	config := DefaultConfig(name)
	for _, opt := range opts {
		opt(&config)
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// Execute runs fn if the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// Call runs fn through the breaker and returns its value.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.config.Now().Sub(cb.openedAt) < cb.config.OpenTimeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.inFlights = 1
		return nil
	case StateHalfOpen:
		if cb.inFlights < cb.config.MaxHalfOpenRequests {
			cb.inFlights++
			return nil
		}
		return ErrTooManyRequests
	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Requests++

	failed := err != nil
	if failed && cb.config.IsFailure != nil {
		failed = cb.config.IsFailure(err)
	}

	if !failed {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	switch cb.state {
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.open()
		}
	case StateHalfOpen:
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.config.Now()
	cb.setState(StateOpen)
}

func (cb *CircuitBreaker) setState(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next

	cb.counts.ConsecutiveSuccesses = 0
	cb.counts.ConsecutiveFailures = 0
	cb.inFlights = 0

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, prev, next)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns the current counts.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the circuit and clears the counts.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.counts = Counts{}
	cb.inFlights = 0
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// CacheBreaker returns a breaker for a read-through cache: it opens quickly
// and tries again soon, since the fallback is always available.
func CacheBreaker(name string, opts ...Option) *CircuitBreaker {
	base := []Option{
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithOpenTimeout(15 * time.Second),
		WithMaxHalfOpenRequests(1),
	}
	return New(name, append(base, opts...)...)
}
