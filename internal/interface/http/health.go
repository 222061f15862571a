package http

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// HealthCheckFunc performs a single health check.
// It returns an error if the check fails.
type HealthCheckFunc func(ctx context.Context) error

// Pinger is anything that can be pinged: the postgres connection and the
// redis cache both are.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger to a HealthCheckFunc.
func PingCheck(p Pinger) HealthCheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// HealthStatus represents the overall health status of the worker.
type HealthStatus struct {
	// Healthy is false when a required check failed.
	Healthy bool `json:"healthy"`

	// Degraded is true when only optional checks failed.
	Degraded bool `json:"degraded,omitempty"`

	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type namedCheck struct {
	fn       HealthCheckFunc
	optional bool
}

// CompositeHealthChecker aggregates multiple health checks and runs them
// concurrently.
type CompositeHealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]namedCheck
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewCompositeHealthChecker creates a new composite health checker.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checks:    make(map[string]namedCheck),
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
}

// SetTimeout sets the timeout for individual health checks.
func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// AddCheck adds a required check. A failing required check makes the
// worker unhealthy.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.add(name, check, false)
}

// AddOptionalCheck adds a check whose failure only degrades the worker.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, check HealthCheckFunc) {
	c.add(name, check, true)
}

func (c *CompositeHealthChecker) add(name string, check HealthCheckFunc, optional bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = namedCheck{fn: check, optional: optional}
}

// Check performs all health checks and returns the aggregated status.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]namedCheck, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	if len(checks) == 0 {
		status.Message = "no health checks registered"
		return status
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for name, check := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			err := check.fn(checkCtx)

			result := CheckResult{
				Healthy:  err == nil,
				Optional: check.optional,
				Message:  "OK",
				Duration: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				result.Message = err.Error()
			}

			mu.Lock()
			status.Checks[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for name, r := range status.Checks {
		if r.Healthy {
			continue
		}
		failed = append(failed, name)
		if r.Optional {
			status.Degraded = true
		} else {
			status.Healthy = false
		}
	}
	sort.Strings(failed)

	switch {
	case len(failed) == 0:
		status.Message = "all checks passed"
	default:
		status.Message = "failed checks: " + strings.Join(failed, ", ")
	}
	return status
}
