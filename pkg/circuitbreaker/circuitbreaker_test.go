package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errDown = errors.New("down")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var transitions []State
	cb := New("test",
		WithFailureThreshold(2),
		WithSuccessThreshold(1),
		WithOpenTimeout(time.Minute),
		WithClock(func() time.Time { return now }),
		WithOnStateChange(func(_ string, _, to State) { transitions = append(transitions, to) }),
	)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(ctx, ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRejected(err))

	now = now.Add(time.Minute)
	assert.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := New("test", WithFailureThreshold(1), WithOpenTimeout(time.Second),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	now = now.Add(2 * time.Second)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	cb := New("test", WithFailureThreshold(1), WithIsFailure(func(err error) bool { return false }))
	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Counts().TotalSuccesses)
}

func TestCall(t *testing.T) {
	cb := CacheBreaker("cache")
	v, err := Call(context.Background(), cb, func(context.Context) (string, error) { return "hit", nil })
	assert.NoError(t, err)
	assert.Equal(t, "hit", v)
	assert.Equal(t, "cache", cb.Name())
}
