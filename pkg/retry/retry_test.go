package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errBusy)
		}
		return nil
	}, WithMaxAttempts(5), WithInitialDelay(time.Millisecond), WithJitter(0))

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	var delays []time.Duration
	r := ChunkWriteRetrier(3, time.Millisecond, func(err error) bool { return errors.Is(err, errBusy) },
		WithOnRetry(func(_ int, _ error, d time.Duration) { delays = append(delays, d) }))

	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errBusy
	})

	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, delays)
}

func TestDo_NotRetried(t *testing.T) {
	calls := 0
	other := errors.New("bad input")
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return other
	}, WithRetryIf(func(err error) bool { return errors.Is(err, errBusy) }))

	assert.Equal(t, other, err)
	assert.Equal(t, 1, calls)
}

func TestDo_Permanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(errBusy)
	}, WithRetryIf(func(error) bool { return true }))

	assert.Equal(t, errBusy, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelay_Linear(t *testing.T) {
	r := New(WithLinearBackoff(time.Second))
	assert.Equal(t, time.Second, r.Delay(1))
	assert.Equal(t, 2*time.Second, r.Delay(2))
	assert.Equal(t, 3*time.Second, r.Delay(3))
}

func TestDelay_ExponentialCapped(t *testing.T) {
	r := New(WithInitialDelay(time.Second), WithMultiplier(2), WithMaxDelay(5*time.Second), WithJitter(0))
	assert.Equal(t, time.Second, r.Delay(1))
	assert.Equal(t, 4*time.Second, r.Delay(3))
	assert.Equal(t, 5*time.Second, r.Delay(10))
}

func TestWithMaxRetries(t *testing.T) {
	assert.Equal(t, 4, New(WithMaxRetries(3)).MaxAttempts())
	assert.Equal(t, 1, New(WithMaxRetries(0)).MaxAttempts())
}

func TestDoWithData(t *testing.T) {
	v, err := DoWithData(context.Background(), New(), func(ctx context.Context) (int, error) { return 7, nil })
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestDatabaseRetrier(t *testing.T) {
	transient := errors.New("lock timeout")
	r := DatabaseRetrier(
		WithInitialDelay(time.Millisecond),
		WithRetryIf(func(err error) bool { return errors.Is(err, transient) }),
	)
	assert.Equal(t, 3, r.MaxAttempts())

	calls := 0
	v, err := DoWithData(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", transient
		}
		return "rows", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "rows", v)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = DoWithData(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		return "", transient
	})
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, calls)
}
