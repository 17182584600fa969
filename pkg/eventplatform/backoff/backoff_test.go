package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	var observed []time.Duration
	err := Do(context.Background(), Policy{
		InitialDelay:  time.Millisecond,
		MaxDelay:      100 * time.Millisecond,
		BackoffFactor: 2,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			observed = append(observed, delay)
		},
	}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient boom")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, observed, 2)
	assert.Equal(t, time.Millisecond, observed[0])
	assert.Equal(t, 2*time.Millisecond, observed[1])
}

func TestDo_NonTransientFailsFast(t *testing.T) {
	sentinel := errors.New("fatal")
	calls := 0
	err := Do(context.Background(), Policy{
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Second,
		IsTransient:  func(error) bool { return false },
	}, func(ctx context.Context) error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDo_RespectsMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		MaxAttempts:  3,
	}, func(ctx context.Context) error {
		calls++
		return errors.New("always fails")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_CapsDelayAtMaxDelay(t *testing.T) {
	var observed []time.Duration
	calls := 0
	_ = Do(context.Background(), Policy{
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 10,
		MaxAttempts:   5,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			observed = append(observed, delay)
		},
	}, func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})
	require.Len(t, observed, 4)
	assert.Equal(t, 5*time.Millisecond, observed[len(observed)-1])
}

func TestDo_CancellationDuringSleepSurfacesContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, Policy{InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}, func(ctx context.Context) error {
			calls++
			return errors.New("boom")
		})
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, Policy{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}
