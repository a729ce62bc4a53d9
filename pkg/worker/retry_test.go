package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/doc-pipeline/pkg/core"
)

func fastRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       maxAttempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	var calls atomic.Int64
	err := retryWithBackoff(context.Background(), fastRetryConfig(5), func() error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestRetry_EventuallySucceeds(t *testing.T) {
	var calls atomic.Int64
	err := retryWithBackoff(context.Background(), fastRetryConfig(5), func() error {
		if calls.Add(1) < 3 {
			return errors.New("database locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("database locked")
	var calls atomic.Int64
	err := retryWithBackoff(context.Background(), fastRetryConfig(3), func() error {
		calls.Add(1)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(3), calls.Load())
}

func TestRetry_NeverRetriesCancellation(t *testing.T) {
	var calls atomic.Int64
	err := retryWithBackoff(context.Background(), fastRetryConfig(5), func() error {
		calls.Add(1)
		return context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), calls.Load())
}

func TestRetry_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int64
	err := retryWithBackoff(ctx, RetryConfig{
		MaxAttempts:       10,
		InitialBackoff:    time.Hour,
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 1.0,
	}, func() error {
		calls.Add(1)
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), calls.Load(), "backoff sleep must end with the context")
}

func TestRetry_NeverRetriesOwnershipLoss(t *testing.T) {
	var calls atomic.Int64
	err := retryWithBackoff(context.Background(), fastRetryConfig(5), func() error {
		calls.Add(1)
		return core.ErrJobNotOwned
	})
	assert.ErrorIs(t, err, core.ErrJobNotOwned)
	assert.Equal(t, int64(1), calls.Load())
}

func TestRetry_NeverRetriesFatalErrors(t *testing.T) {
	var calls atomic.Int64
	err := retryWithBackoff(context.Background(), fastRetryConfig(5), func() error {
		calls.Add(1)
		return core.Fatal(errors.New("unsupported input"))
	})
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))
	assert.Equal(t, int64(1), calls.Load())
}

func TestRetryConfig_DelayGrowsAndCaps(t *testing.T) {
	c := RetryConfig{
		MaxAttempts:       10,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        400 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, c.delay(1))
	assert.Equal(t, 200*time.Millisecond, c.delay(2))
	assert.Equal(t, 400*time.Millisecond, c.delay(3))
	assert.Equal(t, 400*time.Millisecond, c.delay(7), "delay is capped")
}

func TestRetryConfig_NormFillsZeroValues(t *testing.T) {
	c := RetryConfig{}.norm()
	assert.Equal(t, 1, c.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, c.InitialBackoff)
	assert.Equal(t, 1.0, c.BackoffMultiplier)
}
