package worker

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/jdziat/doc-pipeline/pkg/core"
)

// RetryConfig bounds retries of registry operations.
type RetryConfig struct {
	// MaxAttempts counts the first call. Default: 5.
	MaxAttempts int

	// InitialBackoff is the delay after the first failure. Default: 100ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts. Zero means uncapped.
	// Default: 5s.
	MaxBackoff time.Duration

	// BackoffMultiplier is the exponential growth factor. Default: 2.0.
	BackoffMultiplier float64

	// JitterFraction randomizes each delay by up to this fraction either way.
	// Default: 0.1.
	JitterFraction float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// norm fills zero values so a partially specified config still behaves.
func (c RetryConfig) norm() RetryConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 1
	}
	return c
}

// delay computes the backoff after the given 1-based attempt number.
func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	if c.JitterFraction > 0 {
		d += d * c.JitterFraction * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// isRetryable reports whether another attempt could change the outcome.
// Context endings, ownership losses and fatal stage errors never resolve by
// retrying.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, core.ErrJobNotOwned),
		errors.Is(err, core.ErrJobNotFound),
		core.IsFatal(err):
		return false
	}
	return true
}

// retryWithBackoff runs operation until it succeeds, a non-retryable error
// occurs, attempts are exhausted, or the context ends during a backoff wait.
func retryWithBackoff(ctx context.Context, config RetryConfig, operation func() error) error {
	config = config.norm()

	for attempt := 1; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !isRetryable(err) || attempt >= config.MaxAttempts {
			return err
		}

		timer := time.NewTimer(config.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
