package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy controls exponential backoff with jitter.
type RetryPolicy struct {
	// MaxAttempts counts the first try. 1 disables retries.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps each delay.
	MaxBackoff time.Duration
	// JitterFraction spreads each delay by ±fraction.
	JitterFraction float64
	// ShouldRetry overrides IsTransient.
	ShouldRetry func(err error) bool
	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy returns the policy used for gateway reads.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		JitterFraction: 0.2,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = IsTransient
	}
	return p
}

// Retry runs fn until it succeeds, fails with a non-retryable error, the
// attempts run out, or ctx is done. The last error is returned.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	policy = policy.withDefaults()

	var zero T
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !policy.ShouldRetry(err) || attempt == policy.MaxAttempts {
			break
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}

		timer := time.NewTimer(backoff(attempt, policy))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// backoff returns the delay after the given 1-based attempt.
func backoff(attempt int, p RetryPolicy) time.Duration {
	d := float64(p.InitialBackoff) * math.Pow(2, float64(attempt-1))
	d = math.Min(d, float64(p.MaxBackoff))
	if p.JitterFraction > 0 {
		d += d * p.JitterFraction * (rand.Float64()*2 - 1)
	}
	return time.Duration(math.Max(d, 0))
}

// LogRetry returns an OnRetry hook that logs each retry.
func LogRetry(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying request",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
