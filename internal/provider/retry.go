package provider

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy describes capped exponential backoff with symmetric jitter.
// Attempt n (1-based) waits InitialBackoff * Multiplier^(n-1), capped at
// MaxBackoff, then scaled by a random factor in [1-Jitter, 1+Jitter] and
// capped again.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64

	// ShouldRetry decides whether an error is retryable. Defaults to
	// IsTransient.
	ShouldRetry func(error) bool
	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error, delay time.Duration)

	rand func() float64
}

// DefaultRetryPolicy is tuned for HTTP model endpoints: 3 retries (4
// attempts), 500ms initial delay doubling up to 8s, ±20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		Multiplier:     2,
		Jitter:         0.2,
	}
}

// Delay returns the wait after the given failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.MaxBackoff > 0 && d >= float64(p.MaxBackoff) {
			d = float64(p.MaxBackoff)
			break
		}
	}
	if p.Jitter > 0 {
		r := rand.Float64
		if p.rand != nil {
			r = p.rand
		}
		d *= 1 + p.Jitter*(2*r()-1)
	}
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(math.Round(d))
}

// Retry runs fn until it succeeds, returns a non-retryable error, exhausts
// MaxRetries, or ctx is done. The last error is returned unchanged.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	for attempt := 1; ; attempt++ {
		val, err := fn(ctx, attempt)
		if err == nil {
			return val, nil
		}
		if !shouldRetry(err) {
			if attempt > 1 {
				slog.Warn("non-retryable error after retries, failing", "attempt", attempt, "error", err)
			}
			return val, err
		}
		if attempt > p.MaxRetries {
			slog.Warn("retries exhausted", "attempts", attempt, "error", err)
			return val, err
		}

		delay := p.Delay(attempt)
		slog.Info("retrying after retryable error", "attempt", attempt, "backoff_ms", delay.Milliseconds(), "error", err)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
