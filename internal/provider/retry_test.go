package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = 4 * time.Millisecond
	return p
}

func TestRetryPolicyDelayGrowthAndCap(t *testing.T) {
	p := DefaultRetryPolicy()
	p.Jitter = 0

	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("attempt %d: got %v want %v", i+1, got, w)
		}
	}
}

func TestRetryPolicyDelayJitterBounds(t *testing.T) {
	p := DefaultRetryPolicy()

	p.rand = func() float64 { return 0 }
	if got := p.Delay(1); got != 400*time.Millisecond {
		t.Errorf("low jitter: got %v want 400ms", got)
	}
	p.rand = func() float64 { return 1 }
	if got := p.Delay(1); got != 600*time.Millisecond {
		t.Errorf("high jitter: got %v want 600ms", got)
	}
	// Jitter never pushes past the cap.
	if got := p.Delay(10); got != 8*time.Second {
		t.Errorf("capped jitter: got %v want 8s", got)
	}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	p := fastPolicy()
	var retries []int
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	}

	calls := 0
	got, err := Retry(context.Background(), p, func(ctx context.Context, attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", &Error{Kind: KindTransient, Err: errors.New("connect timeout")}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Fatalf("expected ok after 3 calls, got %q after %d", got, calls)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Fatalf("unexpected OnRetry attempts %v", retries)
	}
}

func TestRetryTerminalFailsFast(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(), func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, StatusError(400, "bad request")
	})
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.StatusCode != 400 {
		t.Fatalf("expected 400 error, got %v", err)
	}
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(), func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, StatusError(500+attempt, "down")
	})
	if calls != 4 {
		t.Fatalf("expected 4 attempts (3 retries), got %d", calls)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.StatusCode != 504 {
		t.Fatalf("expected last error (504), got %v", err)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	p := DefaultRetryPolicy()
	p.InitialBackoff = time.Hour
	p.MaxBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	p.OnRetry = func(int, error, time.Duration) { cancel() }

	_, err := Retry(ctx, p, func(ctx context.Context, attempt int) (int, error) {
		return 0, &Error{Kind: KindTransient}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
