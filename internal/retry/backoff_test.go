package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"relaybox/internal/models"
)

func fastBackoff(attempts int) *Backoff {
	return NewBackoff(BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  attempts,
	})
}

func TestBackoff_SuccessFirstAttempt(t *testing.T) {
	attempts := 0
	err := fastBackoff(3).Retry(context.Background(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestBackoff_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := fastBackoff(5).Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestBackoff_ExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("still failing")
	attempts := 0
	err := fastBackoff(4).Retry(context.Background(), func() error {
		attempts++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("Expected last error, got %v", err)
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts, got %d", attempts)
	}
}

func TestBackoff_PredicateStopsEarly(t *testing.T) {
	permanent := errors.New("validation failed")
	attempts := 0
	err := fastBackoff(5).RetryWithPredicate(context.Background(), func() error {
		attempts++
		return permanent
	}, func(err error) bool { return !errors.Is(err, permanent) })

	if !errors.Is(err, permanent) {
		t.Errorf("Expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backoff := NewBackoff(BackoffConfig{InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 1, MaxAttempts: 3})

	attempts := 0
	err := backoff.Retry(ctx, func() error {
		attempts++
		cancel()
		return errors.New("fail")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestBackoff_DelayGrowthAndCap(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  10,
	})

	expected := []time.Duration{10, 20, 40, 50, 50}
	for i, want := range expected {
		if got := backoff.calculateDelay(i + 1); got != want*time.Millisecond {
			t.Errorf("attempt %d: expected %v, got %v", i+1, want*time.Millisecond, got)
		}
	}
}

func TestBackoff_JitterStaysInBounds(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       true,
	})

	for i := 0; i < 100; i++ {
		d := backoff.calculateDelay(1)
		if d < 75*time.Millisecond || d > 125*time.Millisecond {
			t.Fatalf("Jittered delay out of range: %v", d)
		}
	}
}

func TestConfigFromRetry(t *testing.T) {
	cfg := ConfigFromRetry(models.RetryConfig{InitialBackoffMs: 200, MaxBackoffMs: 100, MaxAttempts: 7})

	if cfg.InitialDelay != 200*time.Millisecond {
		t.Errorf("Expected 200ms, got %v", cfg.InitialDelay)
	}
	if cfg.MaxDelay != cfg.InitialDelay {
		t.Errorf("Expected max delay raised to initial delay, got %v", cfg.MaxDelay)
	}
	if cfg.MaxAttempts != 7 {
		t.Errorf("Expected 7 attempts, got %d", cfg.MaxAttempts)
	}

	defaults := ConfigFromRetry(models.RetryConfig{})
	if defaults.MaxAttempts < 1 || defaults.InitialDelay <= 0 {
		t.Errorf("Expected defaults to be filled, got %+v", defaults)
	}
}
