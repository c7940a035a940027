package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{Attempts: 2, Backoff: time.Millisecond}, func() error {
		calls++
		if calls == 1 {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{Attempts: 2, Backoff: time.Millisecond}, func() error {
		calls++
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, RetryConfig{Attempts: 3, Backoff: time.Hour}, func() error {
		calls++
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1: no retry after cancellation", calls)
	}
}

func TestRetryDoesNotRetryCanceledCall(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{Attempts: 3, Backoff: time.Millisecond}, func() error {
		calls++
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryResult(t *testing.T) {
	calls := 0
	v, err := RetryResult(context.Background(), RetryConfig{Attempts: 2, Backoff: time.Millisecond}, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errBoom
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("RetryResult: %v", err)
	}
	if v != 42 {
		t.Fatalf("v = %d, want 42", v)
	}
}
