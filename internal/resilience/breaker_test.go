package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", TripAfter: 3, CoolDown: time.Hour})
	fail := func() error { return errBoom }

	for i := 0; i < 3; i++ {
		if err := b.Do(fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d err = %v", i, err)
		}
	}
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}
	if err := b.Do(fail); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("open breaker err = %v, want ErrBreakerOpen", err)
	}
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", TripAfter: 3, CoolDown: time.Hour})
	b.Do(func() error { return errBoom })
	b.Do(func() error { return errBoom })
	b.Do(func() error { return nil })
	b.Do(func() error { return errBoom })
	b.Do(func() error { return errBoom })
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestBreakerProbesAfterCoolDown(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", TripAfter: 1, CoolDown: 10 * time.Millisecond, ProbeBudget: 2})
	b.Do(func() error { return errBoom })
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(20 * time.Millisecond)
	if got := b.State(); got != BreakerProbing {
		t.Fatalf("state = %v, want probing", got)
	}

	// Enough successful probes close the breaker.
	for i := 0; i < 2; i++ {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe %d err = %v", i, err)
		}
	}
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", TripAfter: 1, CoolDown: 10 * time.Millisecond, ProbeBudget: 3})
	b.Do(func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("probe err = %v", err)
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("after failed probe err = %v, want ErrBreakerOpen", err)
	}
}
