// Package resilience wraps the pipeline's provider adapters with failure
// handling: a three-state circuit breaker, bounded retry for transient
// errors, and fallback groups that fail over to alternate backends of the
// same provider type.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and
// its cool-down has not elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// BreakerState is the breaker's operating mode.
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrBreakerOpen] until the cool-down
	// elapses.
	BreakerOpen

	// BreakerProbing admits a bounded number of trial calls. Enough
	// successes close the breaker; any failure re-opens it.
	BreakerProbing
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in logs.
	Name string

	// TripAfter is the consecutive-failure count that opens the breaker.
	// Default 5.
	TripAfter int

	// CoolDown is how long the breaker stays open before probing.
	// Default 30s.
	CoolDown time.Duration

	// ProbeBudget is how many trial calls the probing state admits.
	// Default 3.
	ProbeBudget int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.TripAfter <= 0 {
		c.TripAfter = 5
	}
	if c.CoolDown <= 0 {
		c.CoolDown = 30 * time.Second
	}
	if c.ProbeBudget <= 0 {
		c.ProbeBudget = 3
	}
	return c
}

// Breaker is a three-state circuit breaker protecting one provider backend.
type Breaker struct {
	cfg BreakerConfig

	mu         sync.Mutex
	state      BreakerState
	failures   int
	openedAt   time.Time
	probes     int
	probeFails int
}

// NewBreaker returns a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), state: BreakerClosed}
}

// State returns the current state, advancing open → probing when the
// cool-down has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.cfg.CoolDown {
		return BreakerProbing
	}
	return b.state
}

// Do runs fn if the breaker admits the call, recording the outcome.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cfg.CoolDown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = BreakerProbing
		b.probes = 0
		b.probeFails = 0
		slog.Info("breaker probing", "name", b.cfg.Name)
	case BreakerProbing:
		if b.probes >= b.cfg.ProbeBudget {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}
	probing := b.state == BreakerProbing
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.openedAt = time.Now()
	if probing {
		b.probeFails++
		b.state = BreakerOpen
		b.failures = b.cfg.TripAfter
		slog.Warn("breaker re-opened", "name", b.cfg.Name)
		return
	}
	b.failures++
	if b.failures >= b.cfg.TripAfter {
		b.state = BreakerOpen
		slog.Warn("breaker opened", "name", b.cfg.Name, "consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probes-b.probeFails >= b.cfg.ProbeBudget {
			b.state = BreakerClosed
			b.failures = 0
			b.probes = 0
			b.probeFails = 0
			slog.Info("breaker closed", "name", b.cfg.Name)
		}
		return
	}
	b.failures = 0
}
