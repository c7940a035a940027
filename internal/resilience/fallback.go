package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllBackendsFailed is returned when every entry in a [FallbackGroup]
// fails or is rejected by its breaker.
var ErrAllBackendsFailed = errors.New("resilience: all backends failed")

// FallbackConfig configures the per-backend breaker created for each entry
// of a [FallbackGroup].
type FallbackConfig struct {
	Breaker BreakerConfig

	// Observe, when set, is called after each attempt that actually ran
	// (breaker-rejected entries are not reported). err is nil on success.
	Observe func(backend string, err error)
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup holds a primary and zero or more alternates of one provider
// type. Calls go to the first entry whose breaker admits them; a failing
// entry is skipped in favour of the next.
//
// FallbackGroup is safe for concurrent use once registration is done.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.add(primaryName, primary)
	return g
}

// AddFallback appends an alternate backend, tried after all earlier entries.
func (g *FallbackGroup[T]) AddFallback(name string, value T) {
	g.add(name, value)
}

func (g *FallbackGroup[T]) add(name string, value T) {
	bcfg := g.cfg.Breaker
	bcfg.Name = name
	g.entries = append(g.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(bcfg),
	})
}

// Do tries fn against each entry in order until one succeeds. Entries with
// open breakers are skipped. When every entry fails the last error is
// wrapped in [ErrAllBackendsFailed].
func (g *FallbackGroup[T]) Do(fn func(T) error) error {
	_, err := DoResult(g, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// DoResult is [FallbackGroup.Do] for calls returning a value. It is a
// package function because methods cannot introduce type parameters.
func DoResult[T any, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range g.entries {
		entry := &g.entries[i]
		var result R
		err := entry.breaker.Do(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			if g.cfg.Observe != nil {
				g.cfg.Observe(entry.name, nil)
			}
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping backend, breaker open", "backend", entry.name)
			continue
		}
		if g.cfg.Observe != nil {
			g.cfg.Observe(entry.name, err)
		}
		slog.Warn("backend failed, trying next", "backend", entry.name, "error", err)
	}
	return zero, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}
