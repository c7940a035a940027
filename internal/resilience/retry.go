package resilience

import (
	"context"
	"errors"
	"time"
)

// RetryConfig bounds [Retry]. The pipeline uses a single retry with a short
// backoff for transcription and synthesis calls; retrieval and generation
// are never retried because the conversation degrades gracefully without
// them.
type RetryConfig struct {
	// Attempts is the total number of tries, including the first. Default 2.
	Attempts int

	// Backoff is the wait before each retry. Default 250ms.
	Backoff time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 2
	}
	if c.Backoff <= 0 {
		c.Backoff = 250 * time.Millisecond
	}
	return c
}

// Retry runs fn up to cfg.Attempts times, sleeping cfg.Backoff between
// tries. It stops immediately when fn succeeds, when the context is done,
// or when fn returns a context error itself (a timed-out call will time out
// again; the caller's deadline governs).
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	var err error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return err
		}
		if attempt == cfg.Attempts {
			break
		}
		t := time.NewTimer(cfg.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}

// RetryResult is [Retry] for calls returning a value.
func RetryResult[R any](ctx context.Context, cfg RetryConfig, fn func() (R, error)) (R, error) {
	var result R
	err := Retry(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
