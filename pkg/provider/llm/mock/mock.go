// Package mock provides a scripted llm.Provider for tests.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lbrx/voxpipe/pkg/provider/llm"
)

// Compile-time assertion that Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// ErrScripted is returned when Err is set without a specific error value.
var ErrScripted = errors.New("mock llm: scripted failure")

// Provider is a scripted generation backend. Safe for concurrent use.
type Provider struct {
	// Reply is returned for every completion. When empty, the user text is
	// echoed back prefixed with "echo: ".
	Reply string

	// Err, when non-nil, fails every call.
	Err error

	// Delay is slept (context-aware) before responding.
	Delay time.Duration

	mu    sync.Mutex
	calls []llm.CompletionRequest
}

// Complete returns the scripted reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Response, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.Err != nil {
		return nil, p.Err
	}

	text := p.Reply
	if text == "" {
		text = "echo: " + req.UserText
	}
	return &llm.Response{Text: text}, nil
}

// Calls returns a copy of every request received so far.
func (p *Provider) Calls() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.calls))
	copy(out, p.calls)
	return out
}
