// Package mock provides a scripted stt.Provider for tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lbrx/voxpipe/pkg/provider/stt"
	"github.com/lbrx/voxpipe/pkg/types"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider is a scripted STT backend. Responses are keyed by segment id;
// unkeyed requests fall back to Default. Safe for concurrent use.
type Provider struct {
	// Responses maps segment id to the transcript text returned for it.
	Responses map[uint64]string

	// Default is returned for segment ids not present in Responses.
	Default string

	// Err, when non-nil, is returned by every call.
	Err error

	// FailSegments lists segment ids whose calls return ErrScripted.
	FailSegments map[uint64]bool

	// Delay is slept (context-aware) before each response, to exercise
	// timeout paths.
	Delay time.Duration

	mu    sync.Mutex
	calls []stt.Request
}

// ErrScripted is the error returned for segments listed in FailSegments.
var ErrScripted = fmt.Errorf("mock stt: scripted failure")

// Transcribe returns the scripted transcript for the request's segment.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*types.TranscriptResult, error) {
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
	if p.FailSegments[req.SegmentID] {
		return nil, ErrScripted
	}

	text, ok := p.Responses[req.SegmentID]
	if !ok {
		text = p.Default
	}
	return &types.TranscriptResult{
		SegmentID:  req.SegmentID,
		Text:       text,
		Confidence: 1.0,
	}, nil
}

// Calls returns a copy of every request received so far.
func (p *Provider) Calls() []stt.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]stt.Request, len(p.calls))
	copy(out, p.calls)
	return out
}
