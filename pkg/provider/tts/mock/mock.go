// Package mock provides a scripted tts.Provider for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/lbrx/voxpipe/pkg/provider/tts"
	"github.com/lbrx/voxpipe/pkg/types"
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Provider is a scripted synthesis backend. Safe for concurrent use.
type Provider struct {
	// ChunkSize is the size of each emitted PCM chunk. Defaults to 320 bytes
	// (10 ms at 16 kHz).
	ChunkSize int

	// BytesPerChar scales the synthetic audio length with the text length.
	// Defaults to 64.
	BytesPerChar int

	// Err, when non-nil, fails every Synthesize call up front.
	Err error

	// Delay is slept (context-aware) before the stream starts emitting.
	Delay time.Duration

	mu    sync.Mutex
	calls []tts.Request
}

// Synthesize emits deterministic audio sized from the text length: every
// chunk byte is the low byte of the request's segment id, so tests can check
// which reply's audio was played.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (<-chan []byte, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}

	chunkSize := p.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 320
	}
	perChar := p.BytesPerChar
	if perChar <= 0 {
		perChar = 64
	}
	total := len(req.Text) * perChar
	if total%2 != 0 {
		total++
	}
	fill := byte(req.SegmentID)

	ch := make(chan []byte, 16)
	go func() {
		defer close(ch)
		if p.Delay > 0 {
			select {
			case <-time.After(p.Delay):
			case <-ctx.Done():
				return
			}
		}
		for off := 0; off < total; off += chunkSize {
			n := chunkSize
			if off+n > total {
				n = total - off
			}
			chunk := make([]byte, n)
			for i := range chunk {
				chunk[i] = fill
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ListVoices returns a single fixed test voice.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	return []types.VoiceProfile{{ID: "test-voice", Name: "Test Voice", Provider: "mock"}}, nil
}

// Calls returns a copy of every request received so far.
func (p *Provider) Calls() []tts.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tts.Request, len(p.calls))
	copy(out, p.calls)
	return out
}
