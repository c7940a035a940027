// Package tts defines the Provider interface for text-to-speech backends.
//
// A provider wraps a synthesis service (ElevenLabs, a local Coqui server, and
// so on) behind a uniform call that turns one reply text into a stream of raw
// PCM audio chunks. Chunked delivery lets playback begin before the full
// reply is rendered.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/lbrx/voxpipe/pkg/types"
)

// ErrEmptyText is returned when a request carries no text.
var ErrEmptyText = errors.New("tts: request contains no text")

// Request holds one reply to synthesise.
type Request struct {
	// SegmentID is the segment whose reply this is, for log correlation.
	SegmentID uint64

	// Text is the reply to speak.
	Text string

	// Voice selects the synthesis voice. A zero value lets the provider use
	// its default voice.
	Voice types.VoiceProfile
}

// Validate reports structural problems with the request.
func (r Request) Validate() error {
	if r.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// Provider is the abstraction over any text-to-speech backend.
type Provider interface {
	// Synthesize starts rendering the request and returns a channel emitting
	// raw 16-bit little-endian mono PCM chunks as they become available. The
	// channel is closed when synthesis completes or ctx is cancelled; callers
	// must drain it. Errors after the stream starts are signalled by closing
	// the channel early, so callers needing full audio should treat a
	// cancelled ctx as failure.
	Synthesize(ctx context.Context, req Request) (<-chan []byte, error)

	// ListVoices returns the provider's current voice catalogue.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
