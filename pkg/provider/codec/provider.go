// Package codec defines the Encoder interface for neural audio codecs.
//
// Dataset mode records each utterance as two aligned token streams: one
// semantic token and one acoustic token vector per codec frame. An Encoder
// wraps whatever produces those streams, typically a Mimi-style model served
// over HTTP, behind a uniform per-segment call.
//
// Implementations must be safe for concurrent use.
package codec

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyAudio is returned when a request carries no PCM data.
var ErrEmptyAudio = errors.New("codec: request contains no audio")

// Request holds one utterance segment to encode.
type Request struct {
	// SegmentID is the emitting segment's identifier, for log correlation.
	SegmentID uint64

	// PCM is 16-bit signed little-endian mono audio.
	PCM []byte

	// SampleRate is the PCM sample rate in Hz.
	SampleRate int
}

// Validate reports structural problems with the request.
func (r Request) Validate() error {
	if len(r.PCM) == 0 {
		return ErrEmptyAudio
	}
	if len(r.PCM)%2 != 0 {
		return fmt.Errorf("codec: PCM length %d is not sample-aligned", len(r.PCM))
	}
	if r.SampleRate <= 0 {
		return fmt.Errorf("codec: invalid sample rate %d", r.SampleRate)
	}
	return nil
}

// TokenStream is the encoded form of one segment. Semantic and Acoustic are
// frame-aligned: Semantic[i] and Acoustic[i] describe the same codec frame,
// so their lengths must match. The dataset formatter fails any record where
// they do not.
type TokenStream struct {
	// Semantic holds one semantic token per codec frame.
	Semantic []int32

	// Acoustic holds one token vector per codec frame, one value per
	// codebook. All rows have the same width.
	Acoustic [][]int32

	// FrameRate is the codec's frames-per-second rate, used to check token
	// counts against audio duration.
	FrameRate float64
}

// Frames returns the number of codec frames in the stream.
func (t TokenStream) Frames() int { return len(t.Semantic) }

// Aligned reports whether the semantic and acoustic streams cover the same
// frames.
func (t TokenStream) Aligned() bool { return len(t.Semantic) == len(t.Acoustic) }

// Encoder is the abstraction over any semantic/acoustic token codec.
type Encoder interface {
	Encode(ctx context.Context, req Request) (*TokenStream, error)
}
