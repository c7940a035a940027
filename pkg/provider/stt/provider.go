// Package stt defines the Provider interface for speech-to-text backends.
//
// Unlike streaming recognisers, providers here transcribe one complete
// utterance segment at a time: the segment assembler upstream has already
// decided where speech starts and ends, so each request carries a bounded PCM
// buffer and yields exactly one transcript. This keeps backends swappable
// between HTTP servers, CGO-bound local models, and hosted APIs.
//
// Implementations must be safe for concurrent use; the orchestrator
// transcribes several segments in flight at once.
package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/lbrx/voxpipe/pkg/types"
)

// ErrEmptyAudio is returned when a request carries no PCM data.
var ErrEmptyAudio = errors.New("stt: request contains no audio")

// Request holds one utterance segment to transcribe.
type Request struct {
	// SegmentID is the emitting segment's identifier, echoed into the result.
	SegmentID uint64

	// PCM is 16-bit signed little-endian mono audio.
	PCM []byte

	// SampleRate is the PCM sample rate in Hz.
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g. "en", "de").
	// Empty lets the provider auto-detect or apply its configured default.
	Language string
}

// Validate reports structural problems with the request before it reaches a
// backend.
func (r Request) Validate() error {
	if len(r.PCM) == 0 {
		return ErrEmptyAudio
	}
	if len(r.PCM)%2 != 0 {
		return fmt.Errorf("stt: PCM length %d is not sample-aligned", len(r.PCM))
	}
	if r.SampleRate <= 0 {
		return fmt.Errorf("stt: invalid sample rate %d", r.SampleRate)
	}
	return nil
}

// Provider is the abstraction over any speech-to-text backend.
//
// Transcribe blocks until the transcript is available, the context is
// cancelled, or the backend fails. Callers bound each call with a deadline;
// providers must honour ctx cancellation promptly.
type Provider interface {
	Transcribe(ctx context.Context, req Request) (*types.TranscriptResult, error)
}
