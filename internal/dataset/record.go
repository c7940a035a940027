// Package dataset implements corpus recording: formatting utterance segments
// into token-aligned records, appending them to JSONL shards with sealed
// manifests, and validating or repairing existing shards.
//
// A record pairs one utterance's transcript with its encoded token streams.
// The core invariant is frame alignment: the semantic and acoustic streams
// must have the same length, and that length must match what the codec frame
// rate predicts for the audio duration. Records violating alignment are never
// appended; they are quarantined with a structured reason instead.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// SchemaVersion identifies the record and manifest layout. Readers reject
// shards with an unknown version rather than guessing.
const SchemaVersion = "voxpipe.corpus.v1"

// ErrMisaligned is the hard alignment failure: semantic and acoustic token
// counts differ. Records failing this check are quarantined, never written.
var ErrMisaligned = errors.New("dataset: semantic and acoustic token counts differ")

// Record is one corpus entry, serialised as a single JSONL line.
type Record struct {
	// ID uniquely identifies the record within its corpus.
	ID string `json:"id"`

	// SegmentID is the source segment's within-session identifier.
	SegmentID uint64 `json:"segment_id"`

	// Speaker is the session-selected speaker label.
	Speaker string `json:"speaker"`

	// Language is the transcript language tag, when known.
	Language string `json:"language,omitempty"`

	// Text is the utterance transcript.
	Text string `json:"text"`

	// DurationMs is the utterance audio duration in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// SampleRate is the source audio sample rate in Hz.
	SampleRate int `json:"sample_rate"`

	// FrameRate is the codec frames-per-second rate the tokens were encoded
	// at.
	FrameRate float64 `json:"frame_rate"`

	// SemanticTokens holds one semantic token per codec frame.
	SemanticTokens []int32 `json:"semantic_tokens"`

	// AcousticTokens holds one token vector per codec frame. All vectors have
	// the same width (one entry per codebook).
	AcousticTokens [][]int32 `json:"acoustic_tokens"`

	// Tokens is the per-word transcript timing, when the transcription
	// adapter reported one. The validator checks it covers the audio.
	Tokens []TokenTiming `json:"tokens,omitempty"`

	// CreatedAt is when the record was formatted.
	CreatedAt time.Time `json:"created_at"`
}

// TokenTiming is one transcript token's span inside the record's audio, in
// milliseconds from the segment start.
type TokenTiming struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// Duration returns the audio duration as a time.Duration.
func (r *Record) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// ExpectedFrames returns the token count the frame rate predicts for the
// record's duration: round(duration_seconds * frame_rate). The same rounding
// is applied everywhere a token count is derived from a duration, so a
// record that validates once validates identically on every later pass.
func (r *Record) ExpectedFrames() int {
	return expectedFrames(r.DurationMs, r.FrameRate)
}

func expectedFrames(durationMs int64, frameRate float64) int {
	return int(math.Round(float64(durationMs) / 1000 * frameRate))
}

// CheckAlignment verifies the record's frame alignment invariant. It returns
// ErrMisaligned (wrapped with counts) when the two streams differ in length,
// a width error when the acoustic vectors are ragged, or a count error when
// the streams disagree with the duration-predicted frame count.
func (r *Record) CheckAlignment() error {
	if len(r.SemanticTokens) != len(r.AcousticTokens) {
		return fmt.Errorf("%w: %d semantic, %d acoustic", ErrMisaligned,
			len(r.SemanticTokens), len(r.AcousticTokens))
	}
	for i, row := range r.AcousticTokens {
		if len(row) != len(r.AcousticTokens[0]) {
			return fmt.Errorf("dataset: acoustic frame %d has %d codebook entries, frame 0 has %d",
				i, len(row), len(r.AcousticTokens[0]))
		}
	}
	if r.FrameRate <= 0 {
		return fmt.Errorf("dataset: invalid frame rate %v", r.FrameRate)
	}
	want := r.ExpectedFrames()
	if got := len(r.SemanticTokens); got != want {
		return fmt.Errorf("dataset: %d token frames for %d ms at %.3g fps, want %d",
			got, r.DurationMs, r.FrameRate, want)
	}
	return nil
}
