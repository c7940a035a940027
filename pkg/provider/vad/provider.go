// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine wraps a frame-level speech detector (an energy model, Silero,
// or a remote classifier) and surfaces it as a stateful per-stream session.
// Each session maintains its own short rolling context window for hysteresis,
// so multiple concurrent audio streams can be classified independently.
//
// Classification is synchronous by design: Classify returns immediately with
// a score, making it suitable for the real-time capture path that gates the
// segment assembler. A failing backend must return the unknown sentinel
// ([types.Unknown]) rather than an error when the failure is per-frame and
// recoverable; the assembler treats unknown as "hold current state".
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines.
package vad

import "github.com/lbrx/voxpipe/pkg/types"

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to Classify.
	SampleRate int

	// FrameDurationMs is the duration of each audio frame in milliseconds.
	// Classify returns an error if a supplied frame does not match this size.
	FrameDurationMs int

	// SpeechThreshold is the probability at or above which a frame is decided
	// to be speech. Range (0, 1]. Typical: 0.5.
	SpeechThreshold float64

	// SilenceThreshold is the probability below which a frame is decided to
	// be silence. Must be ≤ SpeechThreshold; the gap between the two is the
	// hysteresis band where the previous decision is kept. Typical: 0.35.
	SilenceThreshold float64

	// ContextFrames is the size of the rolling context window used for
	// probability smoothing. Zero selects the engine default.
	ContextFrames int
}

// SessionHandle is an active VAD session for a single audio stream. Each
// session owns its rolling context; Reset clears it without closing the
// session.
type SessionHandle interface {
	// Classify scores a single frame. The decision is deterministic for an
	// identical frame history. Returns an error only for malformed input
	// (wrong frame size); transient model failures yield the unknown
	// sentinel instead.
	//
	// Classify is called from the real-time capture loop and must not block.
	Classify(frame types.Frame) (types.ActivityScore, error)

	// Reset clears the rolling context without closing the session. Use when
	// the audio stream is interrupted so stale history does not bleed into
	// the next segment.
	Reset()

	// Close releases session resources. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. Implementations must be safe for
// concurrent use: multiple goroutines may call NewSession simultaneously.
type Engine interface {
	// NewSession creates a session with the given configuration, immediately
	// ready to accept frames. Returns an error for invalid configuration.
	NewSession(cfg Config) (SessionHandle, error)
}
