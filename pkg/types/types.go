// Package types defines the shared value types used across all voxpipe packages.
//
// These types form the lingua franca between the capture path, the segment
// assembler, the adapter providers and the dataset layer. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import (
	"math"
	"time"
)

// Frame is a single fixed-duration chunk of captured PCM audio. Frames are the
// atomic unit of the capture path and are never mutated after creation.
type Frame struct {
	// Seq is the monotonic frame sequence number, starting at 0 per session.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to session start.
	Timestamp time.Duration

	// Data is little-endian int16 mono PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for the segmentation path).
	SampleRate int
}

// Duration returns the play time of the frame derived from its sample count.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	samples := len(f.Data) / 2
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// ActivityScore is the speech/non-speech classification of a single frame.
// One is produced per Frame; scores are ephemeral and never persisted.
type ActivityScore struct {
	// Seq is the sequence number of the classified frame.
	Seq uint64

	// Probability is the speech probability in [0, 1]. NaN marks the "unknown"
	// sentinel emitted when the underlying detector failed; consumers must
	// hold their current state rather than act on it.
	Probability float64

	// Speech is the boolean decision after hysteresis has been applied.
	Speech bool
}

// Unknown returns the sentinel score for a frame the detector could not
// classify.
func Unknown(seq uint64) ActivityScore {
	return ActivityScore{Seq: seq, Probability: math.NaN()}
}

// IsUnknown reports whether s carries the unknown sentinel.
func (s ActivityScore) IsUnknown() bool {
	return math.IsNaN(s.Probability)
}

// SegmentState tracks a segment through its pipeline lifecycle. State
// transitions enforce the single-writer discipline: exactly one stage owns a
// segment at any time, and terminal states are never left.
type SegmentState int

const (
	// SegmentAssembling means the assembler is still accumulating frames.
	SegmentAssembling SegmentState = iota

	// SegmentEmitted means the assembler has closed the segment and handed it
	// to the orchestrator.
	SegmentEmitted

	// SegmentTranscribing means a transcription call is in flight.
	SegmentTranscribing

	// SegmentGenerating means retrieval/generation is in flight.
	SegmentGenerating

	// SegmentSynthesizing means speech synthesis is in flight.
	SegmentSynthesizing

	// SegmentPlayed is terminal: the reply audio reached the playback sink.
	SegmentPlayed

	// SegmentRecorded is terminal: a dataset record was durably appended.
	SegmentRecorded

	// SegmentQuarantined is terminal: the segment failed an invariant or an
	// adapter and was routed to the quarantine store.
	SegmentQuarantined

	// SegmentDiscarded is terminal: the segment was dropped before emission
	// (too short) or at session close before it became durable.
	SegmentDiscarded
)

// String returns the lowercase state name.
func (s SegmentState) String() string {
	switch s {
	case SegmentAssembling:
		return "assembling"
	case SegmentEmitted:
		return "emitted"
	case SegmentTranscribing:
		return "transcribing"
	case SegmentGenerating:
		return "generating"
	case SegmentSynthesizing:
		return "synthesizing"
	case SegmentPlayed:
		return "played"
	case SegmentRecorded:
		return "recorded"
	case SegmentQuarantined:
		return "quarantined"
	case SegmentDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a terminal lifecycle state.
func (s SegmentState) Terminal() bool {
	switch s {
	case SegmentPlayed, SegmentRecorded, SegmentQuarantined, SegmentDiscarded:
		return true
	}
	return false
}

// Segment is a contiguous span of audio judged to be a single utterance.
// Segments are created by the assembler when an activity run closes and are
// owned exclusively by the orchestrator until they reach a terminal state.
type Segment struct {
	// ID is monotonically increasing and unique per session, starting at 1.
	ID uint64

	// StartSeq and EndSeq are the first and last (inclusive) frame sequence
	// numbers covered by the segment, pre-roll and trailing pad included.
	StartSeq uint64
	EndSeq   uint64

	// Start and End are the capture timestamps of the segment boundaries,
	// relative to session start.
	Start time.Duration
	End   time.Duration

	// Data is the concatenated little-endian int16 mono PCM of all frames.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// State is the current lifecycle state. Mutated only by the stage that
	// currently owns the segment.
	State SegmentState
}

// Duration returns End - Start.
func (s *Segment) Duration() time.Duration {
	return s.End - s.Start
}

// TokenTiming is one transcript token with its time span inside the segment.
type TokenTiming struct {
	// Text is the token (usually a word).
	Text string

	// Start and End are offsets from the segment start.
	Start time.Duration
	End   time.Duration
}

// TranscriptResult is the output of a transcription adapter for one segment.
type TranscriptResult struct {
	// SegmentID links the result back to its segment.
	SegmentID uint64

	// Text is the full transcript.
	Text string

	// Tokens is the ordered per-token timing. Must cover the full segment
	// duration with no gap exceeding the configured alignment tolerance;
	// the corpus validator re-checks this invariant.
	Tokens []TokenTiming

	// Confidence is the overall confidence (0.0–1.0), zero when the provider
	// does not report one.
	Confidence float64
}

// Conversation roles used in [Turn].
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of conversation history: who said what, and when.
type Turn struct {
	// Role is [RoleUser] or [RoleAssistant].
	Role string

	// Text is the spoken/generated content.
	Text string

	// Timestamp is when the turn completed.
	Timestamp time.Time
}

// VoiceProfile describes a synthesis voice configuration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which synthesis backend this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}

// EventType enumerates the structured pipeline events published by a session.
// Dropped or quarantined units are always reported through an event, never
// silently thrown away.
type EventType int

const (
	// EventSegmentEmitted fires when the assembler closes a segment.
	EventSegmentEmitted EventType = iota

	// EventAudioDropped fires when the bounded capture buffer overflows and
	// the oldest frames are discarded.
	EventAudioDropped

	// EventQuarantined fires when a segment is routed to quarantine.
	EventQuarantined

	// EventReplyPlayed fires when a reply reaches the playback sink.
	EventReplyPlayed

	// EventRecordWritten fires when a dataset record is durably appended.
	EventRecordWritten

	// EventShardSealed fires when a corpus shard is sealed and its manifest
	// written.
	EventShardSealed

	// EventAdapterError fires on a non-fatal adapter failure (after retries
	// and fallbacks were applied).
	EventAdapterError

	// EventLevel carries a periodic capture RMS level reading.
	EventLevel
)

// String returns the snake_case event name used in logs.
func (t EventType) String() string {
	switch t {
	case EventSegmentEmitted:
		return "segment_emitted"
	case EventAudioDropped:
		return "audio_dropped"
	case EventQuarantined:
		return "quarantined"
	case EventReplyPlayed:
		return "reply_played"
	case EventRecordWritten:
		return "record_written"
	case EventShardSealed:
		return "shard_sealed"
	case EventAdapterError:
		return "adapter_error"
	case EventLevel:
		return "level"
	default:
		return "unknown"
	}
}

// Event is one entry of the structured session event stream.
type Event struct {
	// Type classifies the event.
	Type EventType

	// SegmentID is the affected segment, zero when not segment-scoped.
	SegmentID uint64

	// Seq is the affected frame sequence number, meaningful for
	// EventAudioDropped and EventLevel.
	Seq uint64

	// Count is the number of affected units (e.g., dropped frames).
	Count int

	// Level is the RMS level in [0, 1] for EventLevel.
	Level float64

	// Message is a short human-readable description.
	Message string

	// Timestamp is when the event was recorded.
	Timestamp time.Time
}
