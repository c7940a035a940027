package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lbrx/voxpipe/pkg/audio"
	"github.com/lbrx/voxpipe/pkg/types"
)

// Quarantine persists segments that failed the pipeline so they can be
// inspected and reprocessed later instead of being silently dropped. Each
// quarantined segment becomes a WAV file plus a sidecar JSON describing why
// it was rejected.
type Quarantine struct {
	dir string
}

// QuarantineEntry is the sidecar metadata written next to the audio.
type QuarantineEntry struct {
	SegmentID    uint64    `json:"segment_id"`
	Stage        string    `json:"stage"`
	Reason       string    `json:"reason"`
	DurationMs   int64     `json:"duration_ms"`
	SampleRate   int       `json:"sample_rate"`
	Transcript   string    `json:"transcript,omitempty"`
	QuarantinedAt time.Time `json:"quarantined_at"`
}

// NewQuarantine creates the quarantine directory if needed.
func NewQuarantine(dir string) (*Quarantine, error) {
	if dir == "" {
		return nil, fmt.Errorf("dataset: quarantine dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dataset: create quarantine dir: %w", err)
	}
	return &Quarantine{dir: dir}, nil
}

// Store writes the segment audio and its rejection metadata. The stage names
// the pipeline step that failed (e.g. "transcribe", "encode", "format") and
// transcript carries any partial transcript obtained before the failure.
func (q *Quarantine) Store(seg *types.Segment, stage, reason, transcript string) error {
	if seg == nil {
		return fmt.Errorf("dataset: nil segment")
	}
	base := filepath.Join(q.dir, fmt.Sprintf("segment-%06d", seg.ID))
	wav := audio.EncodeWAV(seg.Data, seg.SampleRate)
	if err := os.WriteFile(base+".wav", wav, 0o644); err != nil {
		return fmt.Errorf("dataset: quarantine audio for segment %d: %w", seg.ID, err)
	}
	entry := QuarantineEntry{
		SegmentID:     seg.ID,
		Stage:         stage,
		Reason:        reason,
		DurationMs:    (seg.End - seg.Start).Milliseconds(),
		SampleRate:    seg.SampleRate,
		Transcript:    transcript,
		QuarantinedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("dataset: marshal quarantine entry: %w", err)
	}
	if err := os.WriteFile(base+".json", append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("dataset: quarantine metadata for segment %d: %w", seg.ID, err)
	}
	return nil
}
