package dataset

import (
	"errors"
	"fmt"
	"time"

	"github.com/lbrx/voxpipe/pkg/provider/codec"
	"github.com/lbrx/voxpipe/pkg/types"
)

// Formatter turns an emitted segment, its transcript and its token streams
// into a corpus Record, enforcing the frame alignment invariant before the
// record ever reaches a shard.
type Formatter struct {
	speaker  string
	language string
	now      func() time.Time
}

// FormatterOption customises a Formatter.
type FormatterOption func(*Formatter)

// WithLanguage tags formatted records with a language code.
func WithLanguage(lang string) FormatterOption {
	return func(f *Formatter) { f.language = lang }
}

// WithClock overrides the record timestamp source. Used by tests.
func WithClock(now func() time.Time) FormatterOption {
	return func(f *Formatter) { f.now = now }
}

// NewFormatter returns a Formatter stamping records with the given speaker
// label.
func NewFormatter(speaker string, opts ...FormatterOption) (*Formatter, error) {
	if speaker == "" {
		return nil, errors.New("dataset: speaker label is required")
	}
	f := &Formatter{speaker: speaker, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Format builds a Record from one segment's pipeline outputs. It returns an
// error without constructing a record when the token streams are misaligned
// or their length disagrees with the segment duration; the caller quarantines
// the segment in that case.
func (f *Formatter) Format(seg *types.Segment, transcript *types.TranscriptResult, tokens *codec.TokenStream) (*Record, error) {
	if seg == nil {
		return nil, errors.New("dataset: nil segment")
	}
	if transcript == nil {
		return nil, errors.New("dataset: nil transcript")
	}
	if tokens == nil {
		return nil, errors.New("dataset: nil token stream")
	}
	var timings []TokenTiming
	for _, tok := range transcript.Tokens {
		timings = append(timings, TokenTiming{
			Text:    tok.Text,
			StartMs: tok.Start.Milliseconds(),
			EndMs:   tok.End.Milliseconds(),
		})
	}
	rec := &Record{
		ID:             fmt.Sprintf("%s-%06d", f.speaker, seg.ID),
		SegmentID:      seg.ID,
		Speaker:        f.speaker,
		Language:       f.language,
		Text:           transcript.Text,
		DurationMs:     seg.Duration().Milliseconds(),
		SampleRate:     seg.SampleRate,
		FrameRate:      tokens.FrameRate,
		SemanticTokens: tokens.Semantic,
		AcousticTokens: tokens.Acoustic,
		Tokens:         timings,
		CreatedAt:      f.now().UTC(),
	}
	if err := rec.CheckAlignment(); err != nil {
		return nil, err
	}
	return rec, nil
}
