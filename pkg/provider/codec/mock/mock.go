// Package mock provides a deterministic codec.Encoder for tests.
package mock

import (
	"context"
	"math"

	"github.com/lbrx/voxpipe/pkg/provider/codec"
)

// Compile-time assertion that Encoder implements codec.Encoder.
var _ codec.Encoder = (*Encoder)(nil)

// Encoder derives token streams deterministically from the audio duration:
// the frame count is round(duration * FrameRate), semantic tokens count up
// from the segment id, and acoustic rows repeat the frame index across
// Codebooks entries. Tests can predict every value.
type Encoder struct {
	// FrameRate is the synthetic codec frame rate. Defaults to 12.5.
	FrameRate float64

	// Codebooks is the acoustic row width. Defaults to 8.
	Codebooks int

	// Misalign, when positive, drops that many acoustic rows to fabricate a
	// token-count fault for quarantine tests.
	Misalign int

	// Err, when non-nil, fails every call.
	Err error
}

// Encode implements codec.Encoder.
func (e *Encoder) Encode(_ context.Context, req codec.Request) (*codec.TokenStream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if e.Err != nil {
		return nil, e.Err
	}

	rate := e.FrameRate
	if rate <= 0 {
		rate = 12.5
	}
	codebooks := e.Codebooks
	if codebooks <= 0 {
		codebooks = 8
	}

	durationSec := float64(len(req.PCM)/2) / float64(req.SampleRate)
	frames := int(math.Round(durationSec * rate))

	stream := &codec.TokenStream{
		Semantic:  make([]int32, frames),
		Acoustic:  make([][]int32, frames),
		FrameRate: rate,
	}
	for i := 0; i < frames; i++ {
		stream.Semantic[i] = int32(req.SegmentID) + int32(i)
		row := make([]int32, codebooks)
		for j := range row {
			row[j] = int32(i)
		}
		stream.Acoustic[i] = row
	}
	if e.Misalign > 0 && e.Misalign <= frames {
		stream.Acoustic = stream.Acoustic[:frames-e.Misalign]
	}
	return stream, nil
}
