package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"layeh.com/gopus"

	"github.com/lbrx/voxpipe/pkg/types"
)

// maxOpusPacket is the largest accepted Opus packet. Anything larger is a
// corrupt length prefix.
const maxOpusPacket = 4000

// OpusSourceConfig configures an Opus packet stream source.
type OpusSourceConfig struct {
	// SampleRate of the decoded PCM. Opus natively supports 8/12/16/24/48 kHz.
	SampleRate int

	// FrameDuration of each Opus packet. Must match what the encoder used
	// (typically 20 ms).
	FrameDuration time.Duration
}

// OpusSource decodes a stream of length-prefixed Opus packets (uint16
// big-endian length followed by the packet body) into PCM frames. This is the
// framing used by network capture relays that forward microphone audio as
// Opus instead of raw PCM.
//
// Corrupt packets are skipped with a warning; the frame sequence stays
// contiguous since each packet maps to exactly one frame slot.
type OpusSource struct {
	frames chan types.Frame

	closeOnce sync.Once
	closed    chan struct{}
}

// NewOpusSource starts decoding packets from r. The returned source owns r
// until the stream ends or Close is called; closing the source does not close r.
func NewOpusSource(r io.Reader, cfg OpusSourceConfig) (*OpusSource, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: opus sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameDuration <= 0 {
		return nil, fmt.Errorf("audio: opus frame duration must be positive, got %v", cfg.FrameDuration)
	}

	dec, err := gopus.NewDecoder(cfg.SampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}

	s := &OpusSource{
		frames: make(chan types.Frame, 16),
		closed: make(chan struct{}),
	}
	go s.decodeLoop(r, dec, cfg)
	return s, nil
}

// Frames implements [FrameSource].
func (s *OpusSource) Frames() <-chan types.Frame { return s.frames }

// Close implements [FrameSource].
func (s *OpusSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *OpusSource) decodeLoop(r io.Reader, dec *gopus.Decoder, cfg OpusSourceConfig) {
	defer close(s.frames)

	samplesPerFrame := int(int64(cfg.SampleRate) * int64(cfg.FrameDuration) / int64(time.Second))
	var (
		lenBuf [2]byte
		packet = make([]byte, maxOpusPacket)
		seq    uint64
	)

	for {
		select {
		case <-s.closed:
			return
		default:
		}

		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Warn("opus source: read packet length", "err", err)
			}
			return
		}
		n := int(binary.BigEndian.Uint16(lenBuf[:]))
		if n == 0 || n > maxOpusPacket {
			slog.Warn("opus source: implausible packet length, stopping", "length", n)
			return
		}
		if _, err := io.ReadFull(r, packet[:n]); err != nil {
			slog.Warn("opus source: short packet read", "err", err)
			return
		}

		samples, err := dec.Decode(packet[:n], samplesPerFrame, false)
		if err != nil {
			// Skip the packet but keep the timeline: emit silence so frame
			// timestamps stay aligned with capture time.
			slog.Warn("opus source: decode failed, substituting silence", "seq", seq, "err", err)
			samples = make([]int16, samplesPerFrame)
		}

		pcm := make([]byte, len(samples)*2)
		for i, smp := range samples {
			PutInt16At(pcm, i, smp)
		}

		frame := types.Frame{
			Seq:        seq,
			Timestamp:  time.Duration(seq) * cfg.FrameDuration,
			Data:       pcm,
			SampleRate: cfg.SampleRate,
		}
		select {
		case s.frames <- frame:
		case <-s.closed:
			return
		}
		seq++
	}
}
