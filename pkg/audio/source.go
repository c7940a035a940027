package audio

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lbrx/voxpipe/pkg/types"
)

// FrameSource produces the continuous, timestamped frame stream consumed by
// the capture path. Frames carry strictly increasing sequence numbers; the
// channel is closed when the source is exhausted or closed.
//
// Implementations must not block frame production on downstream consumers
// beyond the channel buffer — pacing decisions belong to the source, drop
// decisions to the capture buffer.
type FrameSource interface {
	// Frames returns the frame channel. The same channel is returned on
	// every call.
	Frames() <-chan types.Frame

	// Close stops production and closes the frame channel. Close is safe to
	// call more than once.
	Close() error
}

// FileSourceConfig configures a WAV file replay source.
type FileSourceConfig struct {
	// Path is the WAV file to replay.
	Path string

	// FrameDuration is the duration of each emitted frame. Must be > 0.
	FrameDuration time.Duration

	// SampleRate is the target rate frames are resampled to. Zero keeps the
	// file's native rate.
	SampleRate int

	// Realtime paces emission at capture speed instead of replaying as fast
	// as the consumer drains. Offline corpus building runs with this off.
	Realtime bool
}

// FileSource replays a 16-bit PCM WAV file as a frame stream. It mirrors the
// live capture contract so offline corpus building and tests exercise the
// same pipeline as a microphone session.
type FileSource struct {
	frames chan types.Frame

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// NewFileSource opens path, decodes it and starts the replay goroutine.
func NewFileSource(cfg FileSourceConfig) (*FileSource, error) {
	if cfg.FrameDuration <= 0 {
		return nil, fmt.Errorf("audio: frame duration must be positive, got %v", cfg.FrameDuration)
	}

	raw, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("audio: read %q: %w", cfg.Path, err)
	}
	pcm, rate, err := DecodeWAV(raw)
	if err != nil {
		return nil, fmt.Errorf("audio: decode %q: %w", cfg.Path, err)
	}
	if cfg.SampleRate > 0 && cfg.SampleRate != rate {
		pcm = ResampleMono16(pcm, rate, cfg.SampleRate)
		rate = cfg.SampleRate
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileSource{
		frames: make(chan types.Frame, 16),
		cancel: cancel,
	}

	go s.replay(ctx, pcm, rate, cfg.FrameDuration, cfg.Realtime)
	return s, nil
}

// Frames implements [FrameSource].
func (s *FileSource) Frames() <-chan types.Frame { return s.frames }

// Close implements [FrameSource].
func (s *FileSource) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

func (s *FileSource) replay(ctx context.Context, pcm []byte, rate int, frameDur time.Duration, realtime bool) {
	defer close(s.frames)

	frameBytes := int(int64(rate)*int64(frameDur)/int64(time.Second)) * 2
	if frameBytes <= 0 {
		return
	}

	var ticker *time.Ticker
	if realtime {
		ticker = time.NewTicker(frameDur)
		defer ticker.Stop()
	}

	var seq uint64
	for off := 0; off+frameBytes <= len(pcm); off += frameBytes {
		frame := types.Frame{
			Seq:        seq,
			Timestamp:  time.Duration(seq) * frameDur,
			Data:       pcm[off : off+frameBytes],
			SampleRate: rate,
		}
		if realtime {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
		select {
		case s.frames <- frame:
		case <-ctx.Done():
			return
		}
		seq++
	}
	// A trailing partial frame is intentionally dropped: the assembler
	// requires fixed-duration frames.
}

// MemorySource serves a pre-built frame slice. It exists for tests and for
// replaying recorded capture buffers.
type MemorySource struct {
	frames chan types.Frame
	once   sync.Once
}

// NewMemorySource returns a source that emits the given frames in order and
// then closes its channel.
func NewMemorySource(frames []types.Frame) *MemorySource {
	ch := make(chan types.Frame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	return &MemorySource{frames: ch}
}

// Frames implements [FrameSource].
func (s *MemorySource) Frames() <-chan types.Frame { return s.frames }

// Close implements [FrameSource]. The channel is already closed after the
// last frame, so Close is a no-op.
func (s *MemorySource) Close() error { return nil }
