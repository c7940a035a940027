// Package app runs a capture session: it moves frames from an audio source
// through voice activity detection and the segment assembler, and hands
// completed segments to a sink (the conversation orchestrator or the dataset
// pipeline, depending on mode).
//
// Two goroutines do the work. The capture loop drains the source into a
// bounded frame buffer, dropping the oldest frames under backpressure so the
// source never stalls. The processing loop classifies each buffered frame,
// feeds the assembler, and dispatches every emitted segment to the sink on
// its own goroutine. When the sink bounds its concurrency the slot is
// acquired in the processing loop, so a saturated sink pauses dispatch and
// the backpressure lands on the capture buffer instead of on an unbounded
// pile of waiting goroutines.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lbrx/voxpipe/internal/observe"
	"github.com/lbrx/voxpipe/internal/segmenter"
	"github.com/lbrx/voxpipe/pkg/audio"
	"github.com/lbrx/voxpipe/pkg/provider/vad"
	"github.com/lbrx/voxpipe/pkg/types"
)

// SegmentSink consumes completed segments. Process blocks until the segment
// reaches a terminal state; an error means the segment was quarantined, not
// that the session must stop. [orchestrator.Orchestrator] and
// [dataset.Pipeline] both satisfy it.
type SegmentSink interface {
	Process(ctx context.Context, seg *types.Segment) error
}

// InFlightBounder is implemented by sinks that bound concurrent Process
// calls. The session acquires the slot before spawning the dispatch
// goroutine, so once the sink is saturated the processing loop waits and
// new segments cannot queue without limit.
type InFlightBounder interface {
	MaxInFlight() int64
}

// Config holds the session tuning parameters.
type Config struct {
	// VAD configures the activity detection session.
	VAD vad.Config

	// Segmenter configures the segment assembler.
	Segmenter segmenter.Config

	// BufferFrames is the capacity of the bounded capture buffer. Default 64
	// (about 1.3 s at 20 ms frames).
	BufferFrames int
}

// levelEveryFrames is the cadence of EventLevel readings (every 25 frames is
// twice a second at 20 ms frames).
const levelEveryFrames = 25

func (c Config) withDefaults() Config {
	if c.BufferFrames <= 0 {
		c.BufferFrames = 64
	}
	return c
}

// Deps are the session's collaborators.
type Deps struct {
	// Source produces the frame stream. Required.
	Source audio.FrameSource

	// Engine creates the activity detection session. Required.
	Engine vad.Engine

	// Sink consumes completed segments. Required.
	Sink SegmentSink

	// Events receives the structured event stream. Optional.
	Events func(types.Event)

	// Metrics records pipeline instruments. Optional; nil disables
	// recording.
	Metrics *observe.Metrics
}

func (d Deps) validate() error {
	switch {
	case d.Source == nil:
		return fmt.Errorf("app: Source is required")
	case d.Engine == nil:
		return fmt.Errorf("app: Engine is required")
	case d.Sink == nil:
		return fmt.Errorf("app: Sink is required")
	}
	return nil
}

// Stats summarises a finished session.
type Stats struct {
	// FramesIn counts frames received from the source.
	FramesIn uint64

	// FramesDropped counts frames discarded by the bounded buffer.
	FramesDropped uint64

	// SegmentsEmitted counts segments handed to the sink.
	SegmentsEmitted uint64

	// SegmentsFailed counts sink calls that returned an error.
	SegmentsFailed uint64

	// Assembler holds the assembler's own counters.
	Assembler segmenter.Stats
}

// Session wires one audio stream through the pipeline. Create with [NewSession],
// run with [Run]. A session is single-use.
type Session struct {
	cfg  Config
	deps Deps

	// admit gates dispatch when the sink declares a concurrency bound.
	// Nil for unbounded sinks.
	admit *semaphore.Weighted

	framesIn uint64
	dropped  uint64
	emitted  uint64
	failed   atomic.Uint64
}

// NewSession validates the configuration and dependencies.
func NewSession(cfg Config, deps Deps) (*Session, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Segmenter.Validate(); err != nil {
		return nil, err
	}
	s := &Session{cfg: cfg.withDefaults(), deps: deps}
	if b, ok := deps.Sink.(InFlightBounder); ok {
		if n := b.MaxInFlight(); n > 0 {
			s.admit = semaphore.NewWeighted(n)
		}
	}
	return s, nil
}

// Run processes the source until it is exhausted or ctx is cancelled, then
// flushes the assembler and waits for all in-flight segments to finish. The
// caller still owns the sink's lifecycle (Finish/Close) and the source's
// Close.
func (s *Session) Run(ctx context.Context) (Stats, error) {
	vadSession, err := s.deps.Engine.NewSession(s.cfg.VAD)
	if err != nil {
		return Stats{}, fmt.Errorf("app: open vad session: %w", err)
	}
	defer vadSession.Close()

	asm, err := segmenter.New(s.cfg.Segmenter)
	if err != nil {
		return Stats{}, err
	}

	buf := make(chan types.Frame, s.cfg.BufferFrames)
	var inflight sync.WaitGroup

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(buf)
		return s.capture(gctx, buf)
	})

	g.Go(func() error {
		var sinceLevel int
		for frame := range buf {
			// Periodic capture level reading for meters and logs.
			sinceLevel++
			if sinceLevel >= levelEveryFrames {
				sinceLevel = 0
				s.emit(types.Event{
					Type:  types.EventLevel,
					Seq:   frame.Seq,
					Level: audio.RMS(frame.Data),
				})
			}

			score, err := vadSession.Classify(frame)
			if err != nil {
				// Wrong frame size means the capture path is misconfigured.
				return fmt.Errorf("app: classify frame %d: %w", frame.Seq, err)
			}
			seg, err := asm.Push(frame, score)
			if err != nil {
				return err
			}
			if seg != nil {
				s.dispatch(gctx, seg, &inflight)
			}
		}
		if seg := asm.Flush(); seg != nil {
			s.dispatch(gctx, seg, &inflight)
		}
		return nil
	})

	err = g.Wait()
	inflight.Wait()

	stats := Stats{
		FramesIn:        atomic.LoadUint64(&s.framesIn),
		FramesDropped:   atomic.LoadUint64(&s.dropped),
		SegmentsEmitted: atomic.LoadUint64(&s.emitted),
		SegmentsFailed:  s.failed.Load(),
		Assembler:       asm.Stats(),
	}
	slog.Info("session finished",
		"frames_in", stats.FramesIn,
		"frames_dropped", stats.FramesDropped,
		"segments_emitted", stats.SegmentsEmitted,
		"segments_failed", stats.SegmentsFailed)
	return stats, err
}

// capture drains the source into the bounded buffer, evicting the oldest
// buffered frame when full so the source never blocks for long.
func (s *Session) capture(ctx context.Context, buf chan types.Frame) error {
	frames := s.deps.Source.Frames()
	for {
		// Cancellation wins over a ready frame.
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			atomic.AddUint64(&s.framesIn, 1)
			s.enqueue(ctx, buf, frame)
		}
	}
}

// enqueue inserts frame, dropping the oldest buffered frame when the buffer
// is full. Dropped frames are always reported through an event.
func (s *Session) enqueue(ctx context.Context, buf chan types.Frame, frame types.Frame) {
	for {
		select {
		case buf <- frame:
			return
		default:
		}
		select {
		case old := <-buf:
			atomic.AddUint64(&s.dropped, 1)
			s.emit(types.Event{
				Type:    types.EventAudioDropped,
				Seq:     old.Seq,
				Count:   1,
				Message: "capture buffer full, dropped oldest frame",
			})
			if s.deps.Metrics != nil {
				s.deps.Metrics.FramesDropped.Add(ctx, 1)
			}
		default:
			// Consumer took a frame between the two selects; retry the send.
		}
	}
}

// dispatch hands a completed segment to the sink on its own goroutine. The
// sink's in-flight slot, when it declares one, is acquired here in the
// processing loop: a saturated sink blocks dispatch, frames back up in the
// capture buffer, and the buffer drops the oldest instead of this path
// growing a goroutine per waiting segment.
func (s *Session) dispatch(ctx context.Context, seg *types.Segment, inflight *sync.WaitGroup) {
	if s.admit != nil {
		if err := s.admit.Acquire(ctx, 1); err != nil {
			// Shutting down; the sink never saw the segment.
			s.failed.Add(1)
			return
		}
	}
	atomic.AddUint64(&s.emitted, 1)
	s.emit(types.Event{
		Type:      types.EventSegmentEmitted,
		SegmentID: seg.ID,
		Count:     len(seg.Data),
	})
	if s.deps.Metrics != nil {
		s.deps.Metrics.SegmentsEmitted.Add(ctx, 1)
		s.deps.Metrics.SegmentDuration.Record(ctx, seg.Duration().Seconds())
		s.deps.Metrics.SegmentsInFlight.Add(ctx, 1)
	}

	inflight.Add(1)
	go func() {
		defer inflight.Done()
		if s.admit != nil {
			defer s.admit.Release(1)
		}
		if s.deps.Metrics != nil {
			defer s.deps.Metrics.SegmentsInFlight.Add(ctx, -1)
		}
		if err := s.deps.Sink.Process(ctx, seg); err != nil {
			// Already quarantined and reported by the sink.
			s.failed.Add(1)
		}
	}()
}

func (s *Session) emit(ev types.Event) {
	if s.deps.Events == nil {
		return
	}
	ev.Timestamp = time.Now()
	s.deps.Events(ev)
}
