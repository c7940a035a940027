// Package segmenter implements the utterance segment assembler: the state
// machine that turns a stream of frames and activity scores into complete
// speech segments.
//
// The assembler moves through four live states:
//
//	IDLE ──speech ≥ open threshold──────────────▶ OPENING
//	OPENING ──speech persists confirm frames────▶ OPEN
//	OPENING ──score drops before confirmation───▶ IDLE   (discard, too short)
//	OPEN ──one silence frame────────────────────▶ CLOSING
//	CLOSING ──silence persists hangover frames──▶ emit
//	CLOSING ──speech resumes────────────────────▶ OPEN   (same segment)
//	OPEN/CLOSING ──max duration reached─────────▶ emit   (forced close)
//
// An emitted segment starts a fixed pre-roll before the opening instant
// (bounded by session start) and ends a fixed trailing pad after the hangover
// start, capped at the maximum segment duration. Segments shorter than the
// minimum duration are discarded, never emitted, so brief noise bursts cannot
// become training records.
//
// The assembler is single-threaded with respect to frame order: exactly one
// goroutine calls Push, and frames must arrive with strictly increasing
// sequence numbers. A gap (the bounded capture buffer drops oldest frames
// under backpressure) closes any run in progress so segments are never
// spliced across missing audio; regressions are an error, never silently
// reordered.
package segmenter

import (
	"fmt"
	"time"

	"github.com/lbrx/voxpipe/pkg/types"
)

// state is the live assembler state. Emission is not a state of its own:
// a finished segment is returned from Push and the machine goes back to idle.
type state int

const (
	stateIdle state = iota
	stateOpening
	stateOpen
	stateClosing
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateOpening:
		return "opening"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// OutOfOrderError reports a frame delivered with a non-increasing sequence
// number. This is a pipeline bug upstream, not a recoverable condition.
type OutOfOrderError struct {
	LastSeq uint64
	Seq     uint64
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("segmenter: frame %d delivered after frame %d (frames must arrive in increasing order)", e.Seq, e.LastSeq)
}

// Config holds the segmentation tuning parameters.
type Config struct {
	// FrameDuration is the fixed duration of every input frame.
	FrameDuration time.Duration

	// OpenThreshold is the speech probability at or above which a frame
	// counts as speech for opening and extending a segment.
	OpenThreshold float64

	// CloseThreshold is the probability below which a frame counts as
	// silence. Must be ≤ OpenThreshold; scores between the two neither open
	// nor close (the hangover countdown simply holds).
	CloseThreshold float64

	// ConfirmFrames is how many consecutive speech frames are required in
	// OPENING before the segment is confirmed OPEN. Minimum 1.
	ConfirmFrames int

	// HangoverFrames is how many consecutive silence frames are required in
	// CLOSING before the segment is emitted. Minimum 1.
	HangoverFrames int

	// PreRoll is how much audio before the opening instant is included in
	// the segment. Clamped at the session start.
	PreRoll time.Duration

	// TrailingPad is how much audio after the hangover start instant is
	// included in the segment.
	TrailingPad time.Duration

	// MinDuration and MaxDuration bound emitted segments. Segments shorter
	// than MinDuration are discarded; accumulation beyond MaxDuration forces
	// a close.
	MinDuration time.Duration
	MaxDuration time.Duration
}

// Validate checks the configuration for coherence.
func (c Config) Validate() error {
	switch {
	case c.FrameDuration <= 0:
		return fmt.Errorf("segmenter: frame duration must be positive, got %v", c.FrameDuration)
	case c.OpenThreshold <= 0 || c.OpenThreshold > 1:
		return fmt.Errorf("segmenter: open threshold %v out of range (0, 1]", c.OpenThreshold)
	case c.CloseThreshold < 0 || c.CloseThreshold > c.OpenThreshold:
		return fmt.Errorf("segmenter: close threshold %v must be in [0, open threshold]", c.CloseThreshold)
	case c.ConfirmFrames < 1:
		return fmt.Errorf("segmenter: confirm frames must be ≥ 1, got %d", c.ConfirmFrames)
	case c.HangoverFrames < 1:
		return fmt.Errorf("segmenter: hangover frames must be ≥ 1, got %d", c.HangoverFrames)
	case c.PreRoll < 0 || c.TrailingPad < 0:
		return fmt.Errorf("segmenter: pre-roll and trailing pad must be non-negative")
	case c.MinDuration <= 0 || c.MaxDuration <= c.MinDuration:
		return fmt.Errorf("segmenter: need 0 < min duration (%v) < max duration (%v)", c.MinDuration, c.MaxDuration)
	}
	return nil
}

// Stats counts assembler outcomes since construction.
type Stats struct {
	// Emitted is the number of segments handed downstream.
	Emitted uint64

	// DiscardedShort counts closed runs below the minimum duration.
	DiscardedShort uint64

	// AbortedOpenings counts OPENING runs that fell back to IDLE before
	// confirmation.
	AbortedOpenings uint64

	// ForcedCloses counts segments emitted because they hit the maximum
	// duration.
	ForcedCloses uint64

	// GapCloses counts runs closed because the input sequence jumped:
	// frames were dropped upstream mid-segment.
	GapCloses uint64
}

// Assembler is the segment state machine. Not safe for concurrent use: the
// capture pipeline owns it from a single goroutine.
type Assembler struct {
	cfg Config

	prerollFrames int
	padFrames     int
	maxFrames     int

	st       state
	preroll  []types.Frame // rolling pre-roll ring, oldest first
	buf      []types.Frame // frames of the segment being assembled
	opening  int           // consecutive speech frames while OPENING
	hangover int           // consecutive silence frames while CLOSING
	// hangoverMark is the index in buf of the first silence frame of the
	// current CLOSING run; the emitted segment ends TrailingPad after it.
	hangoverMark int

	started bool
	lastSeq uint64

	nextID uint64
	stats  Stats
}

// New creates an assembler with the given configuration.
func New(cfg Config) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Assembler{
		cfg:           cfg,
		prerollFrames: int((cfg.PreRoll + cfg.FrameDuration - 1) / cfg.FrameDuration),
		padFrames:     int(cfg.TrailingPad / cfg.FrameDuration),
		maxFrames:     int(cfg.MaxDuration / cfg.FrameDuration),
		nextID:        1,
	}, nil
}

// Push feeds one frame and its activity score into the state machine.
// It returns a completed segment when the frame closed one, or nil.
//
// The score's sequence number must match the frame's. An unknown score (see
// [types.ActivityScore.IsUnknown]) holds the current state: audio keeps
// accumulating but no transition counter advances.
//
// A jump in the sequence number means upstream dropped frames. Any run in
// progress is closed at the gap rather than spliced across it: the buffered
// audio stays contiguous, so a segment's duration always matches its PCM
// length.
func (a *Assembler) Push(frame types.Frame, score types.ActivityScore) (*types.Segment, error) {
	if score.Seq != frame.Seq {
		return nil, fmt.Errorf("segmenter: score seq %d does not match frame seq %d", score.Seq, frame.Seq)
	}
	if a.started && frame.Seq <= a.lastSeq {
		return nil, &OutOfOrderError{LastSeq: a.lastSeq, Seq: frame.Seq}
	}
	var closed *types.Segment
	if a.started && frame.Seq != a.lastSeq+1 {
		closed = a.closeOnGap()
	}
	a.started = true
	a.lastSeq = frame.Seq

	seg, err := a.step(frame, score)
	if err != nil {
		return nil, err
	}
	if closed != nil {
		// step ran against a freshly reset machine and cannot emit from a
		// single frame, so at most one segment leaves this call.
		return closed, nil
	}
	return seg, nil
}

// step advances the state machine by one frame.
func (a *Assembler) step(frame types.Frame, score types.ActivityScore) (*types.Segment, error) {
	if score.IsUnknown() {
		return a.pushUnknown(frame), nil
	}

	speech := score.Probability >= a.cfg.OpenThreshold
	silence := score.Probability < a.cfg.CloseThreshold

	switch a.st {
	case stateIdle:
		if !speech {
			a.pushPreroll(frame)
			return nil, nil
		}
		// Seed the segment with the pre-roll, then the opening frame. The
		// ring is bounded, so the start can never precede the session start.
		a.buf = append(a.buf[:0], a.preroll...)
		a.buf = append(a.buf, frame)
		a.preroll = a.preroll[:0]
		a.opening = 1
		a.st = stateOpening
		if a.opening >= a.cfg.ConfirmFrames {
			a.st = stateOpen
		}
		return nil, nil

	case stateOpening:
		a.buf = append(a.buf, frame)
		if !speech {
			// Too short to be speech; fall back to IDLE but keep the recent
			// frames as pre-roll context.
			a.stats.AbortedOpenings++
			a.reseedPreroll(a.buf)
			a.buf = nil
			a.opening = 0
			a.st = stateIdle
			return nil, nil
		}
		a.opening++
		if a.opening >= a.cfg.ConfirmFrames {
			a.st = stateOpen
		}
		return a.maybeForceClose(), nil

	case stateOpen:
		a.buf = append(a.buf, frame)
		if silence {
			a.st = stateClosing
			a.hangover = 1
			a.hangoverMark = len(a.buf) - 1
			if a.hangover >= a.cfg.HangoverFrames {
				return a.emit(a.padEnd()), nil
			}
		}
		return a.maybeForceClose(), nil

	case stateClosing:
		a.buf = append(a.buf, frame)
		switch {
		case speech:
			// Brief dip, same utterance: no split.
			a.st = stateOpen
			a.hangover = 0
		case silence:
			a.hangover++
			if a.hangover >= a.cfg.HangoverFrames {
				return a.emit(a.padEnd()), nil
			}
		default:
			// Between thresholds: hold the countdown.
		}
		return a.maybeForceClose(), nil
	}

	return nil, fmt.Errorf("segmenter: invalid state %v", a.st)
}

// Flush force-closes any in-progress segment, e.g. at end of input. OPENING
// runs are discarded (never confirmed as speech); OPEN/CLOSING runs are
// emitted subject to the minimum duration.
func (a *Assembler) Flush() *types.Segment {
	switch a.st {
	case stateOpen:
		return a.emit(len(a.buf) - 1)
	case stateClosing:
		return a.emit(a.padEnd())
	case stateOpening:
		a.stats.AbortedOpenings++
		a.buf = nil
		a.opening = 0
		a.st = stateIdle
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (a *Assembler) Stats() Stats { return a.stats }

// pushUnknown handles the detector-failure sentinel: accumulate audio in any
// non-idle state, advance nothing.
func (a *Assembler) pushUnknown(frame types.Frame) *types.Segment {
	if a.st == stateIdle {
		a.pushPreroll(frame)
		return nil
	}
	a.buf = append(a.buf, frame)
	return a.maybeForceClose()
}

// closeOnGap ends whatever run the dropped frames interrupted. Pre-roll
// context from before the gap is discarded too: it must not be spliced onto
// a segment opening after it.
func (a *Assembler) closeOnGap() *types.Segment {
	a.preroll = a.preroll[:0]
	switch a.st {
	case stateIdle:
		return nil
	case stateOpening:
		a.stats.AbortedOpenings++
		a.buf = nil
		a.opening = 0
		a.st = stateIdle
		return nil
	}
	a.stats.GapCloses++
	return a.emit(len(a.buf) - 1)
}

// maybeForceClose emits the current run when it has accumulated the maximum
// duration. Prevents unbounded buffering on continuous speech.
func (a *Assembler) maybeForceClose() *types.Segment {
	if len(a.buf) < a.maxFrames {
		return nil
	}
	a.stats.ForcedCloses++
	return a.emit(len(a.buf) - 1)
}

// padEnd computes the final frame index for a hangover close: the segment
// ends a trailing pad after the hangover start instant, bounded by what has
// actually been buffered.
func (a *Assembler) padEnd() int {
	endIdx := a.hangoverMark - 1 + a.padFrames
	if endIdx > len(a.buf)-1 {
		endIdx = len(a.buf) - 1
	}
	if endIdx < 0 {
		endIdx = 0
	}
	return endIdx
}

// emit closes the current run, ending at the inclusive frame index endIdx,
// capped so the segment never exceeds the maximum duration. Runs below the
// minimum duration are discarded.
func (a *Assembler) emit(endIdx int) *types.Segment {
	if endIdx >= a.maxFrames {
		endIdx = a.maxFrames - 1
	}

	frames := a.buf[:endIdx+1]
	leftover := a.buf[endIdx+1:]

	seg := a.buildSegment(frames)

	// Reset to IDLE; leftover silence frames become pre-roll context.
	a.reseedPreroll(leftover)
	a.buf = nil
	a.opening = 0
	a.hangover = 0
	a.st = stateIdle

	if seg.Duration() < a.cfg.MinDuration {
		a.stats.DiscardedShort++
		return nil
	}

	a.stats.Emitted++
	seg.ID = a.nextID
	a.nextID++
	return seg
}

// buildSegment concatenates the frame run into a segment value.
func (a *Assembler) buildSegment(frames []types.Frame) *types.Segment {
	var size int
	for _, f := range frames {
		size += len(f.Data)
	}
	data := make([]byte, 0, size)
	for _, f := range frames {
		data = append(data, f.Data...)
	}

	first, last := frames[0], frames[len(frames)-1]
	return &types.Segment{
		StartSeq:   first.Seq,
		EndSeq:     last.Seq,
		Start:      first.Timestamp,
		End:        last.Timestamp + a.cfg.FrameDuration,
		Data:       data,
		SampleRate: first.SampleRate,
		State:      types.SegmentEmitted,
	}
}

// pushPreroll appends a frame to the bounded pre-roll ring.
func (a *Assembler) pushPreroll(frame types.Frame) {
	if a.prerollFrames == 0 {
		return
	}
	a.preroll = append(a.preroll, frame)
	if len(a.preroll) > a.prerollFrames {
		// Copy down so evicted frames do not pin the backing array.
		n := copy(a.preroll, a.preroll[len(a.preroll)-a.prerollFrames:])
		a.preroll = a.preroll[:n]
	}
}

// reseedPreroll replaces the pre-roll ring with the tail of frames.
func (a *Assembler) reseedPreroll(frames []types.Frame) {
	a.preroll = a.preroll[:0]
	start := 0
	if a.prerollFrames > 0 && len(frames) > a.prerollFrames {
		start = len(frames) - a.prerollFrames
	} else if a.prerollFrames == 0 {
		return
	}
	a.preroll = append(a.preroll, frames[start:]...)
}
