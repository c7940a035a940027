// Package energy implements [vad.Engine] with a short-term energy detector.
//
// The detector maps the RMS level of each frame (in dBFS) onto a speech
// probability through a clamped linear ramp between a noise floor and a
// speech reference level, then smooths the probability over a small rolling
// context window. The smoothed probability is compared against the configured
// speech/silence thresholds with hysteresis: inside the band between the two
// thresholds the previous decision is kept.
//
// Energy detection is deliberately simple — it has no model to load, is fully
// deterministic, and is fast enough for the real-time capture loop. Swap in a
// model-backed engine via the provider registry when recall on quiet speech
// matters more than simplicity.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lbrx/voxpipe/pkg/audio"
	"github.com/lbrx/voxpipe/pkg/provider/vad"
	"github.com/lbrx/voxpipe/pkg/types"
)

const (
	// noiseFloorDB and speechRefDB anchor the dB→probability mapping:
	// levels at or below the floor map near 0, at or above the reference
	// near 1.
	noiseFloorDB = -60.0
	speechRefDB  = -25.0

	defaultContextFrames = 5
)

// Engine implements [vad.Engine]. The zero value is ready to use.
type Engine struct{}

// New returns a new energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameDurationMs <= 0 {
		return nil, fmt.Errorf("energy vad: frame duration must be positive, got %d", cfg.FrameDurationMs)
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy vad: speech threshold %v out of range (0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy vad: silence threshold %v must be in [0, speech threshold]", cfg.SilenceThreshold)
	}

	ctxFrames := cfg.ContextFrames
	if ctxFrames <= 0 {
		ctxFrames = defaultContextFrames
	}

	return &session{
		cfg:        cfg,
		frameBytes: cfg.SampleRate * cfg.FrameDurationMs / 1000 * 2,
		window:     make([]float64, 0, ctxFrames),
		windowCap:  ctxFrames,
	}, nil
}

// session holds the per-stream rolling context. Not safe for concurrent use;
// the capture path owns exactly one goroutine per session.
type session struct {
	cfg        vad.Config
	frameBytes int

	window    []float64 // rolling raw probabilities, newest last
	windowCap int
	speech    bool // previous hysteresis decision

	closeOnce sync.Once
	closed    bool
}

var errClosed = errors.New("energy vad: session closed")

// Classify implements [vad.SessionHandle].
func (s *session) Classify(frame types.Frame) (types.ActivityScore, error) {
	if s.closed {
		return types.ActivityScore{}, errClosed
	}
	if len(frame.Data) != s.frameBytes {
		return types.ActivityScore{}, fmt.Errorf("energy vad: frame %d has %d bytes, want %d",
			frame.Seq, len(frame.Data), s.frameBytes)
	}

	raw := levelToProbability(audio.RMSdB(frame.Data))

	// Rolling mean over the context window.
	if len(s.window) == s.windowCap {
		copy(s.window, s.window[1:])
		s.window[len(s.window)-1] = raw
	} else {
		s.window = append(s.window, raw)
	}
	var sum float64
	for _, p := range s.window {
		sum += p
	}
	prob := sum / float64(len(s.window))

	// Hysteresis: flip the decision only outside the threshold band.
	switch {
	case prob >= s.cfg.SpeechThreshold:
		s.speech = true
	case prob < s.cfg.SilenceThreshold:
		s.speech = false
	}

	return types.ActivityScore{Seq: frame.Seq, Probability: prob, Speech: s.speech}, nil
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() {
	s.window = s.window[:0]
	s.speech = false
}

// Close implements [vad.SessionHandle].
func (s *session) Close() error {
	s.closeOnce.Do(func() { s.closed = true })
	return nil
}

// levelToProbability maps a dBFS level onto [0, 1] linearly between the noise
// floor and the speech reference, clamped outside that range. A linear ramp
// keeps the mapping monotonic and trivially invertible in tests.
func levelToProbability(db float64) float64 {
	if db <= noiseFloorDB {
		return 0
	}
	if db >= speechRefDB {
		return 1
	}
	return (db - noiseFloorDB) / (speechRefDB - noiseFloorDB)
}
