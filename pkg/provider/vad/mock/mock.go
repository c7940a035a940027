// Package mock provides a scripted [vad.Engine] for tests.
package mock

import (
	"fmt"
	"sync"

	"github.com/lbrx/voxpipe/pkg/provider/vad"
	"github.com/lbrx/voxpipe/pkg/types"
)

// Engine is a mock [vad.Engine] whose sessions replay a scripted probability
// sequence. Frames beyond the script get the last scripted probability.
type Engine struct {
	// Script is the per-frame probability sequence. Use NaN entries to
	// simulate detector failures (the unknown sentinel).
	Script []float64

	mu       sync.Mutex
	sessions []*Session
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SpeechThreshold <= 0 {
		return nil, fmt.Errorf("mock vad: speech threshold must be positive")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := &Session{cfg: cfg, script: e.Script}
	e.sessions = append(e.sessions, s)
	return s, nil
}

// Sessions returns all sessions created so far.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, len(e.sessions))
	copy(out, e.sessions)
	return out
}

// Session is the scripted session type returned by [Engine.NewSession].
type Session struct {
	cfg    vad.Config
	script []float64

	mu      sync.Mutex
	calls   int
	resets  int
	closed  bool
	speech  bool
}

// Classify implements [vad.SessionHandle]. The hysteresis decision follows
// the same threshold rules as real engines so assembler tests behave
// identically.
func (s *Session) Classify(frame types.Frame) (types.ActivityScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ActivityScore{}, fmt.Errorf("mock vad: session closed")
	}

	idx := s.calls
	s.calls++
	if len(s.script) == 0 {
		return types.Unknown(frame.Seq), nil
	}
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	p := s.script[idx]

	score := types.ActivityScore{Seq: frame.Seq, Probability: p}
	if score.IsUnknown() {
		return score, nil
	}
	switch {
	case p >= s.cfg.SpeechThreshold:
		s.speech = true
	case p < s.cfg.SilenceThreshold:
		s.speech = false
	}
	score.Speech = s.speech
	return score, nil
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.speech = false
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Calls returns how many frames were classified.
func (s *Session) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Resets returns how many times Reset was called.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}
