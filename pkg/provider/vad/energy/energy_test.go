package energy

import (
	"math"
	"testing"

	"github.com/lbrx/voxpipe/pkg/audio"
	"github.com/lbrx/voxpipe/pkg/provider/vad"
	"github.com/lbrx/voxpipe/pkg/types"
)

const (
	testRate    = 16000
	testFrameMs = 20
)

func testConfig() vad.Config {
	return vad.Config{
		SampleRate:       testRate,
		FrameDurationMs:  testFrameMs,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
		ContextFrames:    3,
	}
}

// frame builds a sine-free constant-amplitude test frame.
func frame(seq uint64, amplitude int16) types.Frame {
	samples := testRate * testFrameMs / 1000
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		audio.PutInt16At(data, i, amplitude)
	}
	return types.Frame{Seq: seq, Data: data, SampleRate: testRate}
}

func TestNewSession_Validation(t *testing.T) {
	e := New()
	tests := []struct {
		name   string
		mutate func(*vad.Config)
	}{
		{"zero sample rate", func(c *vad.Config) { c.SampleRate = 0 }},
		{"zero frame duration", func(c *vad.Config) { c.FrameDurationMs = 0 }},
		{"speech threshold too high", func(c *vad.Config) { c.SpeechThreshold = 1.5 }},
		{"silence above speech", func(c *vad.Config) { c.SilenceThreshold = 0.9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := e.NewSession(cfg); err == nil {
				t.Error("expected config error")
			}
		})
	}
}

func TestClassify_SilenceIsNotSpeech(t *testing.T) {
	s := mustSession(t)
	score, err := s.Classify(frame(0, 0))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if score.Speech {
		t.Error("silence classified as speech")
	}
	if score.Probability != 0 {
		t.Errorf("probability = %v, want 0", score.Probability)
	}
}

func TestClassify_LoudIsSpeech(t *testing.T) {
	s := mustSession(t)
	var score types.ActivityScore
	var err error
	// Fill the context window with loud frames.
	for seq := uint64(0); seq < 3; seq++ {
		score, err = s.Classify(frame(seq, 8000))
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
	}
	if !score.Speech {
		t.Errorf("loud frame not classified as speech (p=%v)", score.Probability)
	}
}

func TestClassify_HysteresisHoldsInBand(t *testing.T) {
	s := mustSession(t)

	// Drive into the speech state.
	for seq := uint64(0); seq < 3; seq++ {
		if _, err := s.Classify(frame(seq, 8000)); err != nil {
			t.Fatal(err)
		}
	}

	// An amplitude whose smoothed probability lands between the silence and
	// speech thresholds must keep the previous (speech) decision.
	// -40 dBFS ≈ amplitude 328 maps to p ≈ 0.57 raw; use something quieter
	// so the smoothed value dips into the band instead.
	score, err := s.Classify(frame(3, 150)) // ≈ -46.8 dB → raw p ≈ 0.38
	if err != nil {
		t.Fatal(err)
	}
	if score.Probability < 0.35 || score.Probability >= 0.5 {
		t.Skipf("smoothed probability %v outside hysteresis band, scenario void", score.Probability)
	}
	if !score.Speech {
		t.Error("decision flipped inside hysteresis band")
	}
}

func TestClassify_Deterministic(t *testing.T) {
	run := func() []float64 {
		s := mustSession(t)
		var probs []float64
		amps := []int16{0, 100, 5000, 8000, 200, 0}
		for i, a := range amps {
			score, err := s.Classify(frame(uint64(i), a))
			if err != nil {
				t.Fatal(err)
			}
			probs = append(probs, score.Probability)
		}
		return probs
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("probability %d differs between identical runs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestClassify_WrongFrameSize(t *testing.T) {
	s := mustSession(t)
	_, err := s.Classify(types.Frame{Seq: 0, Data: make([]byte, 10), SampleRate: testRate})
	if err == nil {
		t.Error("expected error for wrong frame size")
	}
}

func TestReset_ClearsContext(t *testing.T) {
	s := mustSession(t)
	for seq := uint64(0); seq < 3; seq++ {
		if _, err := s.Classify(frame(seq, 8000)); err != nil {
			t.Fatal(err)
		}
	}
	s.Reset()

	score, err := s.Classify(frame(10, 0))
	if err != nil {
		t.Fatal(err)
	}
	if score.Speech {
		t.Error("speech state survived Reset")
	}
	if score.Probability != 0 {
		t.Errorf("probability = %v after reset, want 0 (no residual window)", score.Probability)
	}
}

func TestClose_Idempotent(t *testing.T) {
	s := mustSession(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Classify(frame(0, 0)); err == nil {
		t.Error("Classify after Close should fail")
	}
}

func TestLevelToProbability_Monotonic(t *testing.T) {
	prev := -1.0
	for db := -80.0; db <= -10; db += 5 {
		p := levelToProbability(db)
		if p < prev {
			t.Fatalf("probability not monotonic at %v dB", db)
		}
		if p < 0 || p > 1 {
			t.Fatalf("probability %v out of range at %v dB", p, db)
		}
		prev = p
	}
	if !math.Signbit(levelToProbability(-100)) && levelToProbability(-100) != 0 {
		t.Error("floor should map to 0")
	}
}

func mustSession(t *testing.T) vad.SessionHandle {
	t.Helper()
	s, err := New().NewSession(testConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}
