package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lbrx/voxpipe/pkg/provider/stt"
	llmmock "github.com/lbrx/voxpipe/pkg/provider/llm/mock"
	sttmock "github.com/lbrx/voxpipe/pkg/provider/stt/mock"
	ttsmock "github.com/lbrx/voxpipe/pkg/provider/tts/mock"
	"github.com/lbrx/voxpipe/pkg/retrieval"
	retrievalmock "github.com/lbrx/voxpipe/pkg/retrieval/mock"
	"github.com/lbrx/voxpipe/pkg/types"

	"github.com/lbrx/voxpipe/internal/resilience"
	"github.com/lbrx/voxpipe/internal/transcript"
)

func testSeg(id uint64) *types.Segment {
	return &types.Segment{
		ID:         id,
		Start:      time.Duration(id) * time.Second,
		End:        time.Duration(id)*time.Second + 800*time.Millisecond,
		Data:       make([]byte, 2*800*16),
		SampleRate: 16000,
		State:      types.SegmentEmitted,
	}
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{Attempts: 2, Backoff: time.Millisecond}
}

func TestPlaybackOrderedUnderArbitraryCompletion(t *testing.T) {
	const n = 6
	// Earlier segments transcribe slower, so completion order is reversed
	// relative to segment order.
	scripted := &sttmock.Provider{Responses: map[uint64]string{}}
	for id := uint64(1); id <= n; id++ {
		scripted.Responses[id] = "utterance"
	}
	o, err := New(Config{MaxInFlight: n, Retry: fastRetry()}, Deps{
		Transcriber: &staggeredSTT{inner: scripted, step: 15 * time.Millisecond, total: n},
		Synthesizer: &ttsmock.Provider{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wg sync.WaitGroup
	for id := uint64(1); id <= n; id++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			if err := o.Process(context.Background(), testSeg(id)); err != nil {
				t.Errorf("Process %d: %v", id, err)
			}
		}(id)
	}

	var played []uint64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range o.Playback() {
			played = append(played, r.SegmentID)
			// The audio must belong to the reported segment.
			if len(r.PCM) == 0 || r.PCM[0] != byte(r.SegmentID) {
				t.Errorf("segment %d carries foreign audio", r.SegmentID)
			}
		}
	}()

	wg.Wait()
	report := o.Finish()
	<-done

	if len(played) != n {
		t.Fatalf("played %d replies, want %d", len(played), n)
	}
	for i, id := range played {
		if id != uint64(i+1) {
			t.Fatalf("playback order = %v, want 1..%d ascending", played, n)
		}
	}
	if report.Succeeded != n || report.Failed != 0 {
		t.Errorf("report = %d/%d, want %d/0", report.Succeeded, report.Failed, n)
	}
}

// staggeredSTT delays segment id k by (total-k)*step so higher ids finish
// first.
type staggeredSTT struct {
	inner *sttmock.Provider
	step  time.Duration
	total uint64
}

func (s *staggeredSTT) Transcribe(ctx context.Context, req stt.Request) (*types.TranscriptResult, error) {
	delay := time.Duration(s.total-req.SegmentID) * s.step
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.inner.Transcribe(ctx, req)
}

func TestTranscribeTimeoutQuarantinesOnlyThatSegment(t *testing.T) {
	// Segment 2 of 3 times out in transcription; 1 and 3 complete, 2 is
	// quarantined, and the report counts one failure and two successes.
	scripted2 := &sttmock.Provider{
		Responses: map[uint64]string{1: "first", 2: "second", 3: "third"},
	}
	slow := &perSegmentDelaySTT{inner: scripted2, delays: map[uint64]time.Duration{2: 200 * time.Millisecond}}

	var events []types.Event
	var evMu sync.Mutex
	o, err := New(Config{
		MaxInFlight:       3,
		TranscribeTimeout: 50 * time.Millisecond,
		Retry:             resilience.RetryConfig{Attempts: 2, Backoff: time.Millisecond},
	}, Deps{
		Transcriber: slow,
		Synthesizer: &ttsmock.Provider{},
		Events: func(ev types.Event) {
			evMu.Lock()
			events = append(events, ev)
			evMu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for id := uint64(1); id <= 3; id++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			errs[id] = o.Process(context.Background(), testSeg(id))
		}(id)
	}

	var played []uint64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range o.Playback() {
			played = append(played, r.SegmentID)
		}
	}()

	wg.Wait()
	report := o.Finish()
	<-done

	if errs[1] != nil || errs[3] != nil {
		t.Fatalf("segments 1/3 failed: %v, %v", errs[1], errs[3])
	}
	if !errors.Is(errs[2], context.DeadlineExceeded) {
		t.Fatalf("segment 2 err = %v, want deadline exceeded", errs[2])
	}
	if report.Succeeded != 2 || report.Failed != 1 {
		t.Fatalf("report = %d succeeded / %d failed, want 2/1", report.Succeeded, report.Failed)
	}
	var out2 Outcome
	for _, out := range report.Outcomes {
		if out.SegmentID == 2 {
			out2 = out
		}
	}
	if !out2.Failed || out2.Stage != "transcribe" {
		t.Errorf("segment 2 outcome = %+v", out2)
	}
	if len(played) != 2 || played[0] != 1 || played[1] != 3 {
		t.Errorf("played = %v, want [1 3]", played)
	}

	evMu.Lock()
	defer evMu.Unlock()
	var quarantined bool
	for _, ev := range events {
		if ev.Type == types.EventQuarantined && ev.SegmentID == 2 {
			quarantined = true
		}
	}
	if !quarantined {
		t.Error("no quarantine event for segment 2")
	}
}

type perSegmentDelaySTT struct {
	inner  *sttmock.Provider
	delays map[uint64]time.Duration
}

func (s *perSegmentDelaySTT) Transcribe(ctx context.Context, req stt.Request) (*types.TranscriptResult, error) {
	if d := s.delays[req.SegmentID]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.inner.Transcribe(ctx, req)
}

func TestTranscribeRetriesOnceThenSucceeds(t *testing.T) {
	flaky := &flakySTT{failFirst: 1, text: "hello"}
	o, err := New(Config{Retry: fastRetry()}, Deps{
		Transcriber: flaky,
		Synthesizer: &ttsmock.Provider{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go drain(o)
	if err := o.Process(context.Background(), testSeg(1)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	report := o.Finish()
	if report.Succeeded != 1 {
		t.Fatalf("report = %+v", report)
	}
	if flaky.calls != 2 {
		t.Fatalf("calls = %d, want 2", flaky.calls)
	}
}

type flakySTT struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	text      string
}

func (f *flakySTT) Transcribe(ctx context.Context, req stt.Request) (*types.TranscriptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return nil, errors.New("transient")
	}
	return &types.TranscriptResult{SegmentID: req.SegmentID, Text: f.text}, nil
}

func TestRetrievalFailureDegradesToUngroundedReply(t *testing.T) {
	gen := &llmmock.Provider{Reply: "grounded or not, here you go"}
	o, err := New(Config{Retry: fastRetry()}, Deps{
		Transcriber: &sttmock.Provider{Default: "what is a shard"},
		Generator:   gen,
		Synthesizer: &ttsmock.Provider{},
		Retriever:   &retrievalmock.Retriever{Err: errors.New("store down")},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go drain(o)
	if err := o.Process(context.Background(), testSeg(1)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	report := o.Finish()
	if report.Failed != 0 || report.Succeeded != 1 {
		t.Fatalf("report = %+v: retrieval failure must not fail the segment", report)
	}
	calls := gen.Calls()
	if len(calls) != 1 {
		t.Fatalf("generator calls = %d", len(calls))
	}
	if len(calls[0].ContextPassages) != 0 {
		t.Errorf("passages = %v, want none", calls[0].ContextPassages)
	}
}

func TestRetrievalPassagesReachGenerator(t *testing.T) {
	gen := &llmmock.Provider{Reply: "answer"}
	o, err := New(Config{TopK: 2, Retry: fastRetry()}, Deps{
		Transcriber: &sttmock.Provider{Default: "question"},
		Generator:   gen,
		Synthesizer: &ttsmock.Provider{},
		Retriever: &retrievalmock.Retriever{Passages: []retrieval.Passage{
			{ID: "a", Text: "passage one"},
			{ID: "b", Text: "passage two"},
			{ID: "c", Text: "passage three"},
		}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go drain(o)
	if err := o.Process(context.Background(), testSeg(1)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	o.Finish()
	calls := gen.Calls()
	if len(calls) != 1 {
		t.Fatalf("generator calls = %d", len(calls))
	}
	if got := len(calls[0].ContextPassages); got != 2 {
		t.Fatalf("passages = %d, want topK=2", got)
	}
	if calls[0].ContextPassages[0] != "passage one" {
		t.Errorf("first passage = %q", calls[0].ContextPassages[0])
	}
}

func TestGenerationFailureSpeaksFallbackReply(t *testing.T) {
	speaker := &ttsmock.Provider{}
	o, err := New(Config{FallbackReply: "let me get back to you", Retry: fastRetry()}, Deps{
		Transcriber: &sttmock.Provider{Default: "hard question"},
		Generator:   &llmmock.Provider{Err: errors.New("model overloaded")},
		Synthesizer: speaker,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go drain(o)
	if err := o.Process(context.Background(), testSeg(1)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	report := o.Finish()
	if report.Succeeded != 1 {
		t.Fatalf("report = %+v: generation failure must degrade, not fail", report)
	}
	calls := speaker.Calls()
	if len(calls) != 1 || calls[0].Text != "let me get back to you" {
		t.Fatalf("synthesized = %+v, want the fallback reply", calls)
	}
}

func TestSynthesisFailureQuarantines(t *testing.T) {
	o, err := New(Config{Retry: fastRetry()}, Deps{
		Transcriber: &sttmock.Provider{Default: "something"},
		Synthesizer: &ttsmock.Provider{Err: errors.New("voice service down")},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go drain(o)
	if err := o.Process(context.Background(), testSeg(1)); err == nil {
		t.Fatal("Process succeeded, want synthesis failure")
	}
	report := o.Finish()
	if report.Failed != 1 || report.Outcomes[0].Stage != "synthesize" {
		t.Fatalf("report = %+v", report)
	}
}

func TestEmptyTranscriptQuarantines(t *testing.T) {
	o, err := New(Config{Retry: fastRetry()}, Deps{
		Transcriber: &sttmock.Provider{Default: "   "},
		Synthesizer: &ttsmock.Provider{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go drain(o)
	if err := o.Process(context.Background(), testSeg(1)); err == nil {
		t.Fatal("Process succeeded on empty transcript")
	}
	report := o.Finish()
	if report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestHistoryWindowEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(types.Turn{Role: types.RoleUser, Text: string(rune('a' + i))})
	}
	turns := h.Turns()
	if len(turns) != 3 {
		t.Fatalf("len = %d, want 3", len(turns))
	}
	if turns[0].Text != "c" || turns[2].Text != "e" {
		t.Errorf("turns = %v", turns)
	}
}

func TestHistoryGrowsAcrossSegments(t *testing.T) {
	gen := &llmmock.Provider{Reply: "noted"}
	o, err := New(Config{HistoryDepth: 10, Retry: fastRetry()}, Deps{
		Transcriber: &sttmock.Provider{Default: "turn"},
		Generator:   gen,
		Synthesizer: &ttsmock.Provider{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go drain(o)
	for id := uint64(1); id <= 2; id++ {
		if err := o.Process(context.Background(), testSeg(id)); err != nil {
			t.Fatalf("Process %d: %v", id, err)
		}
	}
	o.Finish()
	calls := gen.Calls()
	if len(calls) != 2 {
		t.Fatalf("generator calls = %d", len(calls))
	}
	if len(calls[0].History) != 0 {
		t.Errorf("first call history = %d turns, want 0", len(calls[0].History))
	}
	// Second call sees the first exchange.
	if len(calls[1].History) != 2 {
		t.Errorf("second call history = %d turns, want 2", len(calls[1].History))
	}
}

func TestCorrectorAppliedBeforeGeneration(t *testing.T) {
	gen := &llmmock.Provider{Reply: "sure"}
	o, err := New(Config{Retry: fastRetry()}, Deps{
		Transcriber: &sttmock.Provider{Default: "open the graffana dashboard"},
		Generator:   gen,
		Synthesizer: &ttsmock.Provider{},
		Corrector:   transcript.NewCorrector([]string{"Grafana"}),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go drain(o)
	if err := o.Process(context.Background(), testSeg(1)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	o.Finish()
	calls := gen.Calls()
	if len(calls) != 1 || calls[0].UserText != "open the Grafana dashboard" {
		t.Fatalf("generator saw %+v", calls)
	}
}

func drain(o *Orchestrator) {
	for range o.Playback() {
	}
}
