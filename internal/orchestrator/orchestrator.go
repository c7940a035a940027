// Package orchestrator runs each emitted utterance segment through the
// conversational pipeline: transcription, optional retrieval-grounded reply
// generation, and speech synthesis. Segments are processed concurrently up
// to a configured limit, while reply audio is re-serialized into segment id
// order for playback.
//
// Failure handling follows a degradation ladder. Transcription and
// synthesis are load-bearing: their failures (after one retry) quarantine
// the segment and skip its playback slot. Retrieval and generation are not:
// a retrieval failure degrades to an ungrounded reply, and a generation
// failure degrades to a fixed fallback reply, both still synthesized and
// played.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lbrx/voxpipe/pkg/provider/llm"
	"github.com/lbrx/voxpipe/pkg/provider/stt"
	"github.com/lbrx/voxpipe/pkg/provider/tts"
	"github.com/lbrx/voxpipe/pkg/retrieval"
	"github.com/lbrx/voxpipe/pkg/types"

	"github.com/lbrx/voxpipe/internal/observe"
	"github.com/lbrx/voxpipe/internal/resilience"
	"github.com/lbrx/voxpipe/internal/transcript"
)

// Config tunes the orchestrator. Zero timeouts take defaults.
type Config struct {
	// SystemPrompt seeds the reply generator.
	SystemPrompt string

	// Voice selects the synthesis voice.
	Voice types.VoiceProfile

	// TopK is how many passages retrieval contributes to a reply. Default 4.
	TopK int

	// HistoryDepth bounds the conversation window, in turns. Default 20.
	HistoryDepth int

	// MaxInFlight caps concurrently processed segments. Default 4.
	MaxInFlight int64

	// FallbackReply is spoken when generation fails.
	FallbackReply string

	// TranscribeTimeout bounds each transcription attempt. Default 15s.
	TranscribeTimeout time.Duration

	// RetrieveTimeout bounds the retrieval query. Default 2s.
	RetrieveTimeout time.Duration

	// GenerateTimeout bounds the reply generation call. Default 30s.
	GenerateTimeout time.Duration

	// SynthesizeTimeout bounds each synthesis attempt, stream consumption
	// included. Default 30s.
	SynthesizeTimeout time.Duration

	// Retry applies to transcription and synthesis attempts.
	Retry resilience.RetryConfig
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 4
	}
	if c.HistoryDepth <= 0 {
		c.HistoryDepth = 20
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 4
	}
	if c.FallbackReply == "" {
		c.FallbackReply = "Sorry, I didn't catch that. Could you say it again?"
	}
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = 15 * time.Second
	}
	if c.RetrieveTimeout <= 0 {
		c.RetrieveTimeout = 2 * time.Second
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 30 * time.Second
	}
	if c.SynthesizeTimeout <= 0 {
		c.SynthesizeTimeout = 30 * time.Second
	}
	return c
}

// Deps are the provider adapters an Orchestrator drives. Transcriber and
// Synthesizer are required. Retriever may be nil (replies are ungrounded)
// and Generator may be nil (the transcript is echoed back, useful for
// loopback testing).
type Deps struct {
	Transcriber stt.Provider
	Generator   llm.Provider
	Synthesizer tts.Provider
	Retriever   retrieval.Retriever

	// Corrector, when non-nil, realigns transcripts against the domain
	// glossary before they reach generation.
	Corrector *transcript.Corrector

	// Events receives the session event stream. May be nil.
	Events func(types.Event)

	// Metrics records stage latencies and quarantine counts. May be nil.
	Metrics *observe.Metrics
}

// Outcome records how one segment fared.
type Outcome struct {
	SegmentID  uint64
	Transcript string

	// Failed is set when the segment was quarantined.
	Failed bool

	// Stage names the pipeline step that failed.
	Stage string

	// Err is the failure detail.
	Err string
}

// Report summarises a finished session.
type Report struct {
	Succeeded int
	Failed    int

	// Outcomes is ordered by segment id.
	Outcomes []Outcome
}

// Orchestrator is safe for concurrent Process calls.
type Orchestrator struct {
	cfg  Config
	deps Deps

	history  *History
	playback *Playback
	sem      *semaphore.Weighted

	mu       sync.Mutex
	outcomes map[uint64]Outcome
}

// New returns an Orchestrator ready for Process calls, expecting segment
// ids to start at 1.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Transcriber == nil {
		return nil, errors.New("orchestrator: Transcriber is required")
	}
	if deps.Synthesizer == nil {
		return nil, errors.New("orchestrator: Synthesizer is required")
	}
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		history:  NewHistory(cfg.HistoryDepth),
		playback: NewPlayback(1),
		sem:      semaphore.NewWeighted(cfg.MaxInFlight),
		outcomes: make(map[uint64]Outcome),
	}, nil
}

// Playback returns the ordered reply stream. The caller must drain it.
func (o *Orchestrator) Playback() <-chan PlayedReply {
	return o.playback.Out()
}

// MaxInFlight reports the configured concurrency bound. Callers feeding
// segments can gate admission on it instead of parking goroutines in
// Process.
func (o *Orchestrator) MaxInFlight() int64 {
	return o.cfg.MaxInFlight
}

// Process runs one segment through the pipeline, blocking until the segment
// reaches a terminal state. It returns the error that quarantined the
// segment, or nil on success. Concurrency is bounded by MaxInFlight.
func (o *Orchestrator) Process(ctx context.Context, seg *types.Segment) error {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.fail(seg, "admit", err)
		return err
	}
	defer o.sem.Release(1)

	seg.State = types.SegmentTranscribing
	transcript, err := o.transcribe(ctx, seg)
	if err != nil {
		o.fail(seg, "transcribe", err)
		return err
	}
	if strings.TrimSpace(transcript.Text) == "" {
		err := errors.New("empty transcript")
		o.fail(seg, "transcribe", err)
		return err
	}
	if o.deps.Corrector != nil {
		corrected, reps := o.deps.Corrector.Correct(transcript.Text)
		if len(reps) > 0 {
			slog.Debug("transcript corrected",
				"segment_id", seg.ID, "replacements", len(reps))
			transcript.Text = corrected
		}
	}

	seg.State = types.SegmentGenerating
	reply := o.generate(ctx, seg, transcript)

	seg.State = types.SegmentSynthesizing
	pcm, err := o.synthesize(ctx, seg, reply)
	if err != nil {
		o.fail(seg, "synthesize", err)
		return err
	}

	o.playback.Deliver(seg.ID, pcm)
	seg.State = types.SegmentPlayed
	o.emit(types.Event{Type: types.EventReplyPlayed, SegmentID: seg.ID, Count: len(pcm)})

	o.mu.Lock()
	o.outcomes[seg.ID] = Outcome{SegmentID: seg.ID, Transcript: transcript.Text}
	o.mu.Unlock()
	return nil
}

// Finish closes the playback stream and returns the session report.
func (o *Orchestrator) Finish() Report {
	o.playback.Close()

	o.mu.Lock()
	defer o.mu.Unlock()
	var r Report
	r.Outcomes = make([]Outcome, 0, len(o.outcomes))
	for _, out := range o.outcomes {
		r.Outcomes = append(r.Outcomes, out)
		if out.Failed {
			r.Failed++
		} else {
			r.Succeeded++
		}
	}
	sort.Slice(r.Outcomes, func(i, j int) bool {
		return r.Outcomes[i].SegmentID < r.Outcomes[j].SegmentID
	})
	return r
}

func (o *Orchestrator) transcribe(ctx context.Context, seg *types.Segment) (*types.TranscriptResult, error) {
	defer o.observeStage(ctx, "transcribe", time.Now())
	req := stt.Request{SegmentID: seg.ID, PCM: seg.Data, SampleRate: seg.SampleRate}
	return resilience.RetryResult(ctx, o.cfg.Retry, func() (*types.TranscriptResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.TranscribeTimeout)
		defer cancel()
		return o.deps.Transcriber.Transcribe(callCtx, req)
	})
}

// generate produces the reply text for a transcript, degrading rather than
// failing: no retriever or a retrieval error yields an ungrounded reply, no
// generator echoes the transcript, and a generation error yields the fixed
// fallback reply.
func (o *Orchestrator) generate(ctx context.Context, seg *types.Segment, transcript *types.TranscriptResult) string {
	defer o.observeStage(ctx, "generate", time.Now())
	var passages []string
	if o.deps.Retriever != nil {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.RetrieveTimeout)
		found, err := o.deps.Retriever.Search(callCtx, transcript.Text, o.cfg.TopK)
		cancel()
		if err != nil {
			slog.Warn("retrieval failed, replying without context",
				"segment_id", seg.ID, "error", err)
			o.emit(types.Event{Type: types.EventAdapterError, SegmentID: seg.ID,
				Message: fmt.Sprintf("retrieval: %v", err)})
		} else {
			for _, p := range found {
				passages = append(passages, p.Text)
			}
		}
	}

	history := o.history.Turns()
	o.history.Append(types.Turn{Role: types.RoleUser, Text: transcript.Text, Timestamp: time.Now()})

	if o.deps.Generator == nil {
		return transcript.Text
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	defer cancel()
	resp, err := o.deps.Generator.Complete(callCtx, llm.CompletionRequest{
		SystemPrompt:    o.cfg.SystemPrompt,
		ContextPassages: passages,
		History:         history,
		UserText:        transcript.Text,
	})
	if err != nil {
		slog.Warn("generation failed, using fallback reply",
			"segment_id", seg.ID, "error", err)
		o.emit(types.Event{Type: types.EventAdapterError, SegmentID: seg.ID,
			Message: fmt.Sprintf("generate: %v", err)})
		return o.cfg.FallbackReply
	}
	o.history.Append(types.Turn{Role: types.RoleAssistant, Text: resp.Text, Timestamp: time.Now()})
	return resp.Text
}

func (o *Orchestrator) synthesize(ctx context.Context, seg *types.Segment, text string) ([]byte, error) {
	defer o.observeStage(ctx, "synthesize", time.Now())
	req := tts.Request{SegmentID: seg.ID, Text: text, Voice: o.cfg.Voice}
	return resilience.RetryResult(ctx, o.cfg.Retry, func() ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.SynthesizeTimeout)
		defer cancel()

		stream, err := o.deps.Synthesizer.Synthesize(callCtx, req)
		if err != nil {
			return nil, err
		}
		var pcm []byte
		for {
			select {
			case chunk, ok := <-stream:
				if !ok {
					if callCtx.Err() != nil {
						return nil, callCtx.Err()
					}
					return pcm, nil
				}
				pcm = append(pcm, chunk...)
			case <-callCtx.Done():
				return nil, callCtx.Err()
			}
		}
	})
}

// observeStage records how long a pipeline stage took, defer-style:
//
//	defer o.observeStage(ctx, "transcribe", time.Now())
func (o *Orchestrator) observeStage(ctx context.Context, stage string, start time.Time) {
	m := o.deps.Metrics
	if m == nil {
		return
	}
	elapsed := time.Since(start).Seconds()
	switch stage {
	case "transcribe":
		m.TranscribeDuration.Record(ctx, elapsed)
	case "generate":
		m.GenerateDuration.Record(ctx, elapsed)
	case "synthesize":
		m.SynthesizeDuration.Record(ctx, elapsed)
	}
}

// fail quarantines the segment: records the outcome, frees its playback
// slot so later replies are not blocked, and publishes the event.
func (o *Orchestrator) fail(seg *types.Segment, stage string, err error) {
	seg.State = types.SegmentQuarantined
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordQuarantine(context.Background(), stage)
	}
	o.playback.Skip(seg.ID)
	slog.Error("segment quarantined",
		"segment_id", seg.ID, "stage", stage, "error", err)
	o.emit(types.Event{Type: types.EventQuarantined, SegmentID: seg.ID,
		Message: fmt.Sprintf("%s: %v", stage, err)})

	o.mu.Lock()
	o.outcomes[seg.ID] = Outcome{
		SegmentID: seg.ID,
		Failed:    true,
		Stage:     stage,
		Err:       err.Error(),
	}
	o.mu.Unlock()
}

func (o *Orchestrator) emit(ev types.Event) {
	if o.deps.Events == nil {
		return
	}
	ev.Timestamp = time.Now()
	o.deps.Events(ev)
}
