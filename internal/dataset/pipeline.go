package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lbrx/voxpipe/pkg/provider/codec"
	"github.com/lbrx/voxpipe/pkg/provider/stt"
	"github.com/lbrx/voxpipe/pkg/types"

	"github.com/lbrx/voxpipe/internal/observe"
	"github.com/lbrx/voxpipe/internal/resilience"
	"github.com/lbrx/voxpipe/internal/transcript"
)

// PipelineConfig tunes the dataset recording pipeline.
type PipelineConfig struct {
	// TranscribeTimeout bounds each transcription attempt. Default 15s.
	TranscribeTimeout time.Duration

	// EncodeTimeout bounds each token encoding attempt. Default 30s.
	EncodeTimeout time.Duration

	// Retry applies to transcription and encoding attempts.
	Retry resilience.RetryConfig

	// Language tags transcription requests, when set.
	Language string
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = 15 * time.Second
	}
	if c.EncodeTimeout <= 0 {
		c.EncodeTimeout = 30 * time.Second
	}
	return c
}

// PipelineDeps are the adapters and stores the pipeline drives. Transcriber,
// Encoder, Formatter, Writer and Quarantine are required; Corrector and
// Events may be nil.
type PipelineDeps struct {
	Transcriber stt.Provider
	Encoder     codec.Encoder
	Formatter   *Formatter
	Writer      *Writer
	Quarantine  *Quarantine
	Corrector   *transcript.Corrector
	Events      func(types.Event)

	// Metrics records stage latencies, record and shard counters and
	// quarantine counts. May be nil.
	Metrics *observe.Metrics
}

// PipelineReport summarises a finished recording session.
type PipelineReport struct {
	RecordsWritten int
	Quarantined    int
	Shards         []Manifest
}

// Pipeline turns emitted segments into corpus records: transcribe, encode
// to token streams, format, append. A segment failing any step is stored in
// quarantine with its stage and reason, and the session continues.
//
// Safe for concurrent Process calls; shard appends are serialised
// internally.
type Pipeline struct {
	cfg  PipelineConfig
	deps PipelineDeps

	mu          sync.Mutex
	written     int
	quarantined int
}

// NewPipeline validates deps and returns a Pipeline.
func NewPipeline(cfg PipelineConfig, deps PipelineDeps) (*Pipeline, error) {
	var errs []error
	if deps.Transcriber == nil {
		errs = append(errs, errors.New("dataset: Transcriber is required"))
	}
	if deps.Encoder == nil {
		errs = append(errs, errors.New("dataset: Encoder is required"))
	}
	if deps.Formatter == nil {
		errs = append(errs, errors.New("dataset: Formatter is required"))
	}
	if deps.Writer == nil {
		errs = append(errs, errors.New("dataset: Writer is required"))
	}
	if deps.Quarantine == nil {
		errs = append(errs, errors.New("dataset: Quarantine is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg.withDefaults(), deps: deps}, nil
}

// Process records one segment. It returns the error that quarantined the
// segment, or nil once the record is durably appended.
func (p *Pipeline) Process(ctx context.Context, seg *types.Segment) error {
	seg.State = types.SegmentTranscribing
	transcribeStart := time.Now()
	tr, err := resilience.RetryResult(ctx, p.cfg.Retry, func() (*types.TranscriptResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.TranscribeTimeout)
		defer cancel()
		return p.deps.Transcriber.Transcribe(callCtx, stt.Request{
			SegmentID:  seg.ID,
			PCM:        seg.Data,
			SampleRate: seg.SampleRate,
			Language:   p.cfg.Language,
		})
	})
	if err != nil {
		return p.reject(ctx, seg, "transcribe", err, "")
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.TranscribeDuration.Record(ctx, time.Since(transcribeStart).Seconds())
	}
	if strings.TrimSpace(tr.Text) == "" {
		return p.reject(ctx, seg, "transcribe", errors.New("empty transcript"), "")
	}
	if p.deps.Corrector != nil {
		if corrected, reps := p.deps.Corrector.Correct(tr.Text); len(reps) > 0 {
			tr.Text = corrected
		}
	}

	encodeStart := time.Now()
	tokens, err := resilience.RetryResult(ctx, p.cfg.Retry, func() (*codec.TokenStream, error) {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.EncodeTimeout)
		defer cancel()
		return p.deps.Encoder.Encode(callCtx, codec.Request{
			SegmentID:  seg.ID,
			PCM:        seg.Data,
			SampleRate: seg.SampleRate,
		})
	})
	if err != nil {
		return p.reject(ctx, seg, "encode", err, tr.Text)
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.EncodeDuration.Record(ctx, time.Since(encodeStart).Seconds())
	}

	rec, err := p.deps.Formatter.Format(seg, tr, tokens)
	if err != nil {
		return p.reject(ctx, seg, "format", err, tr.Text)
	}

	p.mu.Lock()
	sealedBefore := len(p.deps.Writer.Sealed())
	err = p.deps.Writer.Append(rec)
	var sealedNow []Manifest
	if err == nil {
		p.written++
		sealedNow = p.deps.Writer.Sealed()[sealedBefore:]
	}
	p.mu.Unlock()
	if err != nil {
		return p.reject(ctx, seg, "append", err, tr.Text)
	}

	seg.State = types.SegmentRecorded
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordsWritten.Add(ctx, 1)
	}
	p.emit(types.Event{Type: types.EventRecordWritten, SegmentID: seg.ID,
		Message: rec.ID})
	for _, m := range sealedNow {
		slog.Info("shard sealed",
			"shard", m.Shard, "records", m.RecordCount, "duration_ms", m.TotalDurationMs)
		if p.deps.Metrics != nil {
			p.deps.Metrics.ShardsSealed.Add(ctx, 1)
		}
		p.emit(types.Event{Type: types.EventShardSealed, Count: m.RecordCount,
			Message: m.Shard})
	}
	return nil
}

// Close seals the in-progress shard and returns the session report.
func (p *Pipeline) Close() (PipelineReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sealedBefore := len(p.deps.Writer.Sealed())
	shards, err := p.deps.Writer.Close()
	report := PipelineReport{
		RecordsWritten: p.written,
		Quarantined:    p.quarantined,
		Shards:         shards,
	}
	if err != nil {
		return report, fmt.Errorf("dataset: close writer: %w", err)
	}
	for _, m := range shards[sealedBefore:] {
		p.emit(types.Event{Type: types.EventShardSealed, Count: m.RecordCount,
			Message: m.Shard})
	}
	return report, nil
}

func (p *Pipeline) reject(ctx context.Context, seg *types.Segment, stage string, cause error, partialText string) error {
	seg.State = types.SegmentQuarantined
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordQuarantine(ctx, stage)
	}
	slog.Error("segment quarantined",
		"segment_id", seg.ID, "stage", stage, "error", cause)
	if err := p.deps.Quarantine.Store(seg, stage, cause.Error(), partialText); err != nil {
		slog.Error("quarantine store failed", "segment_id", seg.ID, "error", err)
	}
	p.mu.Lock()
	p.quarantined++
	p.mu.Unlock()
	p.emit(types.Event{Type: types.EventQuarantined, SegmentID: seg.ID,
		Message: fmt.Sprintf("%s: %v", stage, cause)})
	return fmt.Errorf("dataset: segment %d %s: %w", seg.ID, stage, cause)
}

func (p *Pipeline) emit(ev types.Event) {
	if p.deps.Events == nil {
		return
	}
	ev.Timestamp = time.Now()
	p.deps.Events(ev)
}
