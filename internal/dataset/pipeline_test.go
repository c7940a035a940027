package dataset

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	codecmock "github.com/lbrx/voxpipe/pkg/provider/codec/mock"
	sttmock "github.com/lbrx/voxpipe/pkg/provider/stt/mock"
	"github.com/lbrx/voxpipe/pkg/types"

	"github.com/lbrx/voxpipe/internal/resilience"
	"github.com/lbrx/voxpipe/internal/transcript"
)

type pipelineFixture struct {
	pipeline   *Pipeline
	corpusDir  string
	quarDir    string
	events     *[]types.Event
	eventsMu   *sync.Mutex
}

func newPipelineFixture(t *testing.T, stt *sttmock.Provider, enc *codecmock.Encoder, opts ...func(*PipelineDeps)) pipelineFixture {
	t.Helper()
	corpusDir := t.TempDir()
	quarDir := t.TempDir()

	w, err := NewWriter(WriterConfig{Dir: corpusDir, Prefix: "corpus", MaxRecords: 100})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	f, err := NewFormatter("alice")
	if err != nil {
		t.Fatalf("NewFormatter: %v", err)
	}
	q, err := NewQuarantine(quarDir)
	if err != nil {
		t.Fatalf("NewQuarantine: %v", err)
	}

	var (
		events []types.Event
		mu     sync.Mutex
	)
	deps := PipelineDeps{
		Transcriber: stt,
		Encoder:     enc,
		Formatter:   f,
		Writer:      w,
		Quarantine:  q,
		Events: func(ev types.Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	p, err := NewPipeline(PipelineConfig{
		Retry: resilience.RetryConfig{Attempts: 2, Backoff: time.Millisecond},
	}, deps)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return pipelineFixture{pipeline: p, corpusDir: corpusDir, quarDir: quarDir, events: &events, eventsMu: &mu}
}

func (fx pipelineFixture) eventCount(typ types.EventType) int {
	fx.eventsMu.Lock()
	defer fx.eventsMu.Unlock()
	n := 0
	for _, ev := range *fx.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestPipelineRecordsSegments(t *testing.T) {
	stt := &sttmock.Provider{Default: "a recorded utterance"}
	fx := newPipelineFixture(t, stt, &codecmock.Encoder{})

	for id := uint64(1); id <= 3; id++ {
		seg := testSegment(id, 2*time.Second)
		if err := fx.pipeline.Process(context.Background(), seg); err != nil {
			t.Fatalf("Process %d: %v", id, err)
		}
		if seg.State != types.SegmentRecorded {
			t.Errorf("segment %d state = %v", id, seg.State)
		}
	}
	report, err := fx.pipeline.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if report.RecordsWritten != 3 || report.Quarantined != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Shards) != 1 || report.Shards[0].RecordCount != 3 {
		t.Fatalf("shards = %+v", report.Shards)
	}
	if got := fx.eventCount(types.EventRecordWritten); got != 3 {
		t.Errorf("record_written events = %d, want 3", got)
	}
	if got := fx.eventCount(types.EventShardSealed); got != 1 {
		t.Errorf("shard_sealed events = %d, want 1", got)
	}

	// The sealed shard validates clean.
	shard := filepath.Join(fx.corpusDir, report.Shards[0].Shard)
	findings, err := NewValidator(DefaultValidatorConfig()).Validate(shard)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("findings = %v", findings)
	}
}

func TestPipelineQuarantinesMisalignedTokens(t *testing.T) {
	stt := &sttmock.Provider{Default: "some words"}
	fx := newPipelineFixture(t, stt, &codecmock.Encoder{Misalign: 2})

	seg := testSegment(1, 2*time.Second)
	if err := fx.pipeline.Process(context.Background(), seg); err == nil {
		t.Fatal("Process succeeded with misaligned tokens")
	}
	if seg.State != types.SegmentQuarantined {
		t.Errorf("state = %v", seg.State)
	}

	report, err := fx.pipeline.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if report.RecordsWritten != 0 || report.Quarantined != 1 {
		t.Fatalf("report = %+v", report)
	}

	// The quarantine holds audio plus a reason naming the format stage.
	if _, err := os.Stat(filepath.Join(fx.quarDir, "segment-000001.wav")); err != nil {
		t.Errorf("quarantined audio: %v", err)
	}
	meta, err := os.ReadFile(filepath.Join(fx.quarDir, "segment-000001.json"))
	if err != nil {
		t.Fatalf("quarantine metadata: %v", err)
	}
	if !containsAll(string(meta), `"format"`, `"some words"`) {
		t.Errorf("metadata = %s", meta)
	}
	if got := fx.eventCount(types.EventQuarantined); got != 1 {
		t.Errorf("quarantined events = %d, want 1", got)
	}
}

func TestPipelineQuarantinesFailedTranscription(t *testing.T) {
	stt := &sttmock.Provider{FailSegments: map[uint64]bool{2: true}, Default: "ok"}
	fx := newPipelineFixture(t, stt, &codecmock.Encoder{})

	for id := uint64(1); id <= 3; id++ {
		fx.pipeline.Process(context.Background(), testSegment(id, 2*time.Second))
	}
	report, err := fx.pipeline.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if report.RecordsWritten != 2 || report.Quarantined != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestPipelineAppliesCorrector(t *testing.T) {
	stt := &sttmock.Provider{Default: "stored in graffana now"}
	fx := newPipelineFixture(t, stt, &codecmock.Encoder{}, func(d *PipelineDeps) {
		d.Corrector = transcript.NewCorrector([]string{"Grafana"})
	})

	if err := fx.pipeline.Process(context.Background(), testSegment(1, 2*time.Second)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	report, err := fx.pipeline.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	shard := filepath.Join(fx.corpusDir, report.Shards[0].Shard)
	data, err := os.ReadFile(shard)
	if err != nil {
		t.Fatalf("read shard: %v", err)
	}
	if !containsAll(string(data), "stored in Grafana now") {
		t.Errorf("shard text not corrected: %s", data)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
