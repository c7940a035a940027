package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lbrx/voxpipe/pkg/provider/stt"
	sttmock "github.com/lbrx/voxpipe/pkg/provider/stt/mock"
)

func TestFallbackGroupPrefersPrimary(t *testing.T) {
	g := NewFallbackGroup("primary", "primary", FallbackConfig{})
	g.AddFallback("secondary", "secondary")

	var used string
	err := g.Do(func(v string) error {
		used = v
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if used != "primary" {
		t.Fatalf("used = %q, want primary", used)
	}
}

func TestFallbackGroupFailsOver(t *testing.T) {
	g := NewFallbackGroup("primary", "primary", FallbackConfig{})
	g.AddFallback("secondary", "secondary")

	got, err := DoResult(g, func(v string) (string, error) {
		if v == "primary" {
			return "", errBoom
		}
		return v, nil
	})
	if err != nil {
		t.Fatalf("DoResult: %v", err)
	}
	if got != "secondary" {
		t.Fatalf("got = %q, want secondary", got)
	}
}

func TestFallbackGroupAllFailed(t *testing.T) {
	g := NewFallbackGroup("only", "only", FallbackConfig{})
	err := g.Do(func(string) error { return errBoom })
	if !errors.Is(err, ErrAllBackendsFailed) {
		t.Fatalf("err = %v, want ErrAllBackendsFailed", err)
	}
}

func TestFallbackGroupSkipsOpenBreaker(t *testing.T) {
	g := NewFallbackGroup("primary", "primary", FallbackConfig{
		Breaker: BreakerConfig{TripAfter: 1, CoolDown: time.Hour},
	})
	g.AddFallback("secondary", "secondary")

	// Trip the primary's breaker.
	g.Do(func(v string) error {
		if v == "primary" {
			return errBoom
		}
		return nil
	})

	calls := map[string]int{}
	err := g.Do(func(v string) error {
		calls[v]++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls["primary"] != 0 || calls["secondary"] != 1 {
		t.Fatalf("calls = %v, want secondary only", calls)
	}
}

func TestSTTFallbackTranscribe(t *testing.T) {
	primary := &sttmock.Provider{Err: errBoom}
	secondary := &sttmock.Provider{Default: "from secondary"}

	f := NewSTTFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("secondary", secondary)

	req := stt.Request{SegmentID: 1, PCM: make([]byte, 640), SampleRate: 16000}
	res, err := f.Transcribe(context.Background(), req)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "from secondary" {
		t.Fatalf("Text = %q", res.Text)
	}
}
