package audio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lbrx/voxpipe/pkg/types"
)

func TestFileSource_ReplaysFrames(t *testing.T) {
	// 1 second of audio at 16 kHz → 50 frames of 20 ms.
	pcm := make([]byte, 16000*2)
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := os.WriteFile(path, EncodeWAV(pcm, 16000), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := NewFileSource(FileSourceConfig{
		Path:          path,
		FrameDuration: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	defer src.Close()

	var frames []types.Frame
	for f := range src.Frames() {
		frames = append(frames, f)
	}

	if len(frames) != 50 {
		t.Fatalf("frames = %d, want 50", len(frames))
	}
	for i, f := range frames {
		if f.Seq != uint64(i) {
			t.Fatalf("frame %d has seq %d", i, f.Seq)
		}
		if f.Timestamp != time.Duration(i)*20*time.Millisecond {
			t.Fatalf("frame %d timestamp = %v", i, f.Timestamp)
		}
		if len(f.Data) != 640 { // 20 ms at 16 kHz, 2 bytes per sample
			t.Fatalf("frame %d data = %d bytes, want 640", i, len(f.Data))
		}
	}
}

func TestFileSource_Resamples(t *testing.T) {
	pcm := make([]byte, 48000*2) // 1 s at 48 kHz
	path := filepath.Join(t.TempDir(), "in48.wav")
	if err := os.WriteFile(path, EncodeWAV(pcm, 48000), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := NewFileSource(FileSourceConfig{
		Path:          path,
		FrameDuration: 20 * time.Millisecond,
		SampleRate:    16000,
	})
	if err != nil {
		t.Fatalf("NewFileSource: %v", err)
	}
	defer src.Close()

	n := 0
	for f := range src.Frames() {
		if f.SampleRate != 16000 {
			t.Fatalf("sample rate = %d, want 16000", f.SampleRate)
		}
		n++
	}
	if n != 50 {
		t.Errorf("frames = %d, want 50", n)
	}
}

func TestFileSource_InvalidConfig(t *testing.T) {
	if _, err := NewFileSource(FileSourceConfig{Path: "x.wav"}); err == nil {
		t.Error("expected error for zero frame duration")
	}
}

func TestMemorySource(t *testing.T) {
	in := []types.Frame{
		{Seq: 0, Data: []byte{0, 0}},
		{Seq: 1, Data: []byte{1, 0}},
	}
	src := NewMemorySource(in)

	var got []types.Frame
	for f := range src.Frames() {
		got = append(got, f)
	}
	if len(got) != 2 || got[1].Seq != 1 {
		t.Errorf("got %v", got)
	}
}
