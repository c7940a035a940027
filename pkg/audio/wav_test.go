package audio

import (
	"bytes"
	"errors"
	"testing"
)

func TestWAV_RoundTrip(t *testing.T) {
	pcm := make([]byte, 3200)
	for i := 0; i < 1600; i++ {
		PutInt16At(pcm, i, int16(i%1000))
	}

	wav := EncodeWAV(pcm, 16000)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}

	got, rate, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if !bytes.Equal(got, pcm) {
		t.Error("decoded PCM differs from input")
	}
}

func TestDecodeWAV_NotWAV(t *testing.T) {
	_, _, err := DecodeWAV([]byte("definitely not a wav file, far too short anyway..."))
	if !errors.Is(err, ErrNotWAV) {
		t.Errorf("err = %v, want ErrNotWAV", err)
	}
}

func TestDecodeWAV_StereoDownmix(t *testing.T) {
	// Build a stereo WAV by hand: reuse the mono header and patch channels.
	stereoPCM := make([]byte, 8) // two stereo frames
	PutInt16At(stereoPCM, 0, 100)
	PutInt16At(stereoPCM, 1, 300)
	PutInt16At(stereoPCM, 2, -100)
	PutInt16At(stereoPCM, 3, -300)

	wav := EncodeWAV(stereoPCM, 16000)
	wav[22] = 2 // channels

	got, _, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("mono bytes = %d, want 4", len(got))
	}
	if s := Int16At(got, 0); s != 200 {
		t.Errorf("sample 0 = %d, want 200", s)
	}
	if s := Int16At(got, 1); s != -200 {
		t.Errorf("sample 1 = %d, want -200", s)
	}
}

func TestDecodeWAV_Truncated(t *testing.T) {
	pcm := make([]byte, 100)
	wav := EncodeWAV(pcm, 16000)
	_, _, err := DecodeWAV(wav[:80])
	if err == nil {
		t.Error("expected error for truncated data chunk")
	}
}
