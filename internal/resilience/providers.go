package resilience

import (
	"context"

	"github.com/lbrx/voxpipe/pkg/provider/llm"
	"github.com/lbrx/voxpipe/pkg/provider/stt"
	"github.com/lbrx/voxpipe/pkg/provider/tts"
	"github.com/lbrx/voxpipe/pkg/types"
)

// STTFallback implements [stt.Provider] with failover across transcription
// backends, each behind its own breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an alternate transcription backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// Transcribe runs the request against the first healthy backend.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (*types.TranscriptResult, error) {
	return DoResult(f.group, func(p stt.Provider) (*types.TranscriptResult, error) {
		return p.Transcribe(ctx, req)
	})
}

// LLMFallback implements [llm.Provider] with failover across reply
// generators.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an alternate generation backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Complete runs the request against the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Response, error) {
	return DoResult(f.group, func(p llm.Provider) (*llm.Response, error) {
		return p.Complete(ctx, req)
	})
}

// TTSFallback implements [tts.Provider] with failover across synthesis
// backends.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an alternate synthesis backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

// Synthesize opens a synthesis stream against the first healthy backend.
// Failover covers stream setup only; once a backend has started emitting
// audio its errors surface to the consumer directly.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (<-chan []byte, error) {
	return DoResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.Synthesize(ctx, req)
	})
}

// ListVoices queries the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return DoResult(f.group, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
