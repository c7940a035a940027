// Package config provides the configuration schema, loader, and provider
// registry for the voxpipe voice pipeline.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode selects what the session does with emitted segments.
type Mode string

const (
	// ModeConversation runs transcription, retrieval-grounded generation
	// and synthesis, playing replies back in order.
	ModeConversation Mode = "conversation"

	// ModeDataset transcribes and token-encodes segments into corpus
	// shards.
	ModeDataset Mode = "dataset"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeConversation || m == ModeDataset
}

// Config is the root configuration, loaded from YAML via [Load] or
// [LoadFromReader].
type Config struct {
	Mode      Mode            `yaml:"mode"`
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Providers ProvidersConfig `yaml:"providers"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chat      ChatConfig      `yaml:"chat"`
	Dataset   DatasetConfig   `yaml:"dataset"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// ServerConfig holds the health endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health/metrics server. Empty
	// disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the capture source.
type AudioConfig struct {
	// Input is the audio file path (WAV or Opus) consumed by the session.
	Input string `yaml:"input"`

	// SampleRate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameDurationMs is the capture frame size in milliseconds. Default 20.
	FrameDurationMs int `yaml:"frame_duration_ms"`

	// BufferFrames bounds the capture ring between the reader and the
	// pipeline; when full, the oldest frame is dropped. Default 256.
	BufferFrames int `yaml:"buffer_frames"`
}

// SegmenterConfig tunes utterance boundary detection.
type SegmenterConfig struct {
	// OpenThreshold is the speech probability opening a segment. Default 0.6.
	OpenThreshold float64 `yaml:"open_threshold"`

	// CloseThreshold is the probability below which a frame counts as
	// silence. Default 0.4.
	CloseThreshold float64 `yaml:"close_threshold"`

	// ConfirmFrames is how many consecutive speech frames confirm an
	// opening. Default 2.
	ConfirmFrames int `yaml:"confirm_frames"`

	// HangoverFrames is how many consecutive silence frames close a
	// segment. Default 15.
	HangoverFrames int `yaml:"hangover_frames"`

	// PreRollMs is the audio kept from before the opening frame. Default 120.
	PreRollMs int `yaml:"pre_roll_ms"`

	// TrailingPadMs is the silence kept after the closing boundary.
	// Default 100.
	TrailingPadMs int `yaml:"trailing_pad_ms"`

	// MinDurationMs discards shorter segments. Default 300.
	MinDurationMs int `yaml:"min_duration_ms"`

	// MaxDurationMs force-closes longer segments. Default 30000.
	MaxDurationMs int `yaml:"max_duration_ms"`
}

// ProvidersConfig selects the backend for each pipeline stage by name.
type ProvidersConfig struct {
	VAD        ProviderEntry `yaml:"vad"`
	STT        ProviderEntry `yaml:"stt"`
	LLM        ProviderEntry `yaml:"llm"`
	TTS        ProviderEntry `yaml:"tts"`
	Codec      ProviderEntry `yaml:"codec"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common block shared by all provider kinds. Name
// selects the registered factory in the [Registry].
type ProviderEntry struct {
	// Name selects the implementation (e.g. "whisper", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider, when needed.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are alternate backends tried in order when this one fails.
	// Supported for the stt, llm and tts kinds.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// RetrievalConfig holds the passage store settings for grounded replies.
type RetrievalConfig struct {
	// PostgresDSN is the pgvector store connection string. Empty disables
	// retrieval.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions must match the configured embeddings model.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// TopK is how many passages ground each reply. Default 4.
	TopK int `yaml:"top_k"`
}

// ChatConfig tunes conversation mode.
type ChatConfig struct {
	// SystemPrompt seeds the reply generator.
	SystemPrompt string `yaml:"system_prompt"`

	// HistoryDepth bounds the conversation window, in turns. Default 20.
	HistoryDepth int `yaml:"history_depth"`

	// FallbackReply is spoken when generation fails.
	FallbackReply string `yaml:"fallback_reply"`

	// Voice configures the synthesis voice.
	Voice VoiceConfig `yaml:"voice"`

	// Glossary lists domain terms the transcript corrector realigns
	// garbled words against.
	Glossary []string `yaml:"glossary"`

	// OutputDir receives the synthesised reply WAV files, one per segment.
	// Default "replies".
	OutputDir string `yaml:"output_dir"`
}

// VoiceConfig specifies the synthesis voice.
type VoiceConfig struct {
	// Provider is the TTS provider name (e.g. "elevenlabs", "coqui").
	Provider string `yaml:"provider"`

	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// SpeedFactor adjusts speaking rate in [0.5, 2.0]. 0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// DatasetConfig tunes dataset mode.
type DatasetConfig struct {
	// Dir is the corpus directory.
	Dir string `yaml:"dir"`

	// Prefix names shard files. Default "corpus".
	Prefix string `yaml:"prefix"`

	// Speaker labels every record.
	Speaker string `yaml:"speaker"`

	// Language tags records and transcription requests.
	Language string `yaml:"language"`

	// MaxRecords seals a shard after this many records. Default 512.
	MaxRecords int `yaml:"max_records"`

	// MaxDurationMin seals a shard after this much accumulated audio,
	// in minutes. Zero disables the duration threshold.
	MaxDurationMin int `yaml:"max_duration_min"`

	// QuarantineDir holds rejected segments. Default "<dir>/quarantine".
	QuarantineDir string `yaml:"quarantine_dir"`
}

// PipelineConfig bounds pipeline concurrency and adapter calls.
type PipelineConfig struct {
	// MaxInFlight caps concurrently processed segments. Default 4.
	MaxInFlight int `yaml:"max_in_flight"`

	// TranscribeTimeoutMs bounds each transcription attempt. Default 15000.
	TranscribeTimeoutMs int `yaml:"transcribe_timeout_ms"`

	// RetrieveTimeoutMs bounds the retrieval query. Default 2000.
	RetrieveTimeoutMs int `yaml:"retrieve_timeout_ms"`

	// GenerateTimeoutMs bounds reply generation. Default 30000.
	GenerateTimeoutMs int `yaml:"generate_timeout_ms"`

	// SynthesizeTimeoutMs bounds each synthesis attempt. Default 30000.
	SynthesizeTimeoutMs int `yaml:"synthesize_timeout_ms"`

	// EncodeTimeoutMs bounds each token encoding attempt. Default 30000.
	EncodeTimeoutMs int `yaml:"encode_timeout_ms"`

	// RetryAttempts is the total tries per adapter call, first included.
	// Default 2.
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryBackoffMs is the wait before a retry. Default 250.
	RetryBackoffMs int `yaml:"retry_backoff_ms"`
}

// FrameDuration returns the capture frame size as a time.Duration.
func (a AudioConfig) FrameDuration() time.Duration {
	ms := a.FrameDurationMs
	if ms <= 0 {
		ms = 20
	}
	return time.Duration(ms) * time.Millisecond
}
