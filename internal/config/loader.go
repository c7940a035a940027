package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per kind. Unknown names are
// warned about rather than rejected, so out-of-tree factories still work.
var ValidProviderNames = map[string][]string{
	"vad":        {"energy"},
	"stt":        {"whisper", "whisper-native", "openai"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":        {"elevenlabs", "coqui"},
	"codec":      {"http"},
	"embeddings": {"openai", "ollama"},
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg for coherence, returning a joined error listing every
// failure. Suspicious-but-workable settings are logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Mode == "" {
		errs = append(errs, errors.New("mode is required; valid values: conversation, dataset"))
	} else if !cfg.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("mode %q is invalid; valid values: conversation, dataset", cfg.Mode))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.Input == "" {
		errs = append(errs, errors.New("audio.input is required"))
	}
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameDurationMs < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_duration_ms %d is invalid", cfg.Audio.FrameDurationMs))
	}

	if s := cfg.Segmenter; s.OpenThreshold != 0 || s.CloseThreshold != 0 {
		if s.CloseThreshold > s.OpenThreshold {
			errs = append(errs, fmt.Errorf("segmenter.close_threshold %.2f must not exceed open_threshold %.2f", s.CloseThreshold, s.OpenThreshold))
		}
	}
	if s := cfg.Segmenter; s.MinDurationMs > 0 && s.MaxDurationMs > 0 && s.MinDurationMs > s.MaxDurationMs {
		errs = append(errs, fmt.Errorf("segmenter.min_duration_ms %d exceeds max_duration_ms %d", s.MinDurationMs, s.MaxDurationMs))
	}

	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("codec", cfg.Providers.Codec.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt is required in every mode"))
	}

	switch cfg.Mode {
	case ModeConversation:
		if cfg.Providers.TTS.Name == "" {
			errs = append(errs, errors.New("providers.tts is required in conversation mode"))
		}
		if cfg.Providers.LLM.Name == "" {
			slog.Warn("no LLM provider configured; replies will echo the transcript")
		}
		if cfg.Retrieval.PostgresDSN == "" {
			slog.Warn("retrieval.postgres_dsn is empty; replies will not be grounded")
		} else if cfg.Providers.Embeddings.Name == "" {
			errs = append(errs, errors.New("providers.embeddings is required when retrieval.postgres_dsn is set"))
		}
		if v := cfg.Chat.Voice.SpeedFactor; v != 0 && (v < 0.5 || v > 2.0) {
			errs = append(errs, fmt.Errorf("chat.voice.speed_factor %.2f is out of range [0.5, 2.0]", v))
		}
		if cfg.Chat.Voice.Provider != "" && cfg.Providers.TTS.Name != "" && cfg.Chat.Voice.Provider != cfg.Providers.TTS.Name {
			slog.Warn("chat voice provider does not match configured TTS provider",
				"voice_provider", cfg.Chat.Voice.Provider,
				"tts_provider", cfg.Providers.TTS.Name)
		}
	case ModeDataset:
		if cfg.Providers.Codec.Name == "" {
			errs = append(errs, errors.New("providers.codec is required in dataset mode"))
		}
		if cfg.Dataset.Dir == "" {
			errs = append(errs, errors.New("dataset.dir is required in dataset mode"))
		}
		if cfg.Dataset.Speaker == "" {
			errs = append(errs, errors.New("dataset.speaker is required in dataset mode"))
		}
		if cfg.Dataset.MaxRecords < 0 || cfg.Dataset.MaxDurationMin < 0 {
			errs = append(errs, errors.New("dataset rotation thresholds must not be negative"))
		}
	}

	if cfg.Retrieval.PostgresDSN != "" && cfg.Retrieval.EmbeddingDimensions <= 0 {
		slog.Warn("retrieval.embedding_dimensions is not set; the store will probe the embeddings model")
	}

	return errors.Join(errs...)
}

// validateProviderName warns when name is non-empty and not in the known
// list for kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or out-of-tree provider",
		"kind", kind, "name", name, "known", known)
}
