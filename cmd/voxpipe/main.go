// Command voxpipe runs the voice interaction pipeline: it segments an audio
// stream, transcribes each utterance, and either speaks generated replies
// (conversation mode) or writes token records into a training corpus
// (dataset mode).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/lbrx/voxpipe/internal/app"
	"github.com/lbrx/voxpipe/internal/config"
	"github.com/lbrx/voxpipe/internal/dataset"
	"github.com/lbrx/voxpipe/internal/health"
	"github.com/lbrx/voxpipe/internal/observe"
	"github.com/lbrx/voxpipe/internal/orchestrator"
	"github.com/lbrx/voxpipe/internal/resilience"
	"github.com/lbrx/voxpipe/internal/segmenter"
	"github.com/lbrx/voxpipe/internal/transcript"
	"github.com/lbrx/voxpipe/pkg/audio"
	"github.com/lbrx/voxpipe/pkg/provider/codec"
	"github.com/lbrx/voxpipe/pkg/provider/codec/httpenc"
	"github.com/lbrx/voxpipe/pkg/provider/embeddings"
	ollamaembed "github.com/lbrx/voxpipe/pkg/provider/embeddings/ollama"
	oaembed "github.com/lbrx/voxpipe/pkg/provider/embeddings/openai"
	"github.com/lbrx/voxpipe/pkg/provider/llm"
	"github.com/lbrx/voxpipe/pkg/provider/llm/anyllm"
	oallm "github.com/lbrx/voxpipe/pkg/provider/llm/openai"
	"github.com/lbrx/voxpipe/pkg/provider/stt"
	oastt "github.com/lbrx/voxpipe/pkg/provider/stt/openai"
	"github.com/lbrx/voxpipe/pkg/provider/stt/whisper"
	"github.com/lbrx/voxpipe/pkg/provider/tts"
	"github.com/lbrx/voxpipe/pkg/provider/tts/coqui"
	"github.com/lbrx/voxpipe/pkg/provider/tts/elevenlabs"
	"github.com/lbrx/voxpipe/pkg/provider/vad"
	"github.com/lbrx/voxpipe/pkg/provider/vad/energy"
	"github.com/lbrx/voxpipe/pkg/retrieval"
	"github.com/lbrx/voxpipe/pkg/retrieval/postgres"
	"github.com/lbrx/voxpipe/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxpipe: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxpipe: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("voxpipe starting",
		"config", *configPath,
		"mode", cfg.Mode,
		"input", cfg.Audio.Input,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxpipe"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	switch cfg.Mode {
	case config.ModeConversation:
		err = runConversation(ctx, cfg, providers, metrics)
	case config.ModeDataset:
		err = runDataset(ctx, cfg, providers, metrics)
	default:
		err = fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Conversation mode ─────────────────────────────────────────────────────────

func runConversation(ctx context.Context, cfg *config.Config, ps *providers, metrics *observe.Metrics) error {
	if ps.STT == nil {
		return errors.New("conversation mode needs an stt provider")
	}
	if ps.TTS == nil {
		return errors.New("conversation mode needs a tts provider")
	}

	var checkers []health.Checker

	// Retrieval store (optional).
	var store *postgres.Store
	if dsn := cfg.Retrieval.PostgresDSN; dsn != "" {
		if ps.Embeddings == nil {
			return errors.New("retrieval needs an embeddings provider")
		}
		if err := postgres.CheckDimensions(ps.Embeddings, cfg.Retrieval.EmbeddingDimensions); err != nil {
			return err
		}
		var err error
		store, err = postgres.NewStore(ctx, dsn, ps.Embeddings)
		if err != nil {
			return err
		}
		defer store.Close()
		checkers = append(checkers, health.Database("retrieval", store))
		slog.Info("retrieval store connected")
	}

	outputDir := cfg.Chat.OutputDir
	if outputDir == "" {
		outputDir = "replies"
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	checkers = append(checkers, health.DirWritable("output", outputDir))

	stopHealth := startHealth(cfg, metrics, checkers...)
	defer stopHealth()

	var corrector *transcript.Corrector
	if len(cfg.Chat.Glossary) > 0 {
		corrector = transcript.NewCorrector(cfg.Chat.Glossary)
	}

	orch, err := orchestrator.New(orchestratorConfig(cfg), orchestrator.Deps{
		Transcriber: ps.STT,
		Generator:   ps.LLM,
		Synthesizer: ps.TTS,
		Retriever:   retrieverOrNil(store),
		Corrector:   corrector,
		Events:      logEvent,
		Metrics:     metrics,
	})
	if err != nil {
		return err
	}

	// Replies arrive in segment order; each one becomes a WAV file.
	var drained sync.WaitGroup
	drained.Add(1)
	go func() {
		defer drained.Done()
		for reply := range orch.Playback() {
			path := filepath.Join(outputDir, fmt.Sprintf("reply-%06d.wav", reply.SegmentID))
			wav := audio.EncodeWAV(reply.PCM, cfg.Audio.SampleRate)
			if err := os.WriteFile(path, wav, 0o644); err != nil {
				slog.Error("write reply", "path", path, "err", err)
				continue
			}
			slog.Info("reply written", "segment_id", reply.SegmentID, "path", path)
		}
	}()

	stats, runErr := runSession(ctx, cfg, ps, metrics, orch)

	report := orch.Finish()
	drained.Wait()

	slog.Info("conversation session report",
		"segments", stats.SegmentsEmitted,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"frames_dropped", stats.FramesDropped,
	)
	return runErr
}

// ── Dataset mode ──────────────────────────────────────────────────────────────

func runDataset(ctx context.Context, cfg *config.Config, ps *providers, metrics *observe.Metrics) error {
	if ps.STT == nil {
		return errors.New("dataset mode needs an stt provider")
	}
	if ps.Codec == nil {
		return errors.New("dataset mode needs a codec provider")
	}

	ds := cfg.Dataset
	if ds.Prefix == "" {
		ds.Prefix = "corpus"
	}
	if ds.MaxRecords <= 0 {
		ds.MaxRecords = 512
	}
	if ds.QuarantineDir == "" {
		ds.QuarantineDir = filepath.Join(ds.Dir, "quarantine")
	}
	if err := os.MkdirAll(ds.Dir, 0o755); err != nil {
		return fmt.Errorf("create corpus dir: %w", err)
	}

	stopHealth := startHealth(cfg, metrics,
		health.DirWritable("corpus", ds.Dir),
	)
	defer stopHealth()

	var fmtOpts []dataset.FormatterOption
	if ds.Language != "" {
		fmtOpts = append(fmtOpts, dataset.WithLanguage(ds.Language))
	}
	formatter, err := dataset.NewFormatter(ds.Speaker, fmtOpts...)
	if err != nil {
		return err
	}

	writer, err := dataset.NewWriter(dataset.WriterConfig{
		Dir:         ds.Dir,
		Prefix:      ds.Prefix,
		MaxRecords:  ds.MaxRecords,
		MaxDuration: time.Duration(ds.MaxDurationMin) * time.Minute,
	})
	if err != nil {
		return err
	}

	quarantine, err := dataset.NewQuarantine(ds.QuarantineDir)
	if err != nil {
		return err
	}

	var corrector *transcript.Corrector
	if len(cfg.Chat.Glossary) > 0 {
		corrector = transcript.NewCorrector(cfg.Chat.Glossary)
	}

	pipe, err := dataset.NewPipeline(dataset.PipelineConfig{
		TranscribeTimeout: msDuration(cfg.Pipeline.TranscribeTimeoutMs),
		EncodeTimeout:     msDuration(cfg.Pipeline.EncodeTimeoutMs),
		Retry:             retryConfig(cfg),
		Language:          ds.Language,
	}, dataset.PipelineDeps{
		Transcriber: ps.STT,
		Encoder:     ps.Codec,
		Formatter:   formatter,
		Writer:      writer,
		Quarantine:  quarantine,
		Corrector:   corrector,
		Events:      logEvent,
		Metrics:     metrics,
	})
	if err != nil {
		return err
	}

	stats, runErr := runSession(ctx, cfg, ps, metrics, pipe)

	report, closeErr := pipe.Close()
	slog.Info("dataset session report",
		"segments", stats.SegmentsEmitted,
		"records_written", report.RecordsWritten,
		"quarantined", report.Quarantined,
		"shards_sealed", len(report.Shards),
		"frames_dropped", stats.FramesDropped,
	)
	return errors.Join(runErr, closeErr)
}

// ── Session wiring ────────────────────────────────────────────────────────────

// runSession opens the configured audio source and pushes it through the
// capture session into sink.
func runSession(ctx context.Context, cfg *config.Config, ps *providers, metrics *observe.Metrics, sink app.SegmentSink) (app.Stats, error) {
	if ps.VAD == nil {
		// The energy engine needs no configuration; use it unless the config
		// named something else.
		ps.VAD = energy.New()
	}

	source, cleanup, err := openSource(cfg)
	if err != nil {
		return app.Stats{}, err
	}
	defer cleanup()

	sess, err := app.NewSession(app.Config{
		VAD:          vadConfig(cfg),
		Segmenter:    segmenterConfig(cfg),
		BufferFrames: cfg.Audio.BufferFrames,
	}, app.Deps{
		Source:  source,
		Engine:  ps.VAD,
		Sink:    sink,
		Events:  logEvent,
		Metrics: metrics,
	})
	if err != nil {
		return app.Stats{}, err
	}
	return sess.Run(ctx)
}

// openSource picks the frame source from the input file extension: Opus
// packet streams decode through gopus, everything else is treated as WAV.
func openSource(cfg *config.Config) (audio.FrameSource, func(), error) {
	rate := cfg.Audio.SampleRate
	if rate <= 0 {
		rate = 16000
	}

	if strings.EqualFold(filepath.Ext(cfg.Audio.Input), ".opus") {
		f, err := os.Open(cfg.Audio.Input)
		if err != nil {
			return nil, nil, err
		}
		src, err := audio.NewOpusSource(f, audio.OpusSourceConfig{
			SampleRate:    rate,
			FrameDuration: cfg.Audio.FrameDuration(),
		})
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return src, func() { src.Close(); f.Close() }, nil
	}

	src, err := audio.NewFileSource(audio.FileSourceConfig{
		Path:          cfg.Audio.Input,
		FrameDuration: cfg.Audio.FrameDuration(),
		SampleRate:    rate,
		// Conversation mode paces at capture speed; corpus building replays
		// as fast as the pipeline drains.
		Realtime: cfg.Mode == config.ModeConversation,
	})
	if err != nil {
		return nil, nil, err
	}
	return src, func() { src.Close() }, nil
}

// startHealth starts the diagnostics server when a listen address is
// configured. The returned stop function is safe to call either way.
func startHealth(cfg *config.Config, metrics *observe.Metrics, checkers ...health.Checker) func() {
	if cfg.Server.ListenAddr == "" {
		return func() {}
	}
	srv := health.NewServer(cfg.Server.ListenAddr, metrics, checkers...)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("health server error", "err", err)
		}
	}()
	slog.Info("health server listening", "addr", cfg.Server.ListenAddr)
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("health server shutdown error", "err", err)
		}
	}
}

// ── Config translation ────────────────────────────────────────────────────────

func vadConfig(cfg *config.Config) vad.Config {
	seg := cfg.Segmenter
	return vad.Config{
		SampleRate:       cfg.Audio.SampleRate,
		FrameDurationMs:  int(cfg.Audio.FrameDuration() / time.Millisecond),
		SpeechThreshold:  defaultFloat(seg.OpenThreshold, 0.6),
		SilenceThreshold: defaultFloat(seg.CloseThreshold, 0.4),
	}
}

func segmenterConfig(cfg *config.Config) segmenter.Config {
	seg := cfg.Segmenter
	return segmenter.Config{
		FrameDuration:  cfg.Audio.FrameDuration(),
		OpenThreshold:  defaultFloat(seg.OpenThreshold, 0.6),
		CloseThreshold: defaultFloat(seg.CloseThreshold, 0.4),
		ConfirmFrames:  defaultInt(seg.ConfirmFrames, 2),
		HangoverFrames: defaultInt(seg.HangoverFrames, 15),
		PreRoll:        msDuration(defaultInt(seg.PreRollMs, 120)),
		TrailingPad:    msDuration(defaultInt(seg.TrailingPadMs, 100)),
		MinDuration:    msDuration(defaultInt(seg.MinDurationMs, 300)),
		MaxDuration:    msDuration(defaultInt(seg.MaxDurationMs, 30000)),
	}
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		SystemPrompt: cfg.Chat.SystemPrompt,
		Voice: types.VoiceProfile{
			ID:          cfg.Chat.Voice.VoiceID,
			Provider:    cfg.Chat.Voice.Provider,
			SpeedFactor: cfg.Chat.Voice.SpeedFactor,
		},
		TopK:              cfg.Retrieval.TopK,
		HistoryDepth:      cfg.Chat.HistoryDepth,
		MaxInFlight:       int64(cfg.Pipeline.MaxInFlight),
		FallbackReply:     cfg.Chat.FallbackReply,
		TranscribeTimeout: msDuration(cfg.Pipeline.TranscribeTimeoutMs),
		RetrieveTimeout:   msDuration(cfg.Pipeline.RetrieveTimeoutMs),
		GenerateTimeout:   msDuration(cfg.Pipeline.GenerateTimeoutMs),
		SynthesizeTimeout: msDuration(cfg.Pipeline.SynthesizeTimeoutMs),
		Retry:             retryConfig(cfg),
	}
}

func retryConfig(cfg *config.Config) resilience.RetryConfig {
	return resilience.RetryConfig{
		Attempts: cfg.Pipeline.RetryAttempts,
		Backoff:  msDuration(cfg.Pipeline.RetryBackoffMs),
	}
}

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// fallbackConfig builds the group settings shared by all provider kinds,
// hooking every attempt into the provider request/error counters. Breaker
// defaults apply.
func fallbackConfig(metrics *observe.Metrics, kind string) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		Observe: func(backend string, err error) {
			ctx := context.Background()
			if err != nil {
				metrics.RecordProviderRequest(ctx, backend, kind, "error")
				metrics.RecordProviderError(ctx, backend, kind)
				return
			}
			metrics.RecordProviderRequest(ctx, backend, kind, "ok")
		},
	}
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func defaultFloat(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

// retrieverOrNil avoids a typed-nil interface when no store is configured.
func retrieverOrNil(store *postgres.Store) retrieval.Retriever {
	if store == nil {
		return nil
	}
	return store
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// providers holds the instantiated backends named in the config.
type providers struct {
	VAD        vad.Engine
	STT        stt.Provider
	LLM        llm.Provider
	TTS        tts.Provider
	Codec      codec.Encoder
	Embeddings embeddings.Provider
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(_ config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai uses the official SDK directly; the anyllm bridge covers the
	// remaining backends with a shared APIKey + BaseURL pattern.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...), nil
	})

	// ── Codec ─────────────────────────────────────────────────────────────────

	reg.RegisterCodec("http", func(entry config.ProviderEntry) (codec.Encoder, error) {
		return httpenc.New(entry.BaseURL)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})
}

// buildProviders instantiates all providers named in cfg using the registry.
// The stt, llm and tts providers are wrapped in breaker-backed fallback
// groups so configured alternates take over when a backend degrades.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*providers, error) {
	ps := &providers{}

	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		if err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		}
		ps.VAD = p
		slog.Info("provider created", "kind", "vad", "name", name)
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		group := resilience.NewSTTFallback(p, name, fallbackConfig(metrics, "stt"))
		for _, entry := range cfg.Providers.STT.Fallbacks {
			alt, err := reg.CreateSTT(entry)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, alt)
		}
		ps.STT = group
		slog.Info("provider created", "kind", "stt", "name", name,
			"fallbacks", len(cfg.Providers.STT.Fallbacks))
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		group := resilience.NewLLMFallback(p, name, fallbackConfig(metrics, "llm"))
		for _, entry := range cfg.Providers.LLM.Fallbacks {
			alt, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, alt)
		}
		ps.LLM = group
		slog.Info("provider created", "kind", "llm", "name", name,
			"fallbacks", len(cfg.Providers.LLM.Fallbacks))
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		group := resilience.NewTTSFallback(p, name, fallbackConfig(metrics, "tts"))
		for _, entry := range cfg.Providers.TTS.Fallbacks {
			alt, err := reg.CreateTTS(entry)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, alt)
		}
		ps.TTS = group
		slog.Info("provider created", "kind", "tts", "name", name,
			"fallbacks", len(cfg.Providers.TTS.Fallbacks))
	}

	if name := cfg.Providers.Codec.Name; name != "" {
		p, err := reg.CreateCodec(cfg.Providers.Codec)
		if err != nil {
			return nil, fmt.Errorf("create codec provider %q: %w", name, err)
		}
		ps.Codec = p
		slog.Info("provider created", "kind", "codec", "name", name)
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return ps, nil
}

// ── Logging ───────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// logEvent routes the structured session event stream into slog. Drops and
// quarantines warrant attention; level readings are noise below debug.
func logEvent(ev types.Event) {
	switch ev.Type {
	case types.EventAudioDropped:
		slog.Warn("audio dropped", "seq", ev.Seq, "count", ev.Count)
	case types.EventQuarantined:
		slog.Warn("segment quarantined", "segment_id", ev.SegmentID, "reason", ev.Message)
	case types.EventLevel:
		slog.Debug("capture level", "seq", ev.Seq, "rms", ev.Level)
	case types.EventAdapterError:
		slog.Warn("adapter degraded", "segment_id", ev.SegmentID, "detail", ev.Message)
	default:
		slog.Debug(ev.Type.String(),
			"segment_id", ev.SegmentID, "count", ev.Count, "message", ev.Message)
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
