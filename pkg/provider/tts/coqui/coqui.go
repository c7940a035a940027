// Package coqui provides a local Coqui TTS-backed provider that connects to
// either a Coqui XTTS v2 server or a standard Coqui TTS server via its REST
// API. It implements the tts.Provider interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts
//     with URL query parameters; the voice catalogue comes from GET /details.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is
//     performed via POST /tts_to_audio/ with a JSON body; the voice catalogue
//     comes from GET /studio_speakers.
//
// Both servers operate in batch mode, one HTTP call per utterance. The
// response WAV is decoded and re-emitted as fixed-size PCM chunks so playback
// can start while later chunks are still copying.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/lbrx/voxpipe/pkg/audio"
	"github.com/lbrx/voxpipe/pkg/provider/tts"
	"github.com/lbrx/voxpipe/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage        = "en"
	defaultTimeout         = 30 * time.Second
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server (e.g., "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode selects the server API variant. Defaults to APIModeStandard.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// Provider implements tts.Provider backed by a Coqui TTS HTTP server.
type Provider struct {
	serverURL  string
	language   string
	apiMode    APIMode
	httpClient *http.Client
}

// New creates a Provider targeting the Coqui server at serverURL
// (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) *Provider {
	p := &Provider{
		serverURL:  serverURL,
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Synthesize performs one batch synthesis call and returns a channel that
// emits the decoded PCM in fixed-size chunks.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (<-chan []byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	wav, err := p.fetchWAV(ctx, req.Text, req.Voice.ID)
	if err != nil {
		return nil, err
	}
	pcm, _, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: decode response wav: %w", err)
	}

	audioCh := make(chan []byte, 16)
	go func() {
		defer close(audioCh)
		for off := 0; off < len(pcm); off += pcmChunkSize {
			end := off + pcmChunkSize
			if end > len(pcm) {
				end = len(pcm)
			}
			select {
			case audioCh <- pcm[off:end]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return audioCh, nil
}

// fetchWAV performs the mode-specific synthesis HTTP call.
func (p *Provider) fetchWAV(ctx context.Context, text, speaker string) ([]byte, error) {
	var httpReq *http.Request
	var err error

	switch p.apiMode {
	case APIModeXTTS:
		body, merr := json.Marshal(map[string]string{
			"text":        text,
			"speaker_wav": speaker,
			"language":    p.language,
		})
		if merr != nil {
			return nil, fmt.Errorf("coqui: marshal request: %w", merr)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(body))
		if httpReq != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}

	default: // APIModeStandard
		q := url.Values{}
		q.Set("text", text)
		if speaker != "" {
			q.Set("speaker_id", speaker)
		}
		if p.language != "" {
			q.Set("language_id", p.language)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+q.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("coqui: synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: server returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read response: %w", err)
	}
	return data, nil
}

// ListVoices returns the server's speaker catalogue, sorted by name.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	switch p.apiMode {
	case APIModeXTTS:
		return p.listStudioSpeakers(ctx)
	default:
		return p.listStandardSpeakers(ctx)
	}
}

// listStudioSpeakers queries GET /studio_speakers, which returns a JSON
// object keyed by speaker name.
func (p *Provider) listStudioSpeakers(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+studioSpeakersEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: list voices: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: list voices: unexpected status %d", resp.StatusCode)
	}

	var speakers map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&speakers); err != nil {
		return nil, fmt.Errorf("coqui: list voices decode: %w", err)
	}

	profiles := make([]types.VoiceProfile, 0, len(speakers))
	for name := range speakers {
		profiles = append(profiles, types.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
		})
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}

// listStandardSpeakers queries GET /details and extracts the speaker list of
// the loaded model, when the model is multi-speaker.
func (p *Provider) listStandardSpeakers(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+detailsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: list voices: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: list voices: unexpected status %d", resp.StatusCode)
	}

	var details struct {
		Speakers []string `json:"speakers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("coqui: list voices decode: %w", err)
	}
	if len(details.Speakers) == 0 {
		// Single-speaker model: expose the implicit default voice.
		return []types.VoiceProfile{{ID: "", Name: "default", Provider: "coqui"}}, nil
	}

	profiles := make([]types.VoiceProfile, 0, len(details.Speakers))
	for _, name := range details.Speakers {
		profiles = append(profiles, types.VoiceProfile{ID: name, Name: name, Provider: "coqui"})
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
	return profiles, nil
}
