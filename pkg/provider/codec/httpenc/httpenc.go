// Package httpenc provides a codec.Encoder backed by an HTTP encode server.
//
// The server wraps a Mimi-style neural codec and exposes a single endpoint,
// POST /encode, accepting a WAV upload as multipart/form-data and returning
// the token streams as JSON:
//
//	{
//	  "frame_rate": 12.5,
//	  "semantic_tokens": [17, 433, ...],
//	  "acoustic_tokens": [[5, 99, 1001, ...], ...]
//	}
package httpenc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/lbrx/voxpipe/pkg/audio"
	"github.com/lbrx/voxpipe/pkg/provider/codec"
)

const defaultTimeout = 60 * time.Second

// Compile-time assertion that Encoder implements codec.Encoder.
var _ codec.Encoder = (*Encoder)(nil)

// Option is a functional option for configuring an Encoder.
type Option func(*Encoder)

// WithHTTPClient replaces the default HTTP client (60 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(e *Encoder) { e.httpClient = c }
}

// Encoder implements codec.Encoder against an HTTP encode server. Safe for
// concurrent use.
type Encoder struct {
	serverURL  string
	httpClient *http.Client
}

// New creates an Encoder targeting the encode server at serverURL.
func New(serverURL string, opts ...Option) (*Encoder, error) {
	if serverURL == "" {
		return nil, errors.New("httpenc: serverURL must not be empty")
	}
	e := &Encoder{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// encodeResponse mirrors the server's JSON body.
type encodeResponse struct {
	FrameRate      float64   `json:"frame_rate"`
	SemanticTokens []int32   `json:"semantic_tokens"`
	AcousticTokens [][]int32 `json:"acoustic_tokens"`
}

// Encode uploads the request PCM as WAV and returns the token streams. A
// response whose streams are misaligned is rejected here, before it can reach
// the dataset pipeline.
func (e *Encoder) Encode(ctx context.Context, req codec.Request) (*codec.TokenStream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("httpenc: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(req.PCM, req.SampleRate)); err != nil {
		return nil, fmt.Errorf("httpenc: write wav data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("httpenc: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+"/encode", &body)
	if err != nil {
		return nil, fmt.Errorf("httpenc: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("httpenc: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpenc: server returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpenc: read response body: %w", err)
	}

	var result encodeResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("httpenc: parse JSON response: %w", err)
	}

	stream := &codec.TokenStream{
		Semantic:  result.SemanticTokens,
		Acoustic:  result.AcousticTokens,
		FrameRate: result.FrameRate,
	}
	if !stream.Aligned() {
		return nil, fmt.Errorf("httpenc: server returned %d semantic but %d acoustic frames",
			len(stream.Semantic), len(stream.Acoustic))
	}
	return stream, nil
}
