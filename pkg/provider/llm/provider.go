// Package llm defines the Provider interface for reply-generation backends.
//
// A provider wraps a remote or local language model API (OpenAI, Anthropic,
// a local Ollama instance, and so on) behind a uniform completion call. The
// orchestrator builds one request per user utterance: the transcript, the
// recent conversation history, and any retrieved context passages.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"errors"

	"github.com/lbrx/voxpipe/pkg/types"
)

// ErrEmptyPrompt is returned when a request carries no user text.
var ErrEmptyPrompt = errors.New("llm: request contains no user text")

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and differ between providers for the same text.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
type CompletionRequest struct {
	// SystemPrompt is the high-priority instruction injected before the
	// conversation. Providers without a dedicated system slot prepend it as a
	// system-role message.
	SystemPrompt string

	// ContextPassages holds retrieved reference text, most relevant first.
	// Empty when retrieval is disabled or degraded; the model then answers
	// from the conversation alone.
	ContextPassages []string

	// History is the recent conversation, oldest first.
	History []types.Turn

	// UserText is the transcript of the utterance being answered.
	UserText string

	// Temperature controls randomness in [0.0, 2.0]. Zero uses the provider
	// default.
	Temperature float64

	// MaxTokens caps the reply length. Zero means provider default.
	MaxTokens int
}

// Validate reports structural problems with the request.
func (r CompletionRequest) Validate() error {
	if r.UserText == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// Response is a completed model reply.
type Response struct {
	// Text is the full reply.
	Text string

	// Usage contains token accounting for this request/response pair, when
	// the backend reports it.
	Usage Usage
}

// Provider is the abstraction over any reply-generation backend.
//
// Complete blocks until the reply is available, the context is cancelled, or
// the backend fails. Callers bound each call with a deadline.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Response, error)
}
