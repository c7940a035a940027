// Package mock provides a scripted retrieval.Retriever for tests.
package mock

import (
	"context"
	"sync"

	"github.com/lbrx/voxpipe/pkg/retrieval"
)

// Compile-time assertion that Retriever implements retrieval.Retriever.
var _ retrieval.Retriever = (*Retriever)(nil)

// Retriever returns a fixed passage list for every query. Safe for
// concurrent use.
type Retriever struct {
	// Passages is returned (truncated to topK) by every Search.
	Passages []retrieval.Passage

	// Err, when non-nil, fails every call.
	Err error

	mu      sync.Mutex
	queries []string
}

// Search implements retrieval.Retriever.
func (r *Retriever) Search(_ context.Context, query string, topK int) ([]retrieval.Passage, error) {
	r.mu.Lock()
	r.queries = append(r.queries, query)
	r.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}
	out := r.Passages
	if topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}

// Queries returns a copy of every query received so far.
func (r *Retriever) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.queries))
	copy(out, r.queries)
	return out
}
