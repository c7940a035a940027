// Package mock provides a deterministic embeddings.Provider for tests.
package mock

import (
	"context"
	"hash/fnv"

	"github.com/lbrx/voxpipe/pkg/provider/embeddings"
)

// Ensure Provider implements the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Provider deterministically hashes text into vectors. Identical inputs
// always map to identical vectors, so similarity tests are reproducible
// without a live model.
type Provider struct {
	// Dims is the vector length. Defaults to 8.
	Dims int

	// Err, when non-nil, fails every call.
	Err error
}

func (p *Provider) dims() int {
	if p.Dims <= 0 {
		return 8
	}
	return p.Dims
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return hashVector(text, p.dims()), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, p.dims())
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dims() }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "mock-hash" }

// hashVector spreads an FNV hash of the text across the vector components.
func hashVector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	for i := range vec {
		h := fnv.New32a()
		h.Write([]byte(text))
		h.Write([]byte{byte(i)})
		vec[i] = float32(h.Sum32()%2000)/1000 - 1 // [-1, 1)
	}
	return vec
}
