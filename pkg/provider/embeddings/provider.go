// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// An embeddings provider maps text to dense float32 vectors. The retrieval
// layer embeds each user transcript as a query and ranks stored knowledge
// passages by similarity, feeding the best matches into reply generation.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions). Vectors from different instances
// must not be mixed in one similarity computation unless both use the same
// model and space.
type Provider interface {
	// Embed computes the embedding vector for a single text. Returns a
	// float32 slice of length Dimensions(). Text is passed through verbatim;
	// any model-specific prefixing (e.g. "query: ") is the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds a slice of texts in one provider call. The result
	// has the same length and order as texts. On error the whole result is
	// nil; partial results are never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length produced by this provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier, for logging
	// and for checking that an index was built with the same model.
	ModelID() string
}
