// Package retrieval defines the Retriever interface for knowledge lookup.
//
// Conversational mode optionally grounds each reply in retrieved passages:
// the user transcript becomes a query, the retriever returns the closest
// knowledge passages, and the generation request carries them as context.
// Retrieval is a soft dependency; when it fails the pipeline degrades to
// answering without context rather than failing the segment.
package retrieval

import "context"

// Passage is one retrieved knowledge snippet.
type Passage struct {
	// ID uniquely identifies the passage in its store.
	ID string

	// Text is the passage content handed to generation.
	Text string

	// Source names where the passage came from (document, URL, corpus tag).
	Source string

	// Score is the similarity of this passage to the query; higher is more
	// similar. Scores are comparable only within one retriever.
	Score float64
}

// Retriever is the abstraction over any passage search backend.
//
// Search returns at most topK passages, most similar first. An empty result
// is not an error.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]Passage, error)
}
