// Package postgres provides a PostgreSQL-backed passage store and retriever
// using the pgvector extension for approximate nearest-neighbour search.
//
// The store owns a [pgxpool.Pool] and an embeddings provider: passages are
// embedded on ingest, queries are embedded on search, and similarity is
// cosine distance over an HNSW index. [Migrate] installs the extension and
// schema idempotently on every start.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, embedder)
//	_ = store.IndexPassage(ctx, retrieval.Passage{ID: "doc-1", Text: "..."})
//	passages, _ := store.Search(ctx, "what did the user ask about shards?", 4)
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/lbrx/voxpipe/pkg/provider/embeddings"
	"github.com/lbrx/voxpipe/pkg/retrieval"
)

// Compile-time assertion that Store implements retrieval.Retriever.
var _ retrieval.Retriever = (*Store)(nil)

// ddlPassages returns the schema DDL with the embedding dimension
// substituted. The dimension is baked into the column type at creation time;
// changing the embedding model later requires a manual schema update.
func ddlPassages(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS passages (
    id          TEXT         PRIMARY KEY,
    content     TEXT         NOT NULL,
    source      TEXT         NOT NULL DEFAULT '',
    embedding   vector(%d),
    indexed_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_passages_embedding
    ON passages USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Store is a passage store and retriever backed by PostgreSQL + pgvector.
// All methods are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// CheckDimensions verifies the embedder's vector size against the size the
// deployment was configured with. The vector column is sized from the
// embedder, so swapping in a model of a different width silently corrupts
// retrieval; callers that carry the expected width in configuration should
// fail fast here before opening the store. A non-positive want skips the
// check.
func CheckDimensions(embedder embeddings.Provider, want int) error {
	if want <= 0 {
		return nil
	}
	if got := embedder.Dimensions(); got != want {
		return fmt.Errorf("passage store: embedder %q produces %d-dimensional vectors, configured for %d",
			embedder.ModelID(), got, want)
	}
	return nil
}

// NewStore opens a connection pool against dsn, runs the schema migration
// sized to the embedder's dimensions, and returns the store. The caller must
// call Close when done.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("passage store: embedder must not be nil")
	}
	dims := embedder.Dimensions()
	if dims <= 0 {
		return nil, fmt.Errorf("passage store: embedder %q reports no dimensions", embedder.ModelID())
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("passage store: parse dsn: %w", err)
	}
	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("passage store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("passage store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool, embedder: embedder}, nil
}

// Migrate creates or ensures the passages schema. Idempotent and safe to
// call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlPassages(embeddingDimensions)); err != nil {
		return fmt.Errorf("passage store: migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping verifies the pool can reach the database. Readiness probes use it.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// IndexPassage embeds the passage text and upserts it. An existing passage
// with the same ID is completely replaced.
func (s *Store) IndexPassage(ctx context.Context, p retrieval.Passage) error {
	vec, err := s.embedder.Embed(ctx, p.Text)
	if err != nil {
		return fmt.Errorf("passage store: embed passage %q: %w", p.ID, err)
	}

	const q = `
		INSERT INTO passages (id, content, source, embedding, indexed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    content    = EXCLUDED.content,
		    source     = EXCLUDED.source,
		    embedding  = EXCLUDED.embedding,
		    indexed_at = EXCLUDED.indexed_at`

	if _, err := s.pool.Exec(ctx, q, p.ID, p.Text, p.Source, pgvector.NewVector(vec), time.Now()); err != nil {
		return fmt.Errorf("passage store: index passage %q: %w", p.ID, err)
	}
	return nil
}

// IndexBatch embeds and upserts several passages with one embedding call.
func (s *Store) IndexBatch(ctx context.Context, passages []retrieval.Passage) error {
	if len(passages) == 0 {
		return nil
	}
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("passage store: embed batch: %w", err)
	}

	batch := &pgx.Batch{}
	const q = `
		INSERT INTO passages (id, content, source, embedding, indexed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    content    = EXCLUDED.content,
		    source     = EXCLUDED.source,
		    embedding  = EXCLUDED.embedding,
		    indexed_at = EXCLUDED.indexed_at`
	now := time.Now()
	for i, p := range passages {
		batch.Queue(q, p.ID, p.Text, p.Source, pgvector.NewVector(vecs[i]), now)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("passage store: index batch: %w", err)
	}
	return nil
}

// Search implements retrieval.Retriever: the query is embedded and the topK
// nearest passages by cosine distance are returned, most similar first. The
// reported Score is 1 - distance, so higher means more similar.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]retrieval.Passage, error) {
	if topK <= 0 {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("passage store: embed query: %w", err)
	}

	const q = `
		SELECT id, content, source, embedding <=> $1 AS distance
		FROM   passages
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("passage store: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (retrieval.Passage, error) {
		var (
			p        retrieval.Passage
			distance float64
		)
		if err := row.Scan(&p.ID, &p.Text, &p.Source, &distance); err != nil {
			return retrieval.Passage{}, err
		}
		p.Score = 1 - distance
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("passage store: scan rows: %w", err)
	}
	return results, nil
}
