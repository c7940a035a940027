package postgres_test

import (
	"context"
	"os"
	"testing"

	embmock "github.com/lbrx/voxpipe/pkg/provider/embeddings/mock"
	"github.com/lbrx/voxpipe/pkg/retrieval"
	"github.com/lbrx/voxpipe/pkg/retrieval/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXPIPE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXPIPE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXPIPE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()
	store, err := postgres.NewStore(ctx, testDSN(t), &embmock.Provider{Dims: 8})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestCheckDimensions(t *testing.T) {
	emb := &embmock.Provider{Dims: 8}
	if err := postgres.CheckDimensions(emb, 8); err != nil {
		t.Errorf("matching dimensions rejected: %v", err)
	}
	if err := postgres.CheckDimensions(emb, 0); err != nil {
		t.Errorf("unconfigured expectation rejected: %v", err)
	}
	if err := postgres.CheckDimensions(emb, 1536); err == nil {
		t.Error("8-dimensional embedder accepted against a 1536 expectation")
	}
}

func TestIndexAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	passages := []retrieval.Passage{
		{ID: "p1", Text: "shards are sealed when the rotation threshold is reached", Source: "ops-guide"},
		{ID: "p2", Text: "the kitchen closes at ten", Source: "faq"},
		{ID: "p3", Text: "sealed shards carry a manifest with a checksum", Source: "ops-guide"},
	}
	if err := store.IndexBatch(ctx, passages); err != nil {
		t.Fatalf("IndexBatch: %v", err)
	}

	// Identical text embeds identically in the mock, so the exact passage
	// must come back first.
	got, err := store.Search(ctx, passages[2].Text, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("no results")
	}
	if got[0].ID != "p3" {
		t.Errorf("top result = %q, want p3", got[0].ID)
	}
	if got[0].Source != "ops-guide" {
		t.Errorf("Source = %q", got[0].Source)
	}
}

func TestIndexPassageUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := retrieval.Passage{ID: "dup", Text: "first version"}
	if err := store.IndexPassage(ctx, p); err != nil {
		t.Fatalf("IndexPassage: %v", err)
	}
	p.Text = "second version"
	if err := store.IndexPassage(ctx, p); err != nil {
		t.Fatalf("IndexPassage (upsert): %v", err)
	}

	got, err := store.Search(ctx, "second version", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Text != "second version" {
		t.Errorf("results = %+v", got)
	}
}

func TestSearchZeroTopK(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Search(context.Background(), "anything", 0)
	if err != nil || got != nil {
		t.Errorf("Search(topK=0) = (%v, %v), want (nil, nil)", got, err)
	}
}
