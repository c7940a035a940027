package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func embedServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		vecs := make([][]float32, len(req.Input))
		for i := range vecs {
			vecs[i] = make([]float32, dims)
			vecs[i][0] = float32(i)
		}
		json.NewEncoder(w).Encode(embedResponse{Model: req.Model, Embeddings: vecs})
	}))
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("empty model accepted")
	}
	p, err := New("", "nomic-embed-text")
	if err != nil {
		t.Fatal(err)
	}
	if p.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %q", p.baseURL)
	}
}

func TestEmbed(t *testing.T) {
	srv := embedServer(t, 768)
	defer srv.Close()

	p, err := New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatal(err)
	}
	vec, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 768 {
		t.Errorf("len(vec) = %d, want 768", len(vec))
	}
}

func TestEmbedBatch(t *testing.T) {
	srv := embedServer(t, 4)
	defer srv.Close()

	p, err := New(srv.URL, "custom-model", WithDimensions(4))
	if err != nil {
		t.Fatal(err)
	}

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	// Server encodes the input index into component 0: order must hold.
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("vector %d out of order (component 0 = %v)", i, v[0])
		}
	}

	if vecs, err := p.EmbedBatch(context.Background(), nil); err != nil || vecs != nil {
		t.Errorf("empty batch = (%v, %v), want (nil, nil)", vecs, err)
	}
}

func TestDimensions(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"nomic-embed-text", 768},
		{"mxbai-embed-large", 1024},
		{"all-minilm", 384},
	}
	for _, tt := range tests {
		p, err := New("http://localhost:1", tt.model)
		if err != nil {
			t.Fatal(err)
		}
		if got := p.Dimensions(); got != tt.want {
			t.Errorf("Dimensions(%s) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestDimensionsProbeUnknownModel(t *testing.T) {
	srv := embedServer(t, 512)
	defer srv.Close()

	p, err := New(srv.URL, "mystery-model")
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Dimensions(); got != 512 {
		t.Errorf("probed Dimensions() = %d, want 512", got)
	}
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Embed(context.Background(), "x"); err == nil {
		t.Fatal("HTTP 503 did not surface as error")
	}
}
