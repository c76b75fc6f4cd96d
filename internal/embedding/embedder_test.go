package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder(8)
	assert.Equal(t, 8, e.Dimensions())
	assert.Equal(t, "mock-8", e.Model())

	vecs, err := e.Embed(ctx, []string{"alpha", "beta", "alpha"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Len(t, vecs[0], 8)
	assert.Equal(t, vecs[0], vecs[2])
	assert.NotEqual(t, vecs[0], vecs[1])

	var sum float64
	for _, v := range vecs[0] {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestMockEmbedder_sharedTermsAreCloser(t *testing.T) {
	vecs, err := NewMockEmbedder(128).Embed(context.Background(),
		[]string{"gradient descent", "## Gradient", "bread dough"})
	require.NoError(t, err)
	dot := func(a, b []float32) float64 {
		var s float64
		for i := range a {
			s += float64(a[i]) * float64(b[i])
		}
		return s
	}
	assert.Greater(t, dot(vecs[0], vecs[1]), dot(vecs[0], vecs[2]))
}

func TestMockEmbedder_DefaultDimensions(t *testing.T) {
	assert.Equal(t, 384, NewMockEmbedder(0).Dimensions())
}

func TestNew(t *testing.T) {
	e, err := New(Options{Backend: BackendMock, Dimensions: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, e.Dimensions())

	e, err = New(Options{Backend: "OLLAMA", Model: "nomic-embed-text", Dimensions: 768})
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", e.Model())
	assert.IsType(t, &OllamaEmbedder{}, e)

	e, err = New(Options{Backend: BackendOllama, Model: "m", CacheSize: 16})
	require.NoError(t, err)
	assert.IsType(t, &CachedEmbedder{}, e)
	assert.Equal(t, "m", e.Model())

	_, err = New(Options{Backend: "word2vec"})
	assert.Error(t, err)
}

func TestEmbedOne(t *testing.T) {
	v, err := EmbedOne(context.Background(), NewMockEmbedder(3), "x")
	require.NoError(t, err)
	assert.Len(t, v, 3)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		out := embedResponse{}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL+"/", "test-model", 0)
	assert.Equal(t, 0, e.Dimensions())
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, vecs)
	assert.Equal(t, 2, e.Dimensions())

	vecs, err = e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestOllamaEmbedder_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(srv.URL, "missing", 0).Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestOllamaEmbedder_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1}}})
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(srv.URL, "m", 0).Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}
