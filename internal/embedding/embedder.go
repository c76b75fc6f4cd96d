// Package embedding provides the Embedder contract and its backends: a
// deterministic mock, an Ollama HTTP client and an ONNX runtime model.
package embedding

import (
	"context"
	"fmt"
	"strings"
)

// Embedder produces vector embeddings for text. Embed returns one vector per
// input text in the same order. Dimensions is a hint and may be 0 when the
// backend does not know it before the first call.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimensions() int
	Close() error
}

// Backend names a configured embedder implementation.
type Backend string

const (
	BackendMock   Backend = "mock"
	BackendOllama Backend = "ollama"
	BackendONNX   Backend = "onnx"
)

// Options configures New.
type Options struct {
	Backend    Backend
	Model      string
	Dimensions int
	OllamaURL  string
	ModelPath  string
	MaxTokens  int
	CacheSize  int
}

// New builds the embedder selected by opts.Backend. Model-backed embedders
// are wrapped in a CachedEmbedder of opts.CacheSize vectors.
func New(opts Options) (Embedder, error) {
	switch Backend(strings.ToLower(string(opts.Backend))) {
	case BackendMock, "":
		return NewMockEmbedder(opts.Dimensions), nil
	case BackendOllama:
		return NewCachedEmbedder(NewOllamaEmbedder(opts.OllamaURL, opts.Model, opts.Dimensions), opts.CacheSize), nil
	case BackendONNX:
		e, err := NewONNXEmbedder(opts.Model, opts.ModelPath, opts.Dimensions, opts.MaxTokens)
		if err != nil {
			return nil, err
		}
		return NewCachedEmbedder(e, opts.CacheSize), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend: %s (supported: mock, ollama, onnx)", opts.Backend)
	}
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}
