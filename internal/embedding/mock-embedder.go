package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/hyperjump/bunsho/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests. Each term contributes a
// fixed pseudo-random direction, so identical texts get identical vectors and
// blocks sharing terms point closer together than unrelated ones.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns a mock producing unit vectors of the given
// dimension, 384 when dimensions <= 0.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

func (e *MockEmbedder) embedText(text string) []float32 {
	terms := Terms(text)
	if len(terms) == 0 {
		terms = []string{text}
	}
	emb := make([]float32, e.dimensions)
	for _, term := range terms {
		h := HashString(term)
		for i := range emb {
			emb[i] += float32(math.Sin(float64(h*(i+1))))*0.1 + 0.01
		}
	}
	utils.NormalizeL2(emb)
	return emb
}

// Embed returns one vector per text.
func (e *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = e.embedText(text)
	}
	return embeddings, nil
}

// Model encodes the dimension so stores never mix mock sizes.
func (e *MockEmbedder) Model() string {
	return fmt.Sprintf("mock-%d", e.dimensions)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *MockEmbedder) Close() error {
	return nil
}
