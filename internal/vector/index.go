package vector

import (
	"context"

	"github.com/hyperjump/bunsho/internal/models"
)

// VectorIndex defines vector storage and similarity search keyed by node full id.
type VectorIndex interface {
	// Add inserts or replaces vectors.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]models.VectorHit, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Close() error
}
