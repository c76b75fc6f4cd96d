package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/bunsho/internal/models"
	"go.uber.org/zap"
)

// EmbeddingSource streams stored embeddings for a model.
type EmbeddingSource interface {
	IterateEmbeddings(ctx context.Context, model string, batchSize int, fn func([]*models.Embedding) error) error
}

// ModelIndex serves fast nearest-neighbour search for a single model from a
// VectorIndex. It satisfies the same VecAvailable/VecSearch capability as the
// sqlite-vec storage so semantic search can use either.
type ModelIndex struct {
	model  string
	index  VectorIndex
	logger *zap.Logger

	mu    sync.RWMutex
	ready bool
}

// NewModelIndex wraps index for model. The index is unavailable until Rebuild succeeds.
func NewModelIndex(model string, index VectorIndex, logger *zap.Logger) *ModelIndex {
	return &ModelIndex{model: model, index: index, logger: logger}
}

// Model returns the model the index serves.
func (m *ModelIndex) Model() string { return m.model }

// Rebuild loads every stored embedding for the model. Vectors whose length
// differs from the index dimension are skipped.
func (m *ModelIndex) Rebuild(ctx context.Context, src EmbeddingSource, batchSize int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = false
	added, skipped := 0, 0
	err := src.IterateEmbeddings(ctx, m.model, batchSize, func(batch []*models.Embedding) error {
		ids := make([]string, 0, len(batch))
		vecs := make([][]float32, 0, len(batch))
		for _, e := range batch {
			if len(e.Vector) != m.index.Dimensions() {
				skipped++
				continue
			}
			ids = append(ids, e.FullID)
			vecs = append(vecs, e.Vector)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := m.index.Add(ctx, ids, vecs); err != nil {
			return err
		}
		added += len(ids)
		return nil
	})
	if err != nil {
		return added, fmt.Errorf("rebuild vector index: %w", err)
	}
	if skipped > 0 && m.logger != nil {
		m.logger.Warn("skipped embeddings with foreign dimensions",
			zap.String("model", m.model), zap.Int("skipped", skipped))
	}
	m.ready = true
	return added, nil
}

// Put adds or replaces one vector.
func (m *ModelIndex) Put(ctx context.Context, e *models.Embedding) error {
	if e.Model != m.model {
		return nil
	}
	return m.index.Add(ctx, []string{e.FullID}, [][]float32{e.Vector})
}

// Remove drops vectors by full id.
func (m *ModelIndex) Remove(ctx context.Context, fullIDs []string) error {
	return m.index.Remove(ctx, fullIDs)
}

// VecAvailable reports whether the index has been built.
func (m *ModelIndex) VecAvailable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// VecSearch returns the nearest vectors for the query.
func (m *ModelIndex) VecSearch(ctx context.Context, model string, query []float32, limit int) ([]models.VectorHit, error) {
	if model != m.model {
		return nil, fmt.Errorf("vector index serves model %q, not %q", m.model, model)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.ready {
		return nil, fmt.Errorf("vector index for %q is not built", m.model)
	}
	return m.index.Search(ctx, query, limit)
}

// Load restores a previously saved index and marks it available. The
// caller is responsible for the file matching the stored embeddings;
// Rebuild is the safe path when in doubt.
func (m *ModelIndex) Load(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.index.Load(path); err != nil {
		return fmt.Errorf("load vector index: %w", err)
	}
	m.ready = true
	return nil
}

// Save persists the index. Nothing is written before the index is built.
func (m *ModelIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.ready {
		return nil
	}
	return m.index.Save(path)
}

// Size returns the number of vectors held.
func (m *ModelIndex) Size() int { return m.index.Size() }

// Close releases the underlying index.
func (m *ModelIndex) Close() error { return m.index.Close() }
