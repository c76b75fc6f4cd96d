// Package semantic embeds nodes and runs nearest-neighbour search over their
// stored vectors, through a fast vector index when one is available and a
// bounded streaming scan otherwise.
package semantic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/embedding"
	"github.com/hyperjump/bunsho/internal/models"
)

// EmbeddingStore is the storage an Indexer writes to.
type EmbeddingStore interface {
	PutEmbedding(ctx context.Context, e *models.Embedding) error
	EmbeddedSet(ctx context.Context, model string, fullIDs []string) (map[string]struct{}, error)
}

// Sink receives every stored embedding, e.g. an in-memory vector index.
type Sink interface {
	Put(ctx context.Context, e *models.Embedding) error
}

// Item is one node text to embed.
type Item struct {
	FullID string
	Text   string
}

// Indexer computes and stores node embeddings.
type Indexer struct {
	store    EmbeddingStore
	embedder embedding.Embedder
	sinks    []Sink
	logger   *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithIndexerLogger sets the logger.
func WithIndexerLogger(l *zap.Logger) IndexerOption {
	return func(i *Indexer) { i.logger = l }
}

// WithSink also sends stored embeddings to s.
func WithSink(s Sink) IndexerOption {
	return func(i *Indexer) { i.sinks = append(i.sinks, s) }
}

// NewIndexer creates an indexer writing vectors from embedder to store.
func NewIndexer(store EmbeddingStore, embedder embedding.Embedder, opts ...IndexerOption) *Indexer {
	i := &Indexer{store: store, embedder: embedder, logger: zap.NewNop()}
	for _, o := range opts {
		o(i)
	}
	if i.logger == nil {
		i.logger = zap.NewNop()
	}
	return i
}

// Model returns the embedder's model name.
func (i *Indexer) Model() string { return i.embedder.Model() }

// EmbedNode embeds and stores one node text. Blank text and embedder
// failures report false without an error; only storage failures are returned.
func (i *Indexer) EmbedNode(ctx context.Context, fullID, text string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, nil
	}
	vecs, ok := i.embed(ctx, []string{text})
	if !ok {
		return false, nil
	}
	if err := i.put(ctx, fullID, vecs[0]); err != nil {
		return false, err
	}
	return true, nil
}

// EmbedNodesBatch embeds the items that have non-blank text and no stored
// vector for the model yet, in one embedder call, and returns how many
// vectors were newly stored. An embedder failure stores nothing and is not
// an error.
func (i *Indexer) EmbedNodesBatch(ctx context.Context, items []Item) (int, error) {
	candidates := make([]Item, 0, len(items))
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Text) == "" {
			continue
		}
		if _, dup := seen[it.FullID]; dup {
			continue
		}
		seen[it.FullID] = struct{}{}
		candidates = append(candidates, it)
		ids = append(ids, it.FullID)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	done, err := i.store.EmbeddedSet(ctx, i.embedder.Model(), ids)
	if err != nil {
		return 0, fmt.Errorf("check existing embeddings: %w", err)
	}
	todo := candidates[:0]
	for _, it := range candidates {
		if _, ok := done[it.FullID]; !ok {
			todo = append(todo, it)
		}
	}
	if len(todo) == 0 {
		return 0, nil
	}

	texts := make([]string, len(todo))
	for k, it := range todo {
		texts[k] = it.Text
	}
	vecs, ok := i.embed(ctx, texts)
	if !ok {
		return 0, nil
	}

	stored := 0
	for k, it := range todo {
		if err := i.put(ctx, it.FullID, vecs[k]); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

func (i *Indexer) embed(ctx context.Context, texts []string) ([][]float32, bool) {
	vecs, err := i.embedder.Embed(ctx, texts)
	if err == nil && len(vecs) != len(texts) {
		err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	if err != nil {
		i.logger.Warn("embedding batch failed",
			zap.String("model", i.embedder.Model()), zap.Int("texts", len(texts)), zap.Error(err))
		return nil, false
	}
	for _, v := range vecs {
		if len(v) == 0 {
			i.logger.Warn("embedder returned an empty vector", zap.String("model", i.embedder.Model()))
			return nil, false
		}
	}
	return vecs, true
}

func (i *Indexer) put(ctx context.Context, fullID string, vec []float32) error {
	e := &models.Embedding{
		FullID:    fullID,
		Model:     i.embedder.Model(),
		Vector:    vec,
		CreatedAt: time.Now(),
	}
	if err := i.store.PutEmbedding(ctx, e); err != nil {
		return fmt.Errorf("store embedding for %s: %w", fullID, err)
	}
	for _, s := range i.sinks {
		if err := s.Put(ctx, e); err != nil {
			i.logger.Warn("vector index update failed", zap.String("full_id", fullID), zap.Error(err))
		}
	}
	return nil
}
