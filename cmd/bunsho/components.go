package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/internal/embedding"
	"github.com/hyperjump/bunsho/internal/extract"
	"github.com/hyperjump/bunsho/internal/indexer"
	"github.com/hyperjump/bunsho/internal/keyword"
	"github.com/hyperjump/bunsho/internal/render"
	"github.com/hyperjump/bunsho/internal/search"
	"github.com/hyperjump/bunsho/internal/semantic"
	"github.com/hyperjump/bunsho/internal/storage"
	"github.com/hyperjump/bunsho/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Storage      *storage.SQLiteStorage
	KeywordIndex keyword.KeywordIndex
	Embedder     embedding.Embedder
	// ModelIndex is set when the memory vector backend is in use.
	ModelIndex *vector.ModelIndex
	// Vectors is the fast vector capability semantic search consults.
	Vectors storage.VectorSearcher
	Engine  *search.Engine
	Render  *render.Engine
	Indexer *indexer.Indexer

	vectorPath string
	logger     *zap.Logger
}

// Close persists the memory vector index and releases everything.
func (c *Components) Close() {
	if c.ModelIndex != nil {
		if c.vectorPath != "" {
			if err := c.ModelIndex.Save(c.vectorPath); err != nil {
				c.logger.Warn("vector index save failed", zap.String("path", c.vectorPath), zap.Error(err))
			}
		}
		_ = c.ModelIndex.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	storeOpts := []storage.Option{storage.WithLogger(logger)}
	if vector.IndexType(cfg.Storage.VectorIndexType) != vector.IndexTypeSQLiteVec {
		storeOpts = append(storeOpts, storage.WithoutVec())
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Storage: store, Vectors: store, vectorPath: cfg.Storage.VectorIndexPath, logger: logger}

	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = keywordIndex

	idxOpts := []indexer.IndexerOption{
		indexer.WithLogger(logger),
		indexer.WithExtractor(extract.NewExtractor()),
		indexer.WithEmbedBatchSize(cfg.Embedding.BatchSize),
	}
	engineOpts := []search.EngineOption{search.WithLogger(logger)}

	if cfg.Embedding.Enabled() {
		semIdx, searcher, err := c.initSemantic(cfg, logger)
		if err != nil {
			c.Close()
			return nil, err
		}
		idxOpts = append(idxOpts, indexer.WithEmbedder(semIdx))
		if c.ModelIndex != nil {
			idxOpts = append(idxOpts, indexer.WithVectorIndex(c.ModelIndex))
		}
		engineOpts = append(engineOpts, search.WithSemantic(searcher))
	}

	snippet := search.DefaultSnippetOptions()
	snippet.Width = cfg.Search.SnippetWidth
	kw := search.NewKeywordSearcher(keywordIndex,
		search.WithQueryLimits(keyword.QueryLimits{
			MaxLength:    cfg.Search.MaxQueryLength,
			MaxOrClauses: cfg.Search.MaxOrClauses,
		}),
		search.WithSnippetOptions(snippet),
		search.WithMaxScan(cfg.Search.MaxScan),
		search.WithKeywordLogger(logger),
	)
	c.Engine = search.NewEngine(store, kw, engineOpts...)
	c.Render = render.NewEngine(store, render.WithLogger(logger))
	c.Indexer = indexer.NewIndexer(store, keywordIndex, idxOpts...)
	return c, nil
}

// initSemantic opens the embedder and the configured fast vector backend.
func (c *Components) initSemantic(cfg *config.Config, logger *zap.Logger) (*semantic.Indexer, *semantic.Searcher, error) {
	embedder, err := embedding.New(embedding.Options{
		Backend:    embedding.Backend(cfg.Embedding.Backend),
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		OllamaURL:  cfg.Embedding.OllamaURL,
		ModelPath:  cfg.Embedding.ModelPath,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder

	semOpts := []semantic.IndexerOption{semantic.WithIndexerLogger(logger)}
	searchOpts := []semantic.Option{semantic.WithLogger(logger)}

	switch vector.IndexType(cfg.Storage.VectorIndexType) {
	case vector.IndexTypeSQLiteVec:
		if !c.Storage.VecAvailable() {
			logger.Warn("sqlite-vec unavailable, semantic search will stream embeddings")
		}
		searchOpts = append(searchOpts, semantic.WithVectorSearcher(c.Storage))
	case vector.IndexTypeMemory:
		mi, err := c.openModelIndex(cfg, embedder, logger)
		if err != nil {
			return nil, nil, err
		}
		if mi != nil {
			c.ModelIndex = mi
			c.Vectors = mi
			semOpts = append(semOpts, semantic.WithSink(mi))
			searchOpts = append(searchOpts, semantic.WithVectorSearcher(mi))
		}
	default:
		c.Vectors = nil
	}

	searcher, err := semantic.NewSearcher(c.Storage, embedder, semantic.Config{
		BatchSize:     cfg.Search.BatchSize,
		MaxEmbeddings: cfg.Search.MaxEmbeddings,
		Overfetch:     cfg.Search.Overfetch,
		QueryCacheTTL: cfg.Embedding.QueryCacheTTL,
	}, searchOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize semantic search: %w", err)
	}
	return semantic.NewIndexer(c.Storage, embedder, semOpts...), searcher, nil
}

// openModelIndex loads the persisted memory index or rebuilds it from
// stored embeddings. A saved file is only trusted when it holds as many
// vectors as storage does for the model; a process that stopped without
// Close, or another writer on the same database, leaves it behind. It
// returns nil when the embedder cannot report its dimension up front;
// semantic search then streams.
func (c *Components) openModelIndex(cfg *config.Config, embedder embedding.Embedder, logger *zap.Logger) (*vector.ModelIndex, error) {
	ctx := context.Background()
	dims := embedder.Dimensions()
	if dims <= 0 {
		logger.Warn("embedding dimensions unknown, memory vector index disabled",
			zap.String("model", embedder.Model()))
		return nil, nil
	}
	newIndex := func() (*vector.ModelIndex, error) {
		mem, err := vector.NewVectorIndex(string(vector.IndexTypeMemory), dims)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector index: %w", err)
		}
		return vector.NewModelIndex(embedder.Model(), mem, logger), nil
	}

	if path := cfg.Storage.VectorIndexPath; path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			mi, err := newIndex()
			if err != nil {
				return nil, err
			}
			if err := mi.Load(path); err != nil {
				logger.Warn("vector index load failed, rebuilding", zap.String("path", path), zap.Error(err))
			} else {
				stored, err := c.Storage.CountEmbeddings(ctx)
				if err != nil {
					return nil, fmt.Errorf("count embeddings: %w", err)
				}
				if stored[embedder.Model()] == int64(mi.Size()) {
					logger.Info("vector index loaded", zap.String("path", path), zap.Int("size", mi.Size()))
					return mi, nil
				}
				logger.Warn("vector index out of date, rebuilding",
					zap.String("path", path),
					zap.Int("size", mi.Size()),
					zap.Int64("stored", stored[embedder.Model()]))
			}
			_ = mi.Close()
		}
	}

	mi, err := newIndex()
	if err != nil {
		return nil, err
	}
	n, err := mi.Rebuild(ctx, c.Storage, cfg.Search.BatchSize)
	if err != nil {
		return nil, err
	}
	logger.Info("vector index rebuilt", zap.String("model", embedder.Model()), zap.Int("vectors", n))
	return mi, nil
}
