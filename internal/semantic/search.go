package semantic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/embedding"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/scope"
	"github.com/hyperjump/bunsho/internal/storage"
	"github.com/hyperjump/bunsho/internal/vector"
)

// Strategy is the search path taken for one query.
type Strategy string

const (
	// StrategyVector asks the fast vector index for candidates.
	StrategyVector Strategy = "vector"
	// StrategyStream scans stored embeddings in batches.
	StrategyStream Strategy = "stream"
)

// SearchStore is the storage a Searcher reads.
type SearchStore interface {
	GetNode(ctx context.Context, fullID string) (*models.Node, error)
	IterateEmbeddings(ctx context.Context, model string, batchSize int, fn func([]*models.Embedding) error) error
}

// Config bounds a Searcher. BatchSize and MaxEmbeddings must be positive.
type Config struct {
	// BatchSize is the number of embeddings held per streaming page.
	BatchSize int
	// MaxEmbeddings stops a streaming scan after this many embeddings.
	MaxEmbeddings int
	// Overfetch multiplies k when candidates will be filtered afterwards.
	Overfetch int
	// QueryCacheTTL keeps query vectors for this long; zero disables caching.
	QueryCacheTTL time.Duration
}

// DefaultConfig returns the default bounds.
func DefaultConfig() Config {
	return Config{BatchSize: 1000, MaxEmbeddings: 1000000, Overfetch: 2, QueryCacheTTL: 10 * time.Minute}
}

// Hit is one semantic search result.
type Hit struct {
	Node  *models.Node
	Score float64
}

// Result is the outcome of a search.
type Result struct {
	Hits     []Hit
	Strategy Strategy
	// Scanned counts embeddings compared on the streaming path.
	Scanned int
	// Capped is set when the streaming scan stopped at MaxEmbeddings.
	Capped bool
}

// Searcher runs semantic search for the embedder's model.
type Searcher struct {
	store    SearchStore
	embedder embedding.Embedder
	vec      storage.VectorSearcher
	cfg      Config
	cache    *gocache.Cache
	logger   *zap.Logger
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Searcher) { s.logger = l }
}

// WithVectorSearcher sets the fast vector index. It is used only while it
// reports itself available.
func WithVectorSearcher(v storage.VectorSearcher) Option {
	return func(s *Searcher) { s.vec = v }
}

// NewSearcher creates a searcher.
func NewSearcher(store SearchStore, embedder embedding.Embedder, cfg Config, opts ...Option) (*Searcher, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.MaxEmbeddings <= 0 {
		return nil, fmt.Errorf("max embeddings must be positive, got %d", cfg.MaxEmbeddings)
	}
	if cfg.Overfetch < 1 {
		cfg.Overfetch = 2
	}
	s := &Searcher{store: store, embedder: embedder, cfg: cfg, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if cfg.QueryCacheTTL > 0 {
		s.cache = gocache.New(cfg.QueryCacheTTL, 2*cfg.QueryCacheTTL)
	}
	return s, nil
}

// Model returns the model searched.
func (s *Searcher) Model() string { return s.embedder.Model() }

// Strategy reports which path the next search will take.
func (s *Searcher) Strategy() Strategy {
	if s.vec != nil && s.vec.VecAvailable() {
		return StrategyVector
	}
	return StrategyStream
}

// Search embeds query and returns at most k nodes by descending cosine
// similarity that pass filter. A blank query or k <= 0 returns no hits
// without calling the embedder.
func (s *Searcher) Search(ctx context.Context, query string, k int, filter *scope.Resolved) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		return &Result{Strategy: s.Strategy()}, nil
	}
	qv, err := s.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.SearchVector(ctx, qv, k, filter)
}

// SearchVector is Search with a precomputed query vector.
func (s *Searcher) SearchVector(ctx context.Context, qv []float32, k int, filter *scope.Resolved) (*Result, error) {
	res := &Result{Strategy: s.Strategy()}
	if k <= 0 {
		return res, nil
	}

	var candidates []models.VectorHit
	if res.Strategy == StrategyVector {
		hits, err := s.vec.VecSearch(ctx, s.embedder.Model(), qv, s.cfg.Overfetch*k)
		if err != nil {
			s.logger.Warn("vector index search failed, falling back to streaming scan", zap.Error(err))
			res.Strategy = StrategyStream
		} else {
			candidates = hits
		}
	}
	if res.Strategy == StrategyStream {
		limit := k
		if filter != nil {
			limit = s.cfg.Overfetch * k
		}
		hits, scanned, capped, err := s.stream(ctx, qv, limit)
		if err != nil {
			return nil, err
		}
		candidates, res.Scanned, res.Capped = hits, scanned, capped
	}

	res.Hits = s.resolve(ctx, candidates, filter)
	sort.SliceStable(res.Hits, func(i, j int) bool { return res.Hits[i].Score > res.Hits[j].Score })
	if len(res.Hits) > k {
		res.Hits = res.Hits[:k]
	}
	return res, nil
}

var errScanCap = errors.New("scan cap reached")

// stream scans stored embeddings page by page, keeping the best limit
// candidates in a bounded heap. At most MaxEmbeddings are compared.
func (s *Searcher) stream(ctx context.Context, qv []float32, limit int) ([]models.VectorHit, int, bool, error) {
	top := vector.NewTopK(limit)
	scanned, mismatched := 0, 0
	err := s.store.IterateEmbeddings(ctx, s.embedder.Model(), s.cfg.BatchSize, func(batch []*models.Embedding) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, e := range batch {
			if scanned >= s.cfg.MaxEmbeddings {
				return errScanCap
			}
			scanned++
			score, err := vector.CosineSimilarity(qv, e.Vector)
			if err != nil {
				mismatched++
				continue
			}
			top.Push(e.FullID, score)
		}
		if scanned >= s.cfg.MaxEmbeddings {
			return errScanCap
		}
		return nil
	})
	capped := errors.Is(err, errScanCap)
	if err != nil && !capped {
		return nil, scanned, false, fmt.Errorf("scan embeddings: %w", err)
	}
	if mismatched > 0 {
		s.logger.Warn("skipped embeddings with a different dimension than the query",
			zap.String("model", s.embedder.Model()), zap.Int("skipped", mismatched), zap.Int("query_dims", len(qv)))
	}
	if capped {
		s.logger.Debug("streaming scan stopped at cap", zap.Int("max_embeddings", s.cfg.MaxEmbeddings))
	}
	return top.Sorted(), scanned, capped, nil
}

// resolve loads candidate nodes, dropping vanished ones and those outside filter.
func (s *Searcher) resolve(ctx context.Context, candidates []models.VectorHit, filter *scope.Resolved) []Hit {
	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		node, err := s.store.GetNode(ctx, c.FullID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				s.logger.Warn("node lookup failed", zap.String("full_id", c.FullID), zap.Error(err))
			} else {
				s.logger.Debug("skipping vanished node", zap.String("full_id", c.FullID))
			}
			continue
		}
		if !filter.Allows(node) {
			continue
		}
		hits = append(hits, Hit{Node: node, Score: c.Score})
	}
	return hits
}

func (s *Searcher) queryVector(ctx context.Context, query string) ([]float32, error) {
	key := s.embedder.Model() + "\x00" + query
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.([]float32), nil
		}
	}
	qv, err := embedding.EmbedOne(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if s.cache != nil {
		s.cache.Set(key, qv, gocache.DefaultExpiration)
	}
	return qv, nil
}
