// Package search runs keyword and semantic queries and shapes their results.
package search

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/markdown"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/scope"
	"github.com/hyperjump/bunsho/internal/semantic"
)

// ErrSemanticDisabled is returned for semantic queries when no embedder is configured.
var ErrSemanticDisabled = errors.New("semantic search is not configured")

// Store is the storage the engine reads for scope resolution and snippets.
type Store interface {
	scope.Store
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

// Engine is the entry point used by the server and the CLI.
type Engine struct {
	store    Store
	keyword  *KeywordSearcher
	semantic *semantic.Searcher
	snippet  SnippetOptions
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSemantic enables semantic search.
func WithSemantic(s *semantic.Searcher) EngineOption {
	return func(e *Engine) { e.semantic = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine.
func NewEngine(store Store, kw *KeywordSearcher, opts ...EngineOption) *Engine {
	e := &Engine{store: store, keyword: kw, snippet: kw.snippet, logger: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// SemanticEnabled reports whether semantic queries can run.
func (e *Engine) SemanticEnabled() bool { return e.semantic != nil }

// Search runs a keyword query.
func (e *Engine) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	filter, err := scope.Resolve(ctx, e.store, q.Scope)
	if err != nil {
		return nil, err
	}
	results, err := e.keyword.Search(ctx, q.Query, q.K, q.AllowAdvanced, filter)
	if err != nil {
		return nil, err
	}
	return &models.SearchResponse{
		Query:     q.Query,
		Mode:      "keyword",
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(startTime).Milliseconds(),
	}, nil
}

// SemanticSearch runs a semantic query.
func (e *Engine) SemanticSearch(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if e.semantic == nil {
		return nil, ErrSemanticDisabled
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	filter, err := scope.Resolve(ctx, e.store, q.Scope)
	if err != nil {
		return nil, err
	}
	res, err := e.semantic.Search(ctx, q.Query, q.K, filter)
	if err != nil {
		return nil, err
	}

	terms := queryTerms(q.Query)
	docs := map[string]*models.Document{}
	results := make([]*models.SearchResult, 0, len(res.Hits))
	for i, h := range res.Hits {
		results = append(results, &models.SearchResult{
			FullID:  h.Node.FullID,
			ShortID: h.Node.ShortID,
			DocID:   h.Node.DocID,
			Kind:    h.Node.Kind,
			Title:   h.Node.Title,
			Score:   h.Score,
			Snippet: e.nodeSnippet(ctx, docs, h.Node, terms),
			Rank:    i + 1,
		})
	}
	if res.Capped {
		e.logger.Info("semantic scan reached max embeddings", zap.Int("scanned", res.Scanned))
	}
	return &models.SearchResponse{
		Query:     q.Query,
		Mode:      "semantic",
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(startTime).Milliseconds(),
		Strategy:  string(res.Strategy),
	}, nil
}

// nodeSnippet builds a snippet from the node's stored bytes. docs caches
// documents across one response.
func (e *Engine) nodeSnippet(ctx context.Context, docs map[string]*models.Document, n *models.Node, terms []string) string {
	doc, ok := docs[n.DocID]
	if !ok {
		var err error
		doc, err = e.store.GetDocument(ctx, n.DocID)
		if err != nil {
			e.logger.Debug("snippet document unavailable", zap.String("doc_id", n.DocID), zap.Error(err))
		}
		docs[n.DocID] = doc
	}
	if doc == nil || n.Start < 0 || n.End > len(doc.Raw) || n.Start > n.End {
		return ""
	}
	block := markdown.Block{Kind: markdown.Kind(n.Kind), Start: n.Start, End: n.End, Level: n.Level, Title: n.Title}
	return Snippet(markdown.Body(doc.Raw[n.Start:n.End], block), terms, e.snippet)
}

// queryTerms splits a free-text query into highlightable words.
func queryTerms(q string) []string {
	var terms []string
	word := []rune{}
	flush := func() {
		if len(word) > 0 {
			terms = append(terms, string(word))
			word = word[:0]
		}
	}
	for _, r := range q {
		if isWordRune(r) || r == '-' || r == '.' {
			word = append(word, r)
			continue
		}
		flush()
	}
	flush()
	return terms
}
