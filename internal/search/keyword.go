package search

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/keyword"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/scope"
)

// defaultMaxScan bounds how many index hits a scoped query pages through.
const defaultMaxScan = 1000

// KeywordSearcher validates queries, runs them against the keyword index and
// decorates hits with snippets.
type KeywordSearcher struct {
	index   keyword.KeywordIndex
	limits  keyword.QueryLimits
	snippet SnippetOptions
	maxScan int
	logger  *zap.Logger
}

// KeywordOption configures a KeywordSearcher.
type KeywordOption func(*KeywordSearcher)

// WithQueryLimits overrides the query length and OR-clause caps.
func WithQueryLimits(l keyword.QueryLimits) KeywordOption {
	return func(s *KeywordSearcher) { s.limits = l }
}

// WithSnippetOptions overrides snippet generation.
func WithSnippetOptions(o SnippetOptions) KeywordOption {
	return func(s *KeywordSearcher) { s.snippet = o }
}

// WithMaxScan bounds the hits examined for a scoped query.
func WithMaxScan(n int) KeywordOption {
	return func(s *KeywordSearcher) {
		if n > 0 {
			s.maxScan = n
		}
	}
}

// WithKeywordLogger sets the logger.
func WithKeywordLogger(l *zap.Logger) KeywordOption {
	return func(s *KeywordSearcher) { s.logger = l }
}

// NewKeywordSearcher creates a searcher over index.
func NewKeywordSearcher(index keyword.KeywordIndex, opts ...KeywordOption) *KeywordSearcher {
	s := &KeywordSearcher{
		index:   index,
		limits:  keyword.DefaultLimits,
		snippet: DefaultSnippetOptions(),
		maxScan: defaultMaxScan,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Search returns up to k nodes matching raw, best first. A blank query
// returns an empty list. Invalid queries fail with an error wrapping
// keyword.ErrInvalidQuery.
func (s *KeywordSearcher) Search(ctx context.Context, raw string, k int, allowAdvanced bool, filter *scope.Resolved) ([]*models.SearchResult, error) {
	results := []*models.SearchResult{}
	if strings.TrimSpace(raw) == "" || k <= 0 {
		return results, nil
	}
	prepared, err := s.limits.Prepare(raw, allowAdvanced)
	if err != nil {
		return nil, err
	}
	_, terms, err := keyword.Compile(prepared)
	if err != nil {
		return nil, err
	}

	page := k
	if filter != nil {
		page = 2 * k
		if page < 50 {
			page = 50
		}
	}
	for offset := 0; len(results) < k && offset < s.maxScan; offset += page {
		hits, err := s.index.Search(ctx, prepared, page, offset)
		if err != nil {
			return nil, fmt.Errorf("keyword search: %w", err)
		}
		for _, h := range hits {
			if !filter.Allows(&models.Node{FullID: h.ID, DocID: h.DocID}) {
				continue
			}
			text := h.Body
			if text == "" {
				text = h.Title
			}
			results = append(results, &models.SearchResult{
				FullID:  h.ID,
				ShortID: h.ShortID,
				DocID:   h.DocID,
				Kind:    models.NodeKind(h.Kind),
				Title:   h.Title,
				Score:   h.Score,
				Snippet: Snippet(text, terms, s.snippet),
				Rank:    len(results) + 1,
			})
			if len(results) == k {
				break
			}
		}
		if len(hits) < page {
			break
		}
	}
	s.logger.Debug("keyword search",
		zap.String("query", prepared), zap.Int("k", k), zap.Int("results", len(results)))
	return results, nil
}
