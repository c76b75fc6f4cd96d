package models

import "fmt"

const (
	DefaultK = 10
	MaxK     = 100
)

// SearchQuery is a keyword or semantic search request.
type SearchQuery struct {
	Query         string       `json:"query"`
	K             int          `json:"k,omitempty" validate:"gte=0"`
	Scope         *ScopeFilter `json:"scope,omitempty" validate:"omitempty"`
	AllowAdvanced bool         `json:"allow_advanced,omitempty"`
	Model         string       `json:"model,omitempty"`
}

// Validate normalizes K. An empty query is valid and yields no results.
func (q *SearchQuery) Validate() error {
	if q.K < 0 {
		return fmt.Errorf("k must not be negative: %d", q.K)
	}
	if q.K == 0 {
		q.K = DefaultK
	}
	if q.K > MaxK {
		q.K = MaxK
	}
	return nil
}

// RenderRequest asks for a filtered rendering of a document.
type RenderRequest struct {
	MatchedIDs     []string `json:"matched_ids"`
	Policy         string   `json:"policy,omitempty" validate:"omitempty,oneof=direct window"`
	Window         int      `json:"window,omitempty" validate:"gte=0"`
	ExpandHeadings *bool    `json:"expand_headings,omitempty"`
}
