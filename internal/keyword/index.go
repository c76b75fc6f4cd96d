// Package keyword provides the full-text node index and the query
// validation layer in front of it.
package keyword

import (
	"context"
)

// NodeDocument is the indexed form of a node.
type NodeDocument struct {
	ID      string `json:"id"`
	ShortID string `json:"short_id"`
	DocID   string `json:"doc_id"`
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

// KeywordIndex defines keyword search operations over nodes keyed by full id.
type KeywordIndex interface {
	IndexNodes(ctx context.Context, docs []NodeDocument) error
	// Search runs a query already normalized by PrepareQuery. Results are
	// ordered by score descending, then id.
	Search(ctx context.Context, query string, limit, offset int) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	// DeleteDocument removes every node of a document.
	DeleteDocument(ctx context.Context, docID string) error
	Close() error
	// DocCount returns the total number of indexed nodes.
	DocCount() (uint64, error)
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID      string
	ShortID string
	DocID   string
	Kind    string
	Title   string
	Body    string
	Score   float64
}
