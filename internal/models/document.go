// Package models defines the documents, nodes, embeddings, scope tags and
// search results shared by storage, search and rendering.
package models

import "time"

// Document is the raw source of a set of nodes. Raw is stored verbatim and
// never rewritten; re-ingestion replaces the document and all its nodes.
type Document struct {
	ID         string                 `json:"id" db:"id"`
	SourcePath string                 `json:"source_path" db:"source_path"`
	Raw        []byte                 `json:"-" db:"raw"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at" db:"updated_at"`
}

// NodeKind is the block type of a node.
type NodeKind string

const (
	KindHeading   NodeKind = "heading"
	KindParagraph NodeKind = "paragraph"
	KindCodeBlock NodeKind = "codeblock"
)

// Valid reports whether k is a known node kind.
func (k NodeKind) Valid() bool {
	switch k {
	case KindHeading, KindParagraph, KindCodeBlock:
		return true
	}
	return false
}

// Node is one addressable block of a document. Start and End are half-open
// byte offsets into the owning document's Raw bytes.
type Node struct {
	FullID   string   `json:"full_id" db:"full_id"`
	ShortID  string   `json:"short_id" db:"short_id"`
	Nonce    int      `json:"-" db:"nonce"`
	DocID    string   `json:"doc_id" db:"doc_id"`
	Kind     NodeKind `json:"kind" db:"kind"`
	Title    string   `json:"title,omitempty" db:"title"`
	Level    int      `json:"level,omitempty" db:"level"`
	Language string   `json:"language,omitempty" db:"language"`
	Start    int      `json:"start" db:"start"`
	End      int      `json:"end" db:"end"`
	// Parent is the full id of the enclosing heading, empty for top of document.
	Parent   string `json:"parent,omitempty" db:"parent_id"`
	Position int    `json:"position" db:"position"`
	// Body is the searchable text of the node; not persisted.
	Body string `json:"-" db:"-"`
}

// Len returns the node's byte length.
func (n *Node) Len() int { return n.End - n.Start }

// Contains reports whether n's range strictly contains other's.
func (n *Node) Contains(other *Node) bool {
	return n.Start <= other.Start && other.End <= n.End && n.Len() > other.Len()
}

// Embedding is one stored vector for a node under a model.
type Embedding struct {
	FullID    string    `json:"full_id" db:"full_id"`
	Model     string    `json:"model" db:"model"`
	Vector    []float32 `json:"-" db:"vector"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DocumentInput is the input for ingesting a document.
type DocumentInput struct {
	ID         string                 `json:"id,omitempty" validate:"omitempty,max=256"`
	SourcePath string                 `json:"source_path,omitempty" validate:"omitempty,max=4096"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// IngestResult reports what an ingestion did.
type IngestResult struct {
	DocID    string `json:"doc_id"`
	Nodes    int    `json:"nodes"`
	Embedded int    `json:"embedded"`
	// Skipped is set when an unchanged file was not re-ingested.
	Skipped bool `json:"skipped,omitempty"`
}
