// Package storage defines persistence for documents, nodes, embeddings and
// scope tags, and the optional fast vector search capability.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/bunsho/internal/models"
)

// ErrNotFound is wrapped by lookups that find nothing.
var ErrNotFound = errors.New("not found")

// ErrExists is wrapped when creating a project or topic whose name is taken.
var ErrExists = errors.New("already exists")

// DocumentStore persists documents together with their nodes.
type DocumentStore interface {
	// PutDocument replaces the document and its node set in one transaction.
	// Nodes whose full id survives keep their embeddings.
	PutDocument(ctx context.Context, doc *models.Document, nodes []*models.Node) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
}

// NodeStore reads nodes.
type NodeStore interface {
	GetNode(ctx context.Context, fullID string) (*models.Node, error)
	GetNodeByShortID(ctx context.Context, shortID string) (*models.Node, error)
	GetNodesByDocument(ctx context.Context, docID string) ([]*models.Node, error)
	// ShortIDs returns the short ids currently assigned, for collision checks.
	ShortIDs(ctx context.Context) (map[string]struct{}, error)
}

// EmbeddingStore persists vectors keyed by (full id, model).
type EmbeddingStore interface {
	PutEmbedding(ctx context.Context, e *models.Embedding) error
	GetEmbedding(ctx context.Context, fullID, model string) (*models.Embedding, error)
	DeleteEmbedding(ctx context.Context, fullID, model string) error
	// EmbeddedSet returns which of fullIDs already have a vector for model.
	EmbeddedSet(ctx context.Context, model string, fullIDs []string) (map[string]struct{}, error)
	// IterateEmbeddings calls fn with successive batches of at most batchSize
	// embeddings for model. Only one batch is held at a time. Returning an
	// error from fn stops the iteration and is returned.
	IterateEmbeddings(ctx context.Context, model string, batchSize int, fn func([]*models.Embedding) error) error
}

// ScopeStore manages projects (collections) and topics.
type ScopeStore interface {
	CreateCollection(ctx context.Context, c *models.Collection) error
	GetCollection(ctx context.Context, name string) (*models.Collection, error)
	ListCollections(ctx context.Context) ([]*models.Collection, error)
	DeleteCollection(ctx context.Context, name string) error
	AddMember(ctx context.Context, collection string, target models.Target) error
	RemoveMember(ctx context.Context, collection string, target models.Target) error
	CollectionMembers(ctx context.Context, collection string) ([]models.Target, error)

	CreateTopic(ctx context.Context, t *models.Topic) error
	GetTopic(ctx context.Context, name string) (*models.Topic, error)
	ListTopics(ctx context.Context) ([]*models.Topic, error)
	DeleteTopic(ctx context.Context, name string) error
	TagTarget(ctx context.Context, topic string, target models.Target, weight float64) error
	UntagTarget(ctx context.Context, topic string, target models.Target) error
	TopicTargets(ctx context.Context, topic string) ([]models.Target, error)
	TopicsForTarget(ctx context.Context, target models.Target) ([]models.TopicTag, error)
}

// VectorSearcher is the optional fast nearest-neighbour capability.
type VectorSearcher interface {
	VecAvailable() bool
	VecSearch(ctx context.Context, model string, query []float32, limit int) ([]models.VectorHit, error)
}

// Storage is the full persistence surface.
type Storage interface {
	DocumentStore
	NodeStore
	EmbeddingStore
	ScopeStore
	VectorSearcher

	CountDocuments(ctx context.Context) (int64, error)
	CountNodes(ctx context.Context) (int64, error)
	CountEmbeddings(ctx context.Context) (map[string]int64, error)

	Close() error
}
