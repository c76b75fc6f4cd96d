// Package indexer ingests documents into storage, the keyword index and,
// when an embedder is configured, the embedding store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hyperjump/bunsho/internal/blockid"
	"github.com/hyperjump/bunsho/internal/extract"
	"github.com/hyperjump/bunsho/internal/keyword"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/semantic"
	"github.com/hyperjump/bunsho/internal/storage"
	"go.uber.org/zap"
)

// DefaultEmbedBatchSize is the number of node texts sent to the embedder at once.
const DefaultEmbedBatchSize = 32

// VectorRemover drops vectors of deleted nodes from a fast vector index.
type VectorRemover interface {
	Remove(ctx context.Context, fullIDs []string) error
}

// Indexer ingests documents into storage, keyword index and embeddings.
type Indexer struct {
	storage      storage.Storage
	keywordIndex keyword.KeywordIndex
	embedder     *semantic.Indexer
	vectors      VectorRemover
	extractor    *extract.Extractor
	embedBatch   int
	logger       *zap.Logger

	// serializes id assignment so concurrent ingests see each other's short ids
	mu sync.Mutex
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (file ingested, document deleted, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithEmbedder enables embedding of ingested nodes.
func WithEmbedder(e *semantic.Indexer) IndexerOption {
	return func(idx *Indexer) { idx.embedder = e }
}

// WithVectorIndex sets the fast vector index that deleted nodes are removed from.
func WithVectorIndex(v VectorRemover) IndexerOption {
	return func(idx *Indexer) { idx.vectors = v }
}

// WithExtractor sets the extractor used for non-markdown files.
func WithExtractor(e *extract.Extractor) IndexerOption {
	return func(idx *Indexer) { idx.extractor = e }
}

// WithEmbedBatchSize sets how many node texts go to the embedder per call.
func WithEmbedBatchSize(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.embedBatch = n
		}
	}
}

// NewIndexer creates an indexer over store and keywordIndex.
// Without WithExtractor, IngestFile reads every file as markdown text.
func NewIndexer(store storage.Storage, keywordIndex keyword.KeywordIndex, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		storage:      store,
		keywordIndex: keywordIndex,
		embedBatch:   DefaultEmbedBatchSize,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = zap.NewNop()
	}
	return idx
}

// IngestDocument replaces a document and its nodes. Unchanged blocks keep
// their full and short ids; the keyword index is rebuilt for the document
// and new nodes are embedded when an embedder is configured.
func (idx *Indexer) IngestDocument(ctx context.Context, input *models.DocumentInput) (*models.IngestResult, error) {
	docID := input.ID
	if docID == "" {
		if input.SourcePath != "" {
			docID = blockid.DocumentID(input.SourcePath)
		} else {
			docID = uuid.New().String()
		}
	}
	raw := []byte(input.Content)

	nodes, err := idx.store(ctx, docID, input, raw)
	if err != nil {
		return nil, err
	}

	if err := idx.keywordIndex.DeleteDocument(ctx, docID); err != nil {
		return nil, fmt.Errorf("failed to clear keyword entries: %w", err)
	}
	if err := idx.keywordIndex.IndexNodes(ctx, keywordDocs(nodes)); err != nil {
		return nil, fmt.Errorf("failed to index keywords: %w", err)
	}

	res := &models.IngestResult{DocID: docID, Nodes: len(nodes)}
	if idx.embedder != nil {
		res.Embedded, err = idx.embed(ctx, nodes)
		if err != nil {
			return nil, err
		}
	}
	idx.logger.Debug("indexer document ingested",
		zap.String("doc_id", docID),
		zap.Int("nodes", res.Nodes),
		zap.Int("embedded", res.Embedded))
	return res, nil
}

// store assigns ids against a snapshot of existing short ids and writes the
// document atomically. Vectors of nodes that did not survive are dropped.
func (idx *Indexer) store(ctx context.Context, docID string, input *models.DocumentInput, raw []byte) ([]*models.Node, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	existing, err := idx.storage.ShortIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load short ids: %w", err)
	}
	prevNodes, err := idx.storage.GetNodesByDocument(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous nodes: %w", err)
	}
	previous := make(map[string]*models.Node, len(prevNodes))
	for _, n := range prevNodes {
		previous[n.FullID] = n
	}

	nodes, err := BuildNodes(docID, raw, existing, previous)
	if err != nil {
		return nil, fmt.Errorf("failed to assign ids: %w", err)
	}

	doc := &models.Document{
		ID:         docID,
		SourcePath: input.SourcePath,
		Raw:        raw,
		Metadata:   input.Metadata,
	}
	if err := idx.storage.PutDocument(ctx, doc, nodes); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	if idx.vectors != nil && len(prevNodes) > 0 {
		kept := make(map[string]struct{}, len(nodes))
		for _, n := range nodes {
			kept[n.FullID] = struct{}{}
		}
		var stale []string
		for _, n := range prevNodes {
			if _, ok := kept[n.FullID]; !ok {
				stale = append(stale, n.FullID)
			}
		}
		if len(stale) > 0 {
			if err := idx.vectors.Remove(ctx, stale); err != nil {
				return nil, fmt.Errorf("failed to remove stale vectors: %w", err)
			}
		}
	}
	return nodes, nil
}

func (idx *Indexer) embed(ctx context.Context, nodes []*models.Node) (int, error) {
	total := 0
	for start := 0; start < len(nodes); start += idx.embedBatch {
		end := start + idx.embedBatch
		if end > len(nodes) {
			end = len(nodes)
		}
		items := make([]semantic.Item, 0, end-start)
		for _, n := range nodes[start:end] {
			items = append(items, semantic.Item{FullID: n.FullID, Text: n.Body})
		}
		n, err := idx.embedder.EmbedNodesBatch(ctx, items)
		if err != nil {
			return total, fmt.Errorf("failed to embed nodes: %w", err)
		}
		total += n
	}
	return total, nil
}

// EmbedDocument embeds the nodes of an already stored document that have
// no embedding yet for the configured model.
func (idx *Indexer) EmbedDocument(ctx context.Context, docID string) (int, error) {
	if idx.embedder == nil {
		return 0, errors.New("no embedder configured")
	}
	doc, err := idx.storage.GetDocument(ctx, docID)
	if err != nil {
		return 0, err
	}
	nodes, err := BuildNodes(doc.ID, doc.Raw, nil, nil)
	if err != nil {
		return 0, err
	}
	stored, err := idx.storage.GetNodesByDocument(ctx, docID)
	if err != nil {
		return 0, err
	}
	known := make(map[string]struct{}, len(stored))
	for _, n := range stored {
		known[n.FullID] = struct{}{}
	}
	kept := nodes[:0]
	for _, n := range nodes {
		if _, ok := known[n.FullID]; ok {
			kept = append(kept, n)
		}
	}
	return idx.embed(ctx, kept)
}

func keywordDocs(nodes []*models.Node) []keyword.NodeDocument {
	docs := make([]keyword.NodeDocument, 0, len(nodes))
	for _, n := range nodes {
		docs = append(docs, keyword.NodeDocument{
			ID:      n.FullID,
			ShortID: n.ShortID,
			DocID:   n.DocID,
			Kind:    string(n.Kind),
			Title:   n.Title,
			Body:    n.Body,
		})
	}
	return docs
}

// IngestFile reads a file and ingests it. The document id is derived from the
// absolute path so re-ingesting updates the same document. If allowedExts is
// non-empty, the file's extension must be in the list (case-insensitive).
// Files already ingested with the same mtime and size are skipped.
func (idx *Indexer) IngestFile(ctx context.Context, path string, allowedExts []string) (*models.IngestResult, error) {
	idx.logger.Debug("indexer ingesting file", zap.String("path", path))
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return nil, fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	docID := blockid.DocumentID(absPath)
	if res, ok := idx.skipUnchanged(ctx, absPath, docID, info); ok {
		idx.logger.Debug("indexer skipping unchanged file", zap.String("path", absPath))
		return res, nil
	}
	text, err := idx.extractContent(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	res, err := idx.IngestDocument(ctx, &models.DocumentInput{
		ID:         docID,
		SourcePath: absPath,
		Content:    text,
		Metadata:   stampOf(absPath, info).metadata(),
	})
	if err != nil {
		return nil, err
	}
	idx.logger.Debug("indexer file ingested", zap.String("path", absPath), zap.String("doc_id", docID))
	return res, nil
}

// skipUnchanged reports whether the file is already stored with the same
// mtime and size. The keyword entries are refreshed so an index opened empty
// is repopulated from storage.
func (idx *Indexer) skipUnchanged(ctx context.Context, absPath, docID string, info os.FileInfo) (*models.IngestResult, bool) {
	doc, err := idx.storage.GetDocument(ctx, docID)
	if err != nil || doc.Metadata == nil {
		return nil, false
	}
	if storedStamp(doc.Metadata) != stampOf(absPath, info) {
		return nil, false
	}
	nodes, err := BuildNodes(doc.ID, doc.Raw, nil, nil)
	if err != nil {
		return nil, false
	}
	stored, err := idx.storage.GetNodesByDocument(ctx, docID)
	if err != nil {
		return nil, false
	}
	// short ids come from storage, bodies from the raw bytes
	byID := make(map[string]*models.Node, len(stored))
	for _, n := range stored {
		byID[n.FullID] = n
	}
	for _, n := range nodes {
		if s, ok := byID[n.FullID]; ok {
			n.ShortID = s.ShortID
		}
	}
	if err := idx.keywordIndex.IndexNodes(ctx, keywordDocs(nodes)); err != nil {
		idx.logger.Warn("indexer keyword refresh failed", zap.String("doc_id", docID), zap.Error(err))
	}
	return &models.IngestResult{DocID: docID, Nodes: len(stored), Skipped: true}, true
}

func (idx *Indexer) extractContent(path string) (string, error) {
	if idx.extractor != nil {
		return idx.extractor.Extract(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// DeleteDocument removes a document from the keyword index, the vector
// index and storage. Nodes and embeddings cascade in storage. Deleting an
// unknown document returns storage.ErrNotFound.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	idx.logger.Debug("indexer deleting document", zap.String("id", id))
	if _, err := idx.storage.GetDocument(ctx, id); err != nil {
		return err
	}
	nodes, err := idx.storage.GetNodesByDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get nodes: %w", err)
	}
	if err := idx.keywordIndex.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete from keyword index: %w", err)
	}
	if idx.vectors != nil && len(nodes) > 0 {
		ids := make([]string, len(nodes))
		for i, n := range nodes {
			ids[i] = n.FullID
		}
		if err := idx.vectors.Remove(ctx, ids); err != nil {
			return fmt.Errorf("failed to delete from vector index: %w", err)
		}
	}
	if err := idx.storage.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	idx.logger.Debug("indexer document deleted", zap.String("id", id))
	return nil
}

// DeleteFile removes the document ingested from path, if any.
func (idx *Indexer) DeleteFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	err = idx.DeleteDocument(ctx, blockid.DocumentID(absPath))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// Stats counts what is indexed. paths are summed for disk usage; vector
// availability is left for the caller, which knows the fast index in use.
func (idx *Indexer) Stats(ctx context.Context, paths ...string) (*models.Stats, error) {
	docs, err := idx.storage.CountDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	nodes, err := idx.storage.CountNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("count nodes: %w", err)
	}
	embeddings, err := idx.storage.CountEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("count embeddings: %w", err)
	}
	kwDocs, err := idx.keywordIndex.DocCount()
	if err != nil {
		return nil, fmt.Errorf("count keyword entries: %w", err)
	}
	disk, err := storage.DiskUsageBytes(paths...)
	if err != nil {
		idx.logger.Warn("disk usage unavailable", zap.Error(err))
	}
	return &models.Stats{
		Documents:   docs,
		Nodes:       nodes,
		Embeddings:  embeddings,
		KeywordDocs: kwDocs,
		DiskBytes:   disk,
	}, nil
}
