package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/blockid"
	"github.com/hyperjump/bunsho/internal/models"
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteStorage implements Storage on SQLite. Vectors additionally go to
// per-model sqlite-vec tables when the extension is loaded.
type SQLiteStorage struct {
	db     *sql.DB
	path   string
	logger *zap.Logger

	vecAvailable bool
	vecMu        sync.Mutex
	// model -> vec table
	vecTables map[string]vecTable
}

// Option configures SQLiteStorage.
type Option func(*SQLiteStorage)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLiteStorage) {
		s.logger = l
	}
}

// WithoutVec disables the sqlite-vec fast path even when the extension loads.
func WithoutVec() Option {
	return func(s *SQLiteStorage) {
		s.vecAvailable = false
		s.vecTables = nil
	}
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. ":memory:" opens a private
// in-memory database.
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	memory := dbPath == ":memory:"
	if !memory {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStorage{db: db, path: dbPath, vecTables: make(map[string]vecTable)}
	var version string
	if err := db.QueryRow("SELECT vec_version()").Scan(&version); err == nil {
		s.vecAvailable = true
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.vecAvailable {
		if err := s.loadVecTables(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to load vector tables: %w", err)
		}
		if err := s.syncVecTables(context.Background()); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to sync vector tables: %w", err)
		}
		s.logger.Debug("sqlite-vec loaded", zap.String("version", version))
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		source_path TEXT NOT NULL DEFAULT '',
		raw BLOB NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_source_path ON documents(source_path);

	CREATE TABLE IF NOT EXISTS nodes (
		full_id TEXT PRIMARY KEY,
		short_id TEXT NOT NULL UNIQUE,
		nonce INTEGER NOT NULL DEFAULT 0,
		doc_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		level INTEGER NOT NULL DEFAULT 0,
		language TEXT NOT NULL DEFAULT '',
		start_byte INTEGER NOT NULL,
		end_byte INTEGER NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_doc_position ON nodes(doc_id, position);

	CREATE TABLE IF NOT EXISTS embeddings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		full_id TEXT NOT NULL,
		model TEXT NOT NULL,
		dims INTEGER NOT NULL,
		vector BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (full_id, model),
		FOREIGN KEY (full_id) REFERENCES nodes(full_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_model_id ON embeddings(model, id);

	CREATE TABLE IF NOT EXISTS vec_tables (
		model TEXT PRIMARY KEY,
		table_name TEXT NOT NULL UNIQUE,
		dims INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS collections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS collection_members (
		collection_id INTEGER NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		PRIMARY KEY (collection_id, target_type, target_id),
		FOREIGN KEY (collection_id) REFERENCES collections(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS topics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS topic_tags (
		topic_id INTEGER NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		weight REAL NOT NULL DEFAULT 1.0,
		PRIMARY KEY (topic_id, target_type, target_id),
		FOREIGN KEY (topic_id) REFERENCES topics(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_topic_tags_target ON topic_tags(target_type, target_id);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the database path.
func (s *SQLiteStorage) Path() string { return s.path }

const nodeColumns = `full_id, short_id, nonce, doc_id, kind, title, level, language,
	start_byte, end_byte, parent_id, position`

// PutDocument replaces the document and its nodes.
func (s *SQLiteStorage) PutDocument(ctx context.Context, doc *models.Document, nodes []*models.Node) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	raw := doc.Raw
	if raw == nil {
		raw = []byte{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `SELECT created_at FROM documents WHERE id = ?`, doc.ID).Scan(&createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		createdAt = now
	case err != nil:
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, source_path, raw, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET source_path = excluded.source_path, raw = excluded.raw,
		 metadata = excluded.metadata, updated_at = excluded.updated_at`,
		doc.ID, doc.SourcePath, raw, string(metadataJSON), createdAt, now,
	); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}

	keep := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		keep[n.FullID] = struct{}{}
	}
	old, err := queryStrings(ctx, tx, `SELECT full_id FROM nodes WHERE doc_id = ?`, doc.ID)
	if err != nil {
		return err
	}
	var stale []string
	for _, id := range old {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := s.deleteNodes(ctx, tx, stale); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO nodes (`+nodeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(full_id) DO UPDATE SET parent_id = excluded.parent_id, position = excluded.position`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, n := range nodes {
		if n.DocID != doc.ID {
			return fmt.Errorf("node %s belongs to %q, not %q", n.FullID, n.DocID, doc.ID)
		}
		if _, err := stmt.ExecContext(ctx, n.FullID, n.ShortID, n.Nonce, n.DocID, string(n.Kind), n.Title,
			n.Level, n.Language, n.Start, n.End, n.Parent, n.Position); err != nil {
			return fmt.Errorf("failed to write node %s: %w", n.FullID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	doc.CreatedAt = createdAt
	doc.UpdatedAt = now
	return nil
}

// deleteNodes removes nodes and their vec rows. Embedding rows cascade.
func (s *SQLiteStorage) deleteNodes(ctx context.Context, tx *sql.Tx, fullIDs []string) error {
	if len(fullIDs) == 0 {
		return nil
	}
	if err := s.deleteVecRows(ctx, tx, fullIDs); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM nodes WHERE full_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range fullIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	var metadataJSON sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, source_path, raw, metadata, created_at, updated_at
		 FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.SourcePath, &doc.Raw, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := decodeMetadata(metadataJSON, &doc.Metadata); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument removes a document; nodes, embeddings and vec rows go with it.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ids, err := queryStrings(ctx, tx, `SELECT full_id FROM nodes WHERE doc_id = ?`, id)
	if err != nil {
		return err
	}
	if err := s.deleteNodes(ctx, tx, ids); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListDocuments returns documents with offset and limit. Raw bytes are not loaded.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_path, metadata, created_at, updated_at
		 FROM documents ORDER BY updated_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		var metadataJSON sql.NullString
		if err := rows.Scan(&doc.ID, &doc.SourcePath, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		_ = decodeMetadata(metadataJSON, &doc.Metadata)
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func decodeMetadata(raw sql.NullString, dst *map[string]interface{}) error {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), dst); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(r rowScanner) (*models.Node, error) {
	var n models.Node
	var kind string
	if err := r.Scan(&n.FullID, &n.ShortID, &n.Nonce, &n.DocID, &kind, &n.Title, &n.Level, &n.Language,
		&n.Start, &n.End, &n.Parent, &n.Position); err != nil {
		return nil, err
	}
	n.Kind = models.NodeKind(kind)
	return &n, nil
}

// GetNode returns a node by full id.
func (s *SQLiteStorage) GetNode(ctx context.Context, fullID string) (*models.Node, error) {
	n, err := scanNode(s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE full_id = ?`, fullID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", fullID, ErrNotFound)
	}
	return n, err
}

// GetNodeByShortID returns a node by its short id. Lookup ignores case and
// folds I, L and O the way blockid.Normalize does.
func (s *SQLiteStorage) GetNodeByShortID(ctx context.Context, shortID string) (*models.Node, error) {
	id, err := blockid.Normalize(shortID)
	if err != nil || !blockid.IsShortID(id) {
		return nil, fmt.Errorf("node %s: %w", shortID, ErrNotFound)
	}
	n, err := scanNode(s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE short_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", shortID, ErrNotFound)
	}
	return n, err
}

// GetNodesByDocument returns a document's nodes in document order.
func (s *SQLiteStorage) GetNodesByDocument(ctx context.Context, docID string) ([]*models.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE doc_id = ? ORDER BY start_byte, position`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// ShortIDs returns every assigned short id.
func (s *SQLiteStorage) ShortIDs(ctx context.Context) (map[string]struct{}, error) {
	ids, err := queryStrings(ctx, s.db, `SELECT short_id FROM nodes`)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountNodes returns the total number of nodes.
func (s *SQLiteStorage) CountNodes(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func queryStrings(ctx context.Context, q querier, query string, args ...interface{}) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
