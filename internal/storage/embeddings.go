package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/models"
)

// embeddedSetChunk bounds the IN list of EmbeddedSet queries.
const embeddedSetChunk = 500

func encodeVector(v []float32) ([]byte, error) {
	return sqlite_vec.SerializeFloat32(v)
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// PutEmbedding stores or replaces the vector for (FullID, Model).
func (s *SQLiteStorage) PutEmbedding(ctx context.Context, e *models.Embedding) error {
	if len(e.Vector) == 0 {
		return fmt.Errorf("embedding for %s has no dimensions", e.FullID)
	}
	blob, err := encodeVector(e.Vector)
	if err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO embeddings (full_id, model, dims, vector, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(full_id, model) DO UPDATE SET dims = excluded.dims, vector = excluded.vector,
		 created_at = excluded.created_at`,
		e.FullID, e.Model, len(e.Vector), blob, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to write embedding: %w", err)
	}
	created, err := s.putVecRow(ctx, tx, e.Model, e.FullID, blob, len(e.Vector))
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if created != nil {
		s.vecMu.Lock()
		s.vecTables[e.Model] = *created
		s.vecMu.Unlock()
	}
	return nil
}

// GetEmbedding returns the vector stored for (fullID, model).
func (s *SQLiteStorage) GetEmbedding(ctx context.Context, fullID, model string) (*models.Embedding, error) {
	var blob []byte
	e := models.Embedding{FullID: fullID, Model: model}
	err := s.db.QueryRowContext(ctx,
		`SELECT vector, created_at FROM embeddings WHERE full_id = ? AND model = ?`, fullID, model,
	).Scan(&blob, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("embedding %s/%s: %w", fullID, model, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if e.Vector, err = decodeVector(blob); err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteEmbedding removes the vector for (fullID, model).
func (s *SQLiteStorage) DeleteEmbedding(ctx context.Context, fullID, model string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE full_id = ? AND model = ?`, fullID, model); err != nil {
		return err
	}
	if t, ok := s.vecTable(model); ok {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+t.name+` WHERE full_id = ?`, fullID); err != nil {
			return fmt.Errorf("failed to delete vec row: %w", err)
		}
	}
	return tx.Commit()
}

// EmbeddedSet returns the subset of fullIDs with a stored vector for model.
func (s *SQLiteStorage) EmbeddedSet(ctx context.Context, model string, fullIDs []string) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	for start := 0; start < len(fullIDs); start += embeddedSetChunk {
		end := start + embeddedSetChunk
		if end > len(fullIDs) {
			end = len(fullIDs)
		}
		chunk := fullIDs[start:end]
		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, model)
		for _, id := range chunk {
			args = append(args, id)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		ids, err := queryStrings(ctx, s.db,
			`SELECT full_id FROM embeddings WHERE model = ? AND full_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			set[id] = struct{}{}
		}
	}
	return set, nil
}

// IterateEmbeddings pages through the embeddings of model by rowid. Each page
// is fully read and its rows closed before fn runs.
func (s *SQLiteStorage) IterateEmbeddings(ctx context.Context, model string, batchSize int, fn func([]*models.Embedding) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive: %d", batchSize)
	}
	var lastID int64
	for {
		batch, maxID, err := s.embeddingPage(ctx, model, lastID, batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		lastID = maxID
	}
}

func (s *SQLiteStorage) embeddingPage(ctx context.Context, model string, after int64, limit int) ([]*models.Embedding, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, full_id, vector, created_at FROM embeddings
		 WHERE model = ? AND id > ? ORDER BY id LIMIT ?`, model, after, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	batch := make([]*models.Embedding, 0, limit)
	var maxID int64
	for rows.Next() {
		var id int64
		var blob []byte
		e := &models.Embedding{Model: model}
		if err := rows.Scan(&id, &e.FullID, &blob, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		if e.Vector, err = decodeVector(blob); err != nil {
			return nil, 0, fmt.Errorf("embedding %s: %w", e.FullID, err)
		}
		batch = append(batch, e)
		maxID = id
	}
	return batch, maxID, rows.Err()
}

// CountEmbeddings returns the number of stored vectors per model.
func (s *SQLiteStorage) CountEmbeddings(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT model, COUNT(*) FROM embeddings GROUP BY model`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var model string
		var n int64
		if err := rows.Scan(&model, &n); err != nil {
			return nil, err
		}
		counts[model] = n
	}
	return counts, rows.Err()
}

type vecTable struct {
	name string
	dims int
}

// VecAvailable reports whether the sqlite-vec extension is loaded.
func (s *SQLiteStorage) VecAvailable() bool {
	return s.vecAvailable
}

// VecSearch returns the nearest stored vectors for model by cosine distance.
// Scores are 1 - distance, so they compare with cosine similarity.
func (s *SQLiteStorage) VecSearch(ctx context.Context, model string, query []float32, limit int) ([]models.VectorHit, error) {
	if !s.vecAvailable {
		return nil, errors.New("sqlite-vec is not available")
	}
	t, ok := s.vecTable(model)
	if !ok {
		return nil, fmt.Errorf("no vector table for model %q", model)
	}
	if len(query) != t.dims {
		return nil, fmt.Errorf("query has %d dimensions, vector table %s has %d", len(query), t.name, t.dims)
	}
	blob, err := encodeVector(query)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT full_id, distance FROM `+t.name+` WHERE embedding MATCH ? AND k = ? ORDER BY distance`,
		blob, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []models.VectorHit
	for rows.Next() {
		var h models.VectorHit
		var distance float64
		if err := rows.Scan(&h.FullID, &distance); err != nil {
			return nil, err
		}
		h.Score = 1 - distance
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *SQLiteStorage) vecTable(model string) (vecTable, bool) {
	s.vecMu.Lock()
	defer s.vecMu.Unlock()
	t, ok := s.vecTables[model]
	return t, ok
}

func (s *SQLiteStorage) loadVecTables() error {
	rows, err := s.db.Query(`SELECT model, table_name, dims FROM vec_tables`)
	if err != nil {
		return err
	}
	defer rows.Close()
	s.vecMu.Lock()
	defer s.vecMu.Unlock()
	for rows.Next() {
		var model string
		var t vecTable
		if err := rows.Scan(&model, &t.name, &t.dims); err != nil {
			return err
		}
		s.vecTables[model] = t
	}
	return rows.Err()
}

// syncVecTables brings every vec table in line with the embeddings table.
// Vectors written or deleted while the fast path was disabled, by WithoutVec
// or by a build without the extension, are applied here.
func (s *SQLiteStorage) syncVecTables(ctx context.Context) error {
	s.vecMu.Lock()
	tables := make(map[string]vecTable, len(s.vecTables))
	for model, t := range s.vecTables {
		tables[model] = t
	}
	s.vecMu.Unlock()

	for model, t := range tables {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM `+t.name+` WHERE full_id NOT IN
			 (SELECT full_id FROM embeddings WHERE model = ? AND dims = ?)`, model, t.dims)
		if err != nil {
			return fmt.Errorf("prune %s: %w", t.name, err)
		}
		pruned, _ := res.RowsAffected()
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO `+t.name+` (full_id, embedding)
			 SELECT full_id, vector FROM embeddings
			 WHERE model = ? AND dims = ? AND full_id NOT IN (SELECT full_id FROM `+t.name+`)`, model, t.dims)
		if err != nil {
			return fmt.Errorf("backfill %s: %w", t.name, err)
		}
		added, _ := res.RowsAffected()
		if pruned > 0 || added > 0 {
			s.logger.Info("vec table resynced",
				zap.String("model", model), zap.Int64("added", added), zap.Int64("pruned", pruned))
		}
	}
	return nil
}

// putVecRow mirrors a vector into the model's vec0 table, creating it on
// first use; a newly created table is returned for registration after
// commit. A dimension change for a model leaves the vec table untouched and
// search for that model falls back to scanning.
func (s *SQLiteStorage) putVecRow(ctx context.Context, tx *sql.Tx, model, fullID string, blob []byte, dims int) (*vecTable, error) {
	if !s.vecAvailable {
		return nil, nil
	}
	var created *vecTable
	t, ok := s.vecTable(model)
	if !ok {
		var err error
		if t, err = s.createVecTable(ctx, tx, model, dims); err != nil {
			return nil, err
		}
		created = &t
	}
	if t.dims != dims {
		s.logger.Warn("vector dimensions differ from vec table, skipping fast index",
			zap.String("model", model), zap.Int("dims", dims), zap.Int("table_dims", t.dims))
		return created, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+t.name+` WHERE full_id = ?`, fullID); err != nil {
		return nil, fmt.Errorf("failed to replace vec row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO `+t.name+` (full_id, embedding) VALUES (?, ?)`, fullID, blob); err != nil {
		return nil, fmt.Errorf("failed to write vec row: %w", err)
	}
	return created, nil
}

func (s *SQLiteStorage) createVecTable(ctx context.Context, tx *sql.Tx, model string, dims int) (vecTable, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM vec_tables`).Scan(&n); err != nil {
		return vecTable{}, err
	}
	t := vecTable{name: fmt.Sprintf("vec_embeddings_%d", n+1), dims: dims}
	ddl := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
		full_id TEXT PRIMARY KEY,
		embedding float[%d] distance_metric=cosine
	)`, t.name, dims)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return vecTable{}, fmt.Errorf("failed to create vec table: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vec_tables (model, table_name, dims) VALUES (?, ?, ?)`, model, t.name, dims); err != nil {
		return vecTable{}, err
	}
	return t, nil
}

func (s *SQLiteStorage) deleteVecRows(ctx context.Context, tx *sql.Tx, fullIDs []string) error {
	if !s.vecAvailable {
		return nil
	}
	s.vecMu.Lock()
	tables := make([]string, 0, len(s.vecTables))
	for _, t := range s.vecTables {
		tables = append(tables, t.name)
	}
	s.vecMu.Unlock()
	for _, name := range tables {
		for _, id := range fullIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+name+` WHERE full_id = ?`, id); err != nil {
				return fmt.Errorf("failed to delete vec row: %w", err)
			}
		}
	}
	return nil
}
