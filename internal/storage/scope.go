package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/bunsho/internal/models"
)

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CreateCollection inserts a project. Names are unique.
func (s *SQLiteStorage) CreateCollection(ctx context.Context, c *models.Collection) error {
	if c.Name == "" {
		return errors.New("collection name is required")
	}
	c.CreatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, description, created_at) VALUES (?, ?, ?)`,
		c.Name, c.Description, c.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("collection %q: %w", c.Name, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create collection %q: %w", c.Name, err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

// GetCollection returns a project by name.
func (s *SQLiteStorage) GetCollection(ctx context.Context, name string) (*models.Collection, error) {
	var c models.Collection
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM collections WHERE name = ?`, name,
	).Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("collection %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCollections returns all projects by name.
func (s *SQLiteStorage) ListCollections(ctx context.Context) ([]*models.Collection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, created_at FROM collections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Collection
	for rows.Next() {
		var c models.Collection
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DeleteCollection removes a project and its memberships.
func (s *SQLiteStorage) DeleteCollection(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name)
	return err
}

// AddMember adds a node or document to a project.
func (s *SQLiteStorage) AddMember(ctx context.Context, collection string, target models.Target) error {
	c, err := s.GetCollection(ctx, collection)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO collection_members (collection_id, target_type, target_id) VALUES (?, ?, ?)`,
		c.ID, string(target.Type), target.ID)
	return err
}

// RemoveMember removes a node or document from a project.
func (s *SQLiteStorage) RemoveMember(ctx context.Context, collection string, target models.Target) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM collection_members WHERE target_type = ? AND target_id = ?
		 AND collection_id = (SELECT id FROM collections WHERE name = ?)`,
		string(target.Type), target.ID, collection)
	return err
}

// CollectionMembers lists a project's members.
func (s *SQLiteStorage) CollectionMembers(ctx context.Context, collection string) ([]models.Target, error) {
	c, err := s.GetCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return s.targets(ctx,
		`SELECT target_type, target_id FROM collection_members WHERE collection_id = ? ORDER BY target_type, target_id`, c.ID)
}

// CreateTopic inserts a topic. Names are unique.
func (s *SQLiteStorage) CreateTopic(ctx context.Context, t *models.Topic) error {
	if t.Name == "" {
		return errors.New("topic name is required")
	}
	t.CreatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO topics (name, description, created_at) VALUES (?, ?, ?)`,
		t.Name, t.Description, t.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("topic %q: %w", t.Name, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create topic %q: %w", t.Name, err)
	}
	t.ID, _ = res.LastInsertId()
	return nil
}

// GetTopic returns a topic by name.
func (s *SQLiteStorage) GetTopic(ctx context.Context, name string) (*models.Topic, error) {
	var t models.Topic
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM topics WHERE name = ?`, name,
	).Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("topic %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTopics returns all topics by name.
func (s *SQLiteStorage) ListTopics(ctx context.Context) ([]*models.Topic, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, created_at FROM topics ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Topic
	for rows.Next() {
		var t models.Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// DeleteTopic removes a topic and its tags.
func (s *SQLiteStorage) DeleteTopic(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM topics WHERE name = ?`, name)
	return err
}

// TagTarget attaches a topic to a target, updating the weight if already tagged.
func (s *SQLiteStorage) TagTarget(ctx context.Context, topic string, target models.Target, weight float64) error {
	t, err := s.GetTopic(ctx, topic)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO topic_tags (topic_id, target_type, target_id, weight) VALUES (?, ?, ?, ?)
		 ON CONFLICT(topic_id, target_type, target_id) DO UPDATE SET weight = excluded.weight`,
		t.ID, string(target.Type), target.ID, weight)
	return err
}

// UntagTarget removes a topic from a target.
func (s *SQLiteStorage) UntagTarget(ctx context.Context, topic string, target models.Target) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM topic_tags WHERE target_type = ? AND target_id = ?
		 AND topic_id = (SELECT id FROM topics WHERE name = ?)`,
		string(target.Type), target.ID, topic)
	return err
}

// TopicTargets lists the targets tagged with topic.
func (s *SQLiteStorage) TopicTargets(ctx context.Context, topic string) ([]models.Target, error) {
	t, err := s.GetTopic(ctx, topic)
	if err != nil {
		return nil, err
	}
	return s.targets(ctx,
		`SELECT target_type, target_id FROM topic_tags WHERE topic_id = ? ORDER BY target_type, target_id`, t.ID)
}

// TopicsForTarget lists the tags on a target.
func (s *SQLiteStorage) TopicsForTarget(ctx context.Context, target models.Target) ([]models.TopicTag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.name, tt.weight FROM topic_tags tt JOIN topics t ON t.id = tt.topic_id
		 WHERE tt.target_type = ? AND tt.target_id = ? ORDER BY t.name`,
		string(target.Type), target.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.TopicTag
	for rows.Next() {
		tag := models.TopicTag{Target: target}
		if err := rows.Scan(&tag.Topic, &tag.Weight); err != nil {
			return nil, err
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) targets(ctx context.Context, query string, args ...interface{}) ([]models.Target, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Target
	for rows.Next() {
		var typ string
		var t models.Target
		if err := rows.Scan(&typ, &t.ID); err != nil {
			return nil, err
		}
		t.Type = models.TargetType(typ)
		out = append(out, t)
	}
	return out, rows.Err()
}
