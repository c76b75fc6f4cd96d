// Package scope resolves a ScopeFilter against stored projects and topics
// into a membership predicate over nodes.
package scope

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/storage"
)

var (
	// ErrUnknownProject is returned when a filter names a project that does not exist.
	ErrUnknownProject = errors.New("unknown project")
	// ErrUnknownTopic is returned when a filter names a topic that does not exist.
	ErrUnknownTopic = errors.New("unknown topic")
)

// Store is the subset of storage scope resolution reads.
type Store interface {
	GetCollection(ctx context.Context, name string) (*models.Collection, error)
	CollectionMembers(ctx context.Context, collection string) ([]models.Target, error)
	GetTopic(ctx context.Context, name string) (*models.Topic, error)
	TopicTargets(ctx context.Context, topic string) ([]models.Target, error)
}

type targetSet map[models.Target]struct{}

func (s targetSet) add(ts []models.Target) {
	for _, t := range ts {
		s[t] = struct{}{}
	}
}

// has reports whether the node itself or its document is in the set.
func (s targetSet) has(n *models.Node) bool {
	if len(s) == 0 {
		return false
	}
	if _, ok := s[models.Target{Type: models.TargetNode, ID: n.FullID}]; ok {
		return true
	}
	_, ok := s[models.Target{Type: models.TargetDocument, ID: n.DocID}]
	return ok
}

// Resolved is a filter whose names have been checked and whose target sets
// are loaded. A nil *Resolved admits everything.
type Resolved struct {
	filter   models.ScopeFilter
	members  targetSet
	included targetSet
	excluded targetSet
	shared   targetSet
}

// Resolve loads the target sets a filter refers to. Unknown project or topic
// names fail fast. A zero filter resolves to nil.
func Resolve(ctx context.Context, store Store, f *models.ScopeFilter) (*Resolved, error) {
	if f.IsZero() {
		return nil, nil
	}
	r := &Resolved{
		filter:   *f,
		members:  targetSet{},
		included: targetSet{},
		excluded: targetSet{},
		shared:   targetSet{},
	}

	if f.Project != "" {
		members, err := store.CollectionMembers(ctx, f.Project)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProject, f.Project)
		}
		if err != nil {
			return nil, fmt.Errorf("load project %s: %w", f.Project, err)
		}
		r.members.add(members)
	}

	if err := loadTopics(ctx, store, f.Topics, r.included); err != nil {
		return nil, err
	}
	if err := loadTopics(ctx, store, f.ExcludeTopics, r.excluded); err != nil {
		return nil, err
	}

	if f.IncludeShared {
		// the shared marker is implicit; a store without it simply shares nothing
		targets, err := store.TopicTargets(ctx, models.SharedTopic)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load shared topic: %w", err)
		}
		r.shared.add(targets)
	}
	return r, nil
}

func loadTopics(ctx context.Context, store Store, names []string, into targetSet) error {
	for _, name := range names {
		if _, err := store.GetTopic(ctx, name); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownTopic, name)
			}
			return fmt.Errorf("load topic %s: %w", name, err)
		}
		targets, err := store.TopicTargets(ctx, name)
		if err != nil {
			return fmt.Errorf("load topic %s: %w", name, err)
		}
		into.add(targets)
	}
	return nil
}

// Allows reports whether a node passes the filter.
func (r *Resolved) Allows(n *models.Node) bool {
	if r == nil {
		return true
	}
	shared := r.filter.IncludeShared && r.shared.has(n)

	if r.filter.Project != "" && !r.members.has(n) && !shared {
		return false
	}
	if len(r.filter.Topics) > 0 && !r.included.has(n) && !shared {
		return false
	}
	return !r.excluded.has(n)
}

// Filter returns the filter this value was resolved from.
func (r *Resolved) Filter() models.ScopeFilter {
	if r == nil {
		return models.ScopeFilter{}
	}
	return r.filter
}
