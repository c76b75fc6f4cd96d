package scope

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/storage"
)

type fakeStore struct {
	projects map[string][]models.Target
	topics   map[string][]models.Target
}

func (f *fakeStore) GetCollection(_ context.Context, name string) (*models.Collection, error) {
	if _, ok := f.projects[name]; !ok {
		return nil, fmt.Errorf("collection %s: %w", name, storage.ErrNotFound)
	}
	return &models.Collection{Name: name}, nil
}

func (f *fakeStore) CollectionMembers(ctx context.Context, name string) ([]models.Target, error) {
	if _, err := f.GetCollection(ctx, name); err != nil {
		return nil, err
	}
	return f.projects[name], nil
}

func (f *fakeStore) GetTopic(_ context.Context, name string) (*models.Topic, error) {
	if _, ok := f.topics[name]; !ok {
		return nil, fmt.Errorf("topic %s: %w", name, storage.ErrNotFound)
	}
	return &models.Topic{Name: name}, nil
}

func (f *fakeStore) TopicTargets(_ context.Context, name string) ([]models.Target, error) {
	return f.topics[name], nil
}

func nodeT(id string) models.Target { return models.Target{Type: models.TargetNode, ID: id} }
func docT(id string) models.Target  { return models.Target{Type: models.TargetDocument, ID: id} }

func newFake() *fakeStore {
	return &fakeStore{
		projects: map[string][]models.Target{
			"alpha": {nodeT("n1"), docT("d2")},
			"empty": nil,
		},
		topics: map[string][]models.Target{
			"go":               {nodeT("n1"), nodeT("n3")},
			"rust":             {nodeT("n4")},
			"draft":            {docT("d2")},
			models.SharedTopic: {nodeT("n5")},
		},
	}
}

var (
	n1 = &models.Node{FullID: "n1", DocID: "d1"}
	n2 = &models.Node{FullID: "n2", DocID: "d2"}
	n3 = &models.Node{FullID: "n3", DocID: "d3"}
	n4 = &models.Node{FullID: "n4", DocID: "d1"}
	n5 = &models.Node{FullID: "n5", DocID: "d9"}
)

func allowed(r *Resolved, nodes ...*models.Node) []string {
	var out []string
	for _, n := range nodes {
		if r.Allows(n) {
			out = append(out, n.FullID)
		}
	}
	return out
}

func TestResolve(t *testing.T) {
	all := []*models.Node{n1, n2, n3, n4, n5}
	tests := []struct {
		name   string
		filter *models.ScopeFilter
		want   []string
	}{
		{"nil filter", nil, []string{"n1", "n2", "n3", "n4", "n5"}},
		{"shared only is unconstrained", &models.ScopeFilter{IncludeShared: true}, []string{"n1", "n2", "n3", "n4", "n5"}},
		{"project by node and document", &models.ScopeFilter{Project: "alpha"}, []string{"n1", "n2"}},
		{"project with shared", &models.ScopeFilter{Project: "alpha", IncludeShared: true}, []string{"n1", "n2", "n5"}},
		{"topics are ORed", &models.ScopeFilter{Topics: []string{"go", "rust"}}, []string{"n1", "n3", "n4"}},
		{"shared bypasses topics", &models.ScopeFilter{Topics: []string{"rust"}, IncludeShared: true}, []string{"n4", "n5"}},
		{"project and topic", &models.ScopeFilter{Project: "alpha", Topics: []string{"go"}}, []string{"n1"}},
		{"exclusion by document tag", &models.ScopeFilter{Project: "alpha", ExcludeTopics: []string{"draft"}}, []string{"n1"}},
		{"exclusion alone", &models.ScopeFilter{ExcludeTopics: []string{"go"}}, []string{"n2", "n4", "n5"}},
		{"empty project", &models.ScopeFilter{Project: "empty"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Resolve(context.Background(), newFake(), tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, allowed(r, all...))
		})
	}
}

func TestResolve_UnknownNames(t *testing.T) {
	ctx := context.Background()
	_, err := Resolve(ctx, newFake(), &models.ScopeFilter{Project: "nope"})
	assert.ErrorIs(t, err, ErrUnknownProject)

	_, err = Resolve(ctx, newFake(), &models.ScopeFilter{Topics: []string{"go", "nope"}})
	assert.ErrorIs(t, err, ErrUnknownTopic)

	_, err = Resolve(ctx, newFake(), &models.ScopeFilter{ExcludeTopics: []string{"nope"}})
	assert.ErrorIs(t, err, ErrUnknownTopic)
}

func TestResolve_MissingSharedTopic(t *testing.T) {
	f := newFake()
	delete(f.topics, models.SharedTopic)
	r, err := Resolve(context.Background(), f, &models.ScopeFilter{Project: "alpha", IncludeShared: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2"}, allowed(r, n1, n2, n5))
}
