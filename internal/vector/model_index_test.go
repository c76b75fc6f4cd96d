package vector

import (
	"context"
	"testing"

	"github.com/hyperjump/bunsho/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource []*models.Embedding

func (s sliceSource) IterateEmbeddings(ctx context.Context, model string, batchSize int, fn func([]*models.Embedding) error) error {
	var batch []*models.Embedding
	for _, e := range s {
		if e.Model != model {
			continue
		}
		batch = append(batch, e)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = nil
		}
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

func TestModelIndex_Rebuild(t *testing.T) {
	ctx := context.Background()
	mem, _ := NewMemoryIndex(2)
	mi := NewModelIndex("m1", mem, nil)
	assert.False(t, mi.VecAvailable())

	_, err := mi.VecSearch(ctx, "m1", []float32{1, 0}, 1)
	assert.Error(t, err)

	src := sliceSource{
		{FullID: "a", Model: "m1", Vector: []float32{1, 0}},
		{FullID: "b", Model: "m1", Vector: []float32{0, 1}},
		{FullID: "c", Model: "m1", Vector: []float32{1, 0, 0}},
		{FullID: "d", Model: "m2", Vector: []float32{1, 0}},
	}
	n, err := mi.Rebuild(ctx, src, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, mi.VecAvailable())

	hits, err := mi.VecSearch(ctx, "m1", []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].FullID)

	_, err = mi.VecSearch(ctx, "m2", []float32{0, 1}, 5)
	assert.Error(t, err)
}

func TestModelIndex_PutRemove(t *testing.T) {
	ctx := context.Background()
	mem, _ := NewMemoryIndex(2)
	mi := NewModelIndex("m1", mem, nil)
	_, err := mi.Rebuild(ctx, sliceSource{}, 10)
	require.NoError(t, err)

	require.NoError(t, mi.Put(ctx, &models.Embedding{FullID: "a", Model: "m1", Vector: []float32{1, 0}}))
	require.NoError(t, mi.Put(ctx, &models.Embedding{FullID: "z", Model: "other", Vector: []float32{1, 0}}))
	assert.Equal(t, 1, mem.Size())

	require.NoError(t, mi.Remove(ctx, []string{"a"}))
	assert.Equal(t, 0, mem.Size())
}

func TestModelIndex_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/vectors.bin"

	mem, _ := NewMemoryIndex(2)
	mi := NewModelIndex("m1", mem, nil)
	require.NoError(t, mi.Save(path), "saving an unbuilt index is a no-op")
	assert.NoFileExists(t, path)

	_, err := mi.Rebuild(ctx, sliceSource{{FullID: "a", Model: "m1", Vector: []float32{1, 0}}}, 10)
	require.NoError(t, err)
	require.NoError(t, mi.Save(path))

	mem2, _ := NewMemoryIndex(2)
	restored := NewModelIndex("m1", mem2, nil)
	require.NoError(t, restored.Load(path))
	assert.True(t, restored.VecAvailable())
	assert.Equal(t, 1, restored.Size())

	hits, err := restored.VecSearch(ctx, "m1", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].FullID)

	assert.Error(t, NewModelIndex("m1", mem2, nil).Load(path+".missing"))
}
