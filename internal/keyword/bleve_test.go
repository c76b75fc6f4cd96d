package keyword

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedIndex(t *testing.T, idx KeywordIndex) {
	t.Helper()
	docs := []NodeDocument{
		{ID: "n1", ShortID: "AAAA", DocID: "d1", Kind: "heading", Title: "Python Tutorial", Body: "Python Tutorial"},
		{ID: "n2", ShortID: "BBBB", DocID: "d1", Kind: "paragraph", Body: "Learn the basics of Go and concurrency."},
		{ID: "n3", ShortID: "CCCC", DocID: "d2", Kind: "paragraph", Body: "A tutorial on hello world programs in python."},
		{ID: "n4", ShortID: "DDDD", DocID: "d2", Kind: "codeblock", Body: "fmt.Println(\"hello world\")"},
	}
	require.NoError(t, idx.IndexNodes(context.Background(), docs))
}

func ids(results []*KeywordResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestBleveIndex_Search(t *testing.T) {
	idx, err := NewBleveMemIndex()
	require.NoError(t, err)
	defer idx.Close()
	seedIndex(t, idx)
	ctx := context.Background()

	results, err := idx.Search(ctx, "concurrency", 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "n2", results[0].ID)
	assert.Equal(t, "BBBB", results[0].ShortID)
	assert.Equal(t, "d1", results[0].DocID)
	assert.Equal(t, "paragraph", results[0].Kind)
	assert.Contains(t, results[0].Body, "concurrency")

	// case-insensitive, matches title and body
	results, err = idx.Search(ctx, "PYTHON", 10, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1", "n3"}, ids(results))

	results, err = idx.Search(ctx, "python OR concurrency", 10, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1", "n2", "n3"}, ids(results))

	results, err = idx.Search(ctx, "python AND hello", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"n3"}, ids(results))

	results, err = idx.Search(ctx, `"hello world"`, 10, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n3", "n4"}, ids(results))

	results, err = idx.Search(ctx, `"world hello"`, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestBleveIndex_SearchPagingAndEmpty(t *testing.T) {
	idx, err := NewBleveMemIndex()
	require.NoError(t, err)
	defer idx.Close()
	seedIndex(t, idx)
	ctx := context.Background()

	all, err := idx.Search(ctx, "python OR hello", 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	page, err := idx.Search(ctx, "python OR hello", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, ids(all)[1:], ids(page))

	results, err := idx.Search(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = idx.Search(ctx, "bad*", 10, 0)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestBleveIndex_Deletes(t *testing.T) {
	idx, err := NewBleveMemIndex()
	require.NoError(t, err)
	defer idx.Close()
	seedIndex(t, idx)
	ctx := context.Background()

	require.NoError(t, idx.Delete(ctx, "n1"))
	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	require.NoError(t, idx.DeleteDocument(ctx, "d2"))
	count, err = idx.DocCount()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	results, err := idx.Search(ctx, "hello", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveIndex_ReopenOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")
	idx, err := NewBleveIndex(path)
	require.NoError(t, err)
	seedIndex(t, idx)
	require.NoError(t, idx.Close())

	idx, err = NewBleveIndex(path)
	require.NoError(t, err)
	defer idx.Close()
	results, err := idx.Search(context.Background(), "concurrency", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"n2"}, ids(results))
}

func TestCompile_terms(t *testing.T) {
	q, terms, err := Compile(`(go OR rust) AND "memory safety"`)
	require.NoError(t, err)
	assert.NotNil(t, q)
	assert.Equal(t, []string{"go", "rust", "memory", "safety"}, terms)

	q, terms, err = Compile("")
	require.NoError(t, err)
	assert.Nil(t, q)
	assert.Nil(t, terms)
}
