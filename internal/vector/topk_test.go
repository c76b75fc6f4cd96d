package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func hitIDs(t *TopK) []string {
	var ids []string
	for _, h := range t.Sorted() {
		ids = append(ids, h.FullID)
	}
	return ids
}

func TestTopK_KeepsBest(t *testing.T) {
	top := NewTopK(3)
	for i, s := range []float64{0.1, 0.9, 0.5, 0.3, 0.7, 0.2} {
		top.Push(string(rune('a'+i)), s)
	}
	assert.Equal(t, 3, top.Len())
	assert.Equal(t, []string{"b", "e", "c"}, hitIDs(top))
	hits := top.Sorted()
	assert.Equal(t, 0.5, hits[len(hits)-1].Score)
}

func TestTopK_TiesKeepEarlier(t *testing.T) {
	top := NewTopK(2)
	top.Push("first", 0.5)
	top.Push("second", 0.5)
	top.Push("third", 0.5)
	assert.Equal(t, []string{"first", "second"}, hitIDs(top))
}

func TestTopK_EqualScoreDoesNotReplace(t *testing.T) {
	top := NewTopK(1)
	top.Push("a", 0.4)
	top.Push("b", 0.4)
	top.Push("c", 0.41)
	assert.Equal(t, []string{"c"}, hitIDs(top))
}

func TestTopK_SkipsNaN(t *testing.T) {
	top := NewTopK(2)
	top.Push("nan", math.NaN())
	top.Push("a", -0.2)
	assert.Equal(t, []string{"a"}, hitIDs(top))
}

func TestTopK_ZeroK(t *testing.T) {
	top := NewTopK(0)
	top.Push("a", 1)
	assert.Equal(t, 0, top.Len())
	assert.Empty(t, top.Sorted())
}

func TestTopK_FewerThanK(t *testing.T) {
	top := NewTopK(10)
	top.Push("a", 0.1)
	top.Push("b", 0.2)
	assert.Equal(t, []string{"b", "a"}, hitIDs(top))
}
