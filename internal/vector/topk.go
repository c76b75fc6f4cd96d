package vector

import (
	"container/heap"
	"math"
	"sort"

	"github.com/hyperjump/bunsho/internal/models"
)

// TopK keeps the k highest-scoring candidates seen so far in a fixed-capacity
// min-heap. Ties are broken by arrival order: an earlier candidate outranks a
// later one with the same score.
type TopK struct {
	k   int
	seq uint64
	h   candidateHeap
}

type candidate struct {
	hit models.VectorHit
	seq uint64
}

type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }

// Less orders the weakest candidate first.
func (h candidateHeap) Less(i, j int) bool {
	if h[i].hit.Score != h[j].hit.Score {
		return h[i].hit.Score < h[j].hit.Score
	}
	return h[i].seq > h[j].seq
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }

func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// NewTopK returns a selector for the best k candidates. k <= 0 keeps nothing.
func NewTopK(k int) *TopK {
	if k < 0 {
		k = 0
	}
	return &TopK{k: k, h: make(candidateHeap, 0, k)}
}

// Push offers a candidate. It replaces the current minimum only when its
// score is strictly higher. NaN scores are ignored.
func (t *TopK) Push(id string, score float64) {
	if t.k == 0 || math.IsNaN(score) {
		return
	}
	t.seq++
	c := candidate{hit: models.VectorHit{FullID: id, Score: score}, seq: t.seq}
	if len(t.h) < t.k {
		heap.Push(&t.h, c)
		return
	}
	if score > t.h[0].hit.Score {
		t.h[0] = c
		heap.Fix(&t.h, 0)
	}
}

// Len returns the number of candidates held.
func (t *TopK) Len() int { return len(t.h) }

// Sorted returns the held candidates, best first.
func (t *TopK) Sorted() []models.VectorHit {
	cs := make([]candidate, len(t.h))
	copy(cs, t.h)
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].hit.Score != cs[j].hit.Score {
			return cs[i].hit.Score > cs[j].hit.Score
		}
		return cs[i].seq < cs[j].seq
	})
	out := make([]models.VectorHit, len(cs))
	for i, c := range cs {
		out[i] = c.hit
	}
	return out
}
