// Package vector provides similarity math, the bounded top-k selector used by
// streaming semantic search, and an in-memory vector index.
package vector

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is wrapped when two vectors differ in length.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// Vectors of different length are an error; a zero-magnitude vector yields 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// rounding can push identical vectors just past 1
	return math.Max(-1, math.Min(1, sim)), nil
}

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
