// Package vector provides pure numeric routines over equal-length float
// vectors: cosine similarity, centroid computation, and k-means clustering
// with a cosine assignment metric. It holds no state and knows nothing
// about the graph.
package vector

import (
	"fmt"
	"math"

	"github.com/cortexkg/cortex/engine/domain"
)

// CosineSimilarity returns dot(a,b) / (|a|*|b|). A zero vector on either
// side is a degenerate input and fails rather than returning NaN.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector: cosine: %w: %d vs %d",
			domain.ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, fmt.Errorf("vector: cosine: %w", domain.ErrZeroVector)
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// Centroid returns the per-dimension arithmetic mean of a non-empty set of
// equal-length vectors.
func Centroid(vectors [][]float64) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("vector: centroid: %w", domain.ErrEmptyVectorSet)
	}
	dims := len(vectors[0])
	out := make([]float64, dims)
	for _, v := range vectors {
		if len(v) != dims {
			return nil, fmt.Errorf("vector: centroid: %w: %d vs %d",
				domain.ErrDimensionMismatch, len(v), dims)
		}
		for i, x := range v {
			out[i] += x
		}
	}
	n := float64(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out, nil
}

// isZero reports whether every component of v is zero.
func isZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
