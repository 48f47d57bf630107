package vector

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/cortexkg/cortex/engine/domain"
)

const (
	// maxIterations caps Lloyd iterations. Cosine-metric k-means is not
	// guaranteed to converge monotonically the way Euclidean k-means is,
	// so the cap is the escape valve, not a correctness guarantee.
	maxIterations = 100

	// convergenceSim: iteration stops once every centroid's similarity to
	// its previous position exceeds this.
	convergenceSim = 1 - 1e-4
)

// rng is swapped out by tests for determinism. rand.Rand is not
// goroutine-safe and KMeans may run concurrently, so every draw goes
// through rngMu.
var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(rand.Int63()))
)

func randPerm(n int) []int {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Perm(n)
}

func randFloat() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}

// Cluster is one k-means output cluster.
type Cluster struct {
	Centroid []float64 `json:"centroid"`
	// Members are indices into the input vector slice.
	Members []int `json:"members"`
	// Cohesion is the mean cosine similarity of members to the centroid.
	Cohesion float64 `json:"cohesion"`
	// PairwiseSimilarity is the mean cosine similarity over all member
	// pairs. O(n^2) on cluster size; fine for the small clusters this
	// engine deals in.
	PairwiseSimilarity float64 `json:"pairwise_similarity"`
}

// KMeans clusters vectors into exactly k clusters using Lloyd's algorithm
// with cosine similarity as the assignment metric: each vector joins the
// centroid it is MOST similar to. Centroids are seeded by a random sample
// of k input vectors without replacement. Clusters left empty after an
// assignment round are re-seeded with a fresh random vector of the input
// dimensionality rather than dropped, so the result always has k entries.
func KMeans(vectors [][]float64, k int) ([]Cluster, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("vector: kmeans: %w", domain.ErrEmptyVectorSet)
	}
	if k <= 0 || k > len(vectors) {
		return nil, fmt.Errorf("vector: kmeans: k=%d out of range for %d vectors", k, len(vectors))
	}
	dims := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dims {
			return nil, fmt.Errorf("vector: kmeans: vector %d: %w: %d vs %d",
				i, domain.ErrDimensionMismatch, len(v), dims)
		}
		if isZero(v) {
			return nil, fmt.Errorf("vector: kmeans: vector %d: %w", i, domain.ErrZeroVector)
		}
	}

	centroids := seedCentroids(vectors, k)
	var members [][]int

	for iter := 0; iter < maxIterations; iter++ {
		members = assign(vectors, centroids)

		next := make([][]float64, k)
		for c := 0; c < k; c++ {
			if len(members[c]) == 0 {
				next[c] = randomVector(dims)
				continue
			}
			group := make([][]float64, len(members[c]))
			for i, idx := range members[c] {
				group[i] = vectors[idx]
			}
			centroid, err := Centroid(group)
			if err != nil {
				return nil, err
			}
			next[c] = centroid
		}

		if converged(centroids, next) {
			centroids = next
			members = assign(vectors, centroids)
			break
		}
		centroids = next
	}

	out := make([]Cluster, k)
	for c := 0; c < k; c++ {
		out[c] = Cluster{
			Centroid:           centroids[c],
			Members:            members[c],
			Cohesion:           cohesion(vectors, members[c], centroids[c]),
			PairwiseSimilarity: pairwiseSimilarity(vectors, members[c]),
		}
	}
	return out, nil
}

// seedCentroids samples k distinct input vectors as initial centroids.
func seedCentroids(vectors [][]float64, k int) [][]float64 {
	perm := randPerm(len(vectors))
	out := make([][]float64, k)
	for i := 0; i < k; i++ {
		src := vectors[perm[i]]
		c := make([]float64, len(src))
		copy(c, src)
		out[i] = c
	}
	return out
}

// assign maps every vector to its most similar centroid.
func assign(vectors [][]float64, centroids [][]float64) [][]int {
	members := make([][]int, len(centroids))
	for i, v := range vectors {
		best, bestSim := 0, -2.0
		for c, centroid := range centroids {
			s := safeSim(v, centroid)
			if s > bestSim {
				best, bestSim = c, s
			}
		}
		members[best] = append(members[best], i)
	}
	return members
}

// converged reports whether every centroid stayed put (similarity above
// the convergence threshold against its previous position).
func converged(prev, next [][]float64) bool {
	for i := range prev {
		if safeSim(prev[i], next[i]) <= convergenceSim {
			return false
		}
	}
	return true
}

func cohesion(vectors [][]float64, members []int, centroid []float64) float64 {
	if len(members) == 0 {
		return 0
	}
	var sum float64
	for _, idx := range members {
		sum += safeSim(vectors[idx], centroid)
	}
	return sum / float64(len(members))
}

func pairwiseSimilarity(vectors [][]float64, members []int) float64 {
	if len(members) < 2 {
		return 0
	}
	var sum float64
	var pairs int
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			sum += safeSim(vectors[members[i]], vectors[members[j]])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// safeSim is cosine similarity with degenerate inputs pinned to -1 so a
// zero centroid (possible after cancellation or a fresh re-seed) never
// wins an assignment and never aborts an iteration.
func safeSim(a, b []float64) float64 {
	s, err := CosineSimilarity(a, b)
	if err != nil {
		return -1
	}
	return s
}

// randomVector re-seeds an empty cluster with uniform components in [-1,1).
func randomVector(dims int) []float64 {
	v := make([]float64, dims)
	for i := range v {
		v[i] = randFloat()*2 - 1
	}
	return v
}
