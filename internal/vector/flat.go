package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Flat is a brute-force in-memory index. Vectors are stored unit-normalized
// so a search is a single dot product per entry. At the scale this engine
// targets, the flat scan beats maintaining any tree or hashing structure and
// stays exact.
type Flat struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewFlat creates an empty flat index.
func NewFlat() *Flat {
	return &Flat{vectors: make(map[string][]float32)}
}

// Upsert stores a normalized copy of the embedding.
func (f *Flat) Upsert(_ context.Context, id string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("empty embedding for %s", id)
	}
	cp := make([]float32, len(embedding))
	copy(cp, embedding)
	unitNormalize(cp)
	f.mu.Lock()
	f.vectors[id] = cp
	f.mu.Unlock()
	return nil
}

// Remove drops the id.
func (f *Flat) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	delete(f.vectors, id)
	f.mu.Unlock()
	return nil
}

// Search scans all vectors and returns the top-k by cosine similarity.
func (f *Flat) Search(_ context.Context, query []float32, k int, minSimilarity float64) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	q := make([]float32, len(query))
	copy(q, query)
	unitNormalize(q)

	f.mu.RLock()
	hits := make([]Hit, 0, len(f.vectors))
	for id, vec := range f.vectors {
		if len(vec) != len(q) {
			continue
		}
		sim := dot(q, vec)
		if sim >= minSimilarity {
			hits = append(hits, Hit{ID: id, Similarity: sim})
		}
	}
	f.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len reports the number of indexed vectors.
func (f *Flat) Len(_ context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors), nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func unitNormalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	n := float32(math.Sqrt(norm))
	for i, v := range vec {
		vec[i] = v / n
	}
}
