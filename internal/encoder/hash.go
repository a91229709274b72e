package encoder

import (
	"context"
	"hash/fnv"
	"math"
)

// HashProvider generates deterministic embeddings from an FNV-1a hash of the
// text. It needs no external service, which makes it the default provider:
// identical inputs always yield bit-identical vectors, the property the
// encoding idempotence contract depends on. The vectors carry no semantic
// signal beyond exact-content identity, so deployments that want real
// similarity plug in the API provider instead.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a deterministic hash embedder.
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashProvider{dimension: dimension}
}

// Embed produces a unit vector per text, seeded by the text hash.
func (p *HashProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		out = append(out, p.embedOne(text))
	}
	return out, nil
}

func (p *HashProvider) embedOne(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, p.dimension)
	for i := range vec {
		// LCG walk from the hash seed, mapped to [-1, 1].
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec)
}

// Dimension returns the embedding vector dimension.
func (p *HashProvider) Dimension() int { return p.dimension }

// normalize converts a vector to unit length.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i, v := range vec {
		vec[i] = v / n
	}
	return vec
}
