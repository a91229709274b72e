// Package vector provides cosine-similarity indexes over memory embeddings.
// Three backends satisfy the same interface: a flat in-memory scan (default),
// an embedded chromem-go database, and a remote Qdrant collection.
package vector

import "context"

// Hit is a single similarity search result.
type Hit struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// Index maintains embeddings for top-K similarity search. Implementations
// support incremental insertion and removal without a full rebuild.
type Index interface {
	// Upsert adds or replaces the embedding for an id.
	Upsert(ctx context.Context, id string, embedding []float32) error

	// Remove drops the id from the index. Removing a missing id is a no-op.
	Remove(ctx context.Context, id string) error

	// Search returns up to k hits with cosine similarity >= minSimilarity,
	// ordered by similarity descending.
	Search(ctx context.Context, query []float32, k int, minSimilarity float64) ([]Hit, error)

	// Len reports the number of indexed vectors.
	Len(ctx context.Context) (int, error)
}
