package vector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// Chromem is an embedded chromem-go backed index. With a path it persists to
// disk across restarts; with an empty path it behaves like the flat index
// but reuses chromem's storage layout.
type Chromem struct {
	mu     sync.Mutex
	col    *chromem.Collection
	logger *zap.Logger
}

// NewChromem opens (or creates) the collection. path may be empty for a
// purely in-memory database.
func NewChromem(path, collection string, logger *zap.Logger) (*Chromem, error) {
	var db *chromem.DB
	var err error
	if path != "" {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem at %s: %w", path, err)
		}
	} else {
		db = chromem.NewDB()
	}
	if collection == "" {
		collection = "memories"
	}
	// Embeddings are always provided by the encoder, so no embedding func.
	col, err := db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem collection %s: %w", collection, err)
	}
	return &Chromem{col: col, logger: logger}, nil
}

// Upsert adds or replaces the embedding for an id.
func (c *Chromem) Upsert(ctx context.Context, id string, embedding []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   id,
		Embedding: embedding,
	})
	if err != nil {
		return fmt.Errorf("chromem upsert %s: %w", id, err)
	}
	return nil
}

// Remove drops the id from the collection.
func (c *Chromem) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.col.Delete(ctx, nil, nil, id); err != nil {
		// chromem errors on unknown ids; removal of a missing id is fine.
		if strings.Contains(err.Error(), "not found") {
			return nil
		}
		return fmt.Errorf("chromem delete %s: %w", id, err)
	}
	return nil
}

// Search queries the collection. chromem rejects nResults larger than the
// collection size, so the limit is clipped first.
func (c *Chromem) Search(ctx context.Context, query []float32, k int, minSimilarity float64) ([]Hit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := c.col.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}
	results, err := c.col.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		if sim < minSimilarity {
			continue
		}
		hits = append(hits, Hit{ID: r.ID, Similarity: sim})
	}
	return hits, nil
}

// Len reports the collection size.
func (c *Chromem) Len(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.col.Count(), nil
}
