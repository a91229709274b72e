// Package router implements sparse activation: given a query embedding it
// selects a small, bounded set of relevant memories instead of ranking the
// whole store. Selection is competitive — candidates from vector search and
// graph expansion fight for at most N slots — and the side effects of
// retrieval (access boosts, Hebbian edge reinforcement) are committed only
// after selection fully completes, so a cancelled call leaves the store
// unmodified.
package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nidhogg/synapse/internal/graph"
	"github.com/nidhogg/synapse/internal/memory"
	"github.com/nidhogg/synapse/internal/vector"
	"go.uber.org/zap"
)

// Config holds the router's tunable scoring parameters.
type Config struct {
	// MaxActive is the hard cap N on the active set.
	MaxActive int

	// CandidateFactor scales the vector search fan-out: M = factor * N.
	CandidateFactor int

	// SimilarityThreshold filters vector hits before scoring.
	SimilarityThreshold float64

	// ActivationThreshold excludes dormant memories from selection.
	ActivationThreshold float64

	// Score weights over similarity, strength and recency.
	SimilarityWeight float64
	StrengthWeight   float64
	RecencyWeight    float64

	// RecencyHalfLifeHours controls how fast the recency signal fades.
	RecencyHalfLifeHours float64

	// EdgeReinforceDelta is the weight increment applied to every pair of
	// co-selected memories.
	EdgeReinforceDelta float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxActive:            7,
		CandidateFactor:      3,
		SimilarityThreshold:  0.3,
		ActivationThreshold:  0.2,
		SimilarityWeight:     0.5,
		StrengthWeight:       0.3,
		RecencyWeight:        0.2,
		RecencyHalfLifeHours: 72,
		EdgeReinforceDelta:   0.05,
	}
}

// Activation is one selected memory with its scoring breakdown.
type Activation struct {
	Memory     memory.Memory `json:"memory"`
	Similarity float64       `json:"similarity"`
	Score      float64       `json:"score"`
}

// Router selects active sets from the vector index, the associative graph
// and the memory store.
type Router struct {
	cfg    Config
	store  *memory.Store
	index  vector.Index
	graph  graph.Graph
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Router.
func New(cfg Config, store *memory.Store, index vector.Index, g graph.Graph, logger *zap.Logger) *Router {
	if cfg.MaxActive <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.CandidateFactor < 1 {
		cfg.CandidateFactor = 3
	}
	return &Router{cfg: cfg, store: store, index: index, graph: g, logger: logger, now: time.Now}
}

// SetClock replaces the time source for tests.
func (r *Router) SetClock(now func() time.Time) { r.now = now }

// Activate selects up to max memories relevant to the query embedding.
// max <= 0 falls back to the configured cap; values above the cap are
// clipped to it, so the configured bound always holds.
func (r *Router) Activate(ctx context.Context, queryEmbedding []float32, max int) ([]Activation, error) {
	start := r.now()
	if max <= 0 || max > r.cfg.MaxActive {
		max = r.cfg.MaxActive
	}

	// Step 1: vector candidates, fanned out wider than the cap so graph
	// expansion and strength scoring have something to reorder.
	hits, err := r.index.Search(ctx, queryEmbedding, max*r.cfg.CandidateFactor, r.cfg.SimilarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	similarity := make(map[string]float64, len(hits))
	for _, h := range hits {
		similarity[h.ID] = h.Similarity
	}

	// Step 2: expand with 1-hop neighbors of the top hits. Neighbors carry
	// no query similarity of their own; they compete on association
	// weight, strength and recency.
	for i, h := range hits {
		if i >= max {
			break
		}
		neighbors, err := r.graph.Neighbors(ctx, h.ID, 1)
		if err != nil {
			if errors.Is(err, graph.ErrNodeNotFound) {
				continue
			}
			return nil, fmt.Errorf("graph expansion: %w", err)
		}
		for _, n := range neighbors {
			if _, seen := similarity[n.ID]; !seen {
				similarity[n.ID] = h.Similarity * n.Weight
			}
		}
	}

	// Step 3: score each candidate.
	scored := make([]Activation, 0, len(similarity))
	for id, sim := range similarity {
		m, err := r.store.Get(id)
		if err != nil {
			// Index and graph may briefly trail a delete.
			continue
		}
		if m.Strength < r.cfg.ActivationThreshold {
			continue // dormant memories do not compete
		}
		scored = append(scored, Activation{
			Memory:     m,
			Similarity: sim,
			Score:      r.score(sim, m),
		})
	}

	// Step 4: winner-take-all cutoff at the cap.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Memory.ID < scored[j].Memory.ID
	})
	if len(scored) > max {
		scored = scored[:max]
	}

	// Commit point: nothing above mutated any state. A cancelled call
	// must leave the store untouched, so check before applying effects.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Step 5: retrieval side effects — access bookkeeping plus pairwise
	// Hebbian reinforcement between co-selected memories.
	ids := make([]string, len(scored))
	for i, a := range scored {
		ids[i] = a.Memory.ID
	}
	r.store.Touch(ids...)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if err := r.graph.Strengthen(ctx, ids[i], ids[j], r.cfg.EdgeReinforceDelta); err != nil {
				r.logger.Warn("edge reinforcement failed",
					zap.String("a", ids[i]), zap.String("b", ids[j]), zap.Error(err))
			}
		}
	}

	r.logger.Debug("activation complete",
		zap.Int("candidates", len(similarity)),
		zap.Int("selected", len(scored)),
		zap.Duration("duration", r.now().Sub(start)))
	return scored, nil
}

// score blends similarity, strength and recency.
func (r *Router) score(sim float64, m memory.Memory) float64 {
	idle := r.now().Sub(m.LastAccessed).Hours()
	recency := 1.0
	if idle > 0 && r.cfg.RecencyHalfLifeHours > 0 {
		recency = math.Pow(0.5, idle/r.cfg.RecencyHalfLifeHours)
	}
	return r.cfg.SimilarityWeight*sim +
		r.cfg.StrengthWeight*m.Strength +
		r.cfg.RecencyWeight*recency
}
