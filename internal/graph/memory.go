package graph

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type memEdge struct {
	mu        sync.Mutex
	weight    float64
	updatedAt time.Time
}

func (e *memEdge) decayedWeight(now time.Time, halfLifeHours float64) float64 {
	elapsed := now.Sub(e.updatedAt).Hours()
	if elapsed <= 0 || halfLifeHours <= 0 {
		return e.weight
	}
	return e.weight * math.Pow(0.5, elapsed/halfLifeHours)
}

// Memory is the in-memory graph backend. The adjacency map is guarded by a
// read-write lock; each edge carries its own mutex so concurrent Strengthen
// calls on different edges never serialize against each other.
type Memory struct {
	halfLifeHours float64
	logger        *zap.Logger
	now           func() time.Time

	mu    sync.RWMutex
	nodes map[string]map[string]*memEdge // node -> neighbor -> shared edge
}

// NewMemory creates an empty in-memory graph. edgeHalfLifeHours controls
// edge decay; zero disables it.
func NewMemory(edgeHalfLifeHours float64, logger *zap.Logger) *Memory {
	return &Memory{
		halfLifeHours: edgeHalfLifeHours,
		logger:        logger,
		now:           time.Now,
		nodes:         make(map[string]map[string]*memEdge),
	}
}

// SetClock replaces the time source for tests.
func (g *Memory) SetClock(now func() time.Time) { g.now = now }

// AddNode registers a memory id.
func (g *Memory) AddNode(_ context.Context, id string) error {
	g.mu.Lock()
	if _, ok := g.nodes[id]; !ok {
		g.nodes[id] = make(map[string]*memEdge)
	}
	g.mu.Unlock()
	return nil
}

// RemoveNode deletes a node and all incident edges.
func (g *Memory) RemoveNode(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	neighbors, ok := g.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}
	for n := range neighbors {
		delete(g.nodes[n], id)
	}
	delete(g.nodes, id)
	g.logger.Debug("graph node removed", zap.String("id", id), zap.Int("edges", len(neighbors)))
	return nil
}

// Connect creates or resets an edge.
func (g *Memory) Connect(_ context.Context, a, b string, weight float64) error {
	if err := validateEndpoints(a, b); err != nil {
		return err
	}
	if weight < 0 || weight > 1 {
		return ErrInvalidEdge
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[a]; !ok {
		return ErrNodeNotFound
	}
	if _, ok := g.nodes[b]; !ok {
		return ErrNodeNotFound
	}
	e := &memEdge{weight: weight, updatedAt: g.now()}
	g.nodes[a][b] = e
	g.nodes[b][a] = e
	return nil
}

// Strengthen reinforces an edge atomically, creating it when absent.
func (g *Memory) Strengthen(_ context.Context, a, b string, delta float64) error {
	if err := validateEndpoints(a, b); err != nil {
		return err
	}
	now := g.now()

	g.mu.RLock()
	e := g.nodes[a][b]
	g.mu.RUnlock()

	if e == nil {
		g.mu.Lock()
		if _, ok := g.nodes[a]; !ok {
			g.mu.Unlock()
			return ErrNodeNotFound
		}
		if _, ok := g.nodes[b]; !ok {
			g.mu.Unlock()
			return ErrNodeNotFound
		}
		// Re-check under the write lock; a concurrent call may have won.
		if e = g.nodes[a][b]; e == nil {
			e = &memEdge{updatedAt: now}
			g.nodes[a][b] = e
			g.nodes[b][a] = e
		}
		g.mu.Unlock()
	}

	e.mu.Lock()
	w := e.decayedWeight(now, g.halfLifeHours) + delta
	if w < 0 {
		w = 0
	}
	if w > 1 {
		w = 1
	}
	e.weight = w
	e.updatedAt = now
	e.mu.Unlock()
	return nil
}

// EdgeWeight returns the decayed weight of an edge.
func (g *Memory) EdgeWeight(_ context.Context, a, b string) (float64, error) {
	if err := validateEndpoints(a, b); err != nil {
		return 0, err
	}
	g.mu.RLock()
	_, okA := g.nodes[a]
	_, okB := g.nodes[b]
	e := g.nodes[a][b]
	g.mu.RUnlock()
	if !okA || !okB {
		return 0, ErrNodeNotFound
	}
	if e == nil {
		return 0, ErrNoPath
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decayedWeight(g.now(), g.halfLifeHours), nil
}

// Neighbors performs a depth-bounded BFS. The cumulative weight of a node is
// the maximum product of edge weights over discovered paths, so closer and
// stronger associations rank first.
func (g *Memory) Neighbors(_ context.Context, id string, depth int) ([]Neighbor, error) {
	if depth < 1 {
		depth = 1
	}
	now := g.now()

	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[id]; !ok {
		return nil, ErrNodeNotFound
	}

	type frontierNode struct {
		id     string
		weight float64
		depth  int
	}
	best := map[string]Neighbor{}
	frontier := []frontierNode{{id: id, weight: 1.0}}

	for len(frontier) > 0 {
		next := frontier[:0:0]
		for _, fn := range frontier {
			if fn.depth == depth {
				continue
			}
			for nid, e := range g.nodes[fn.id] {
				if nid == id {
					continue
				}
				e.mu.Lock()
				w := fn.weight * e.decayedWeight(now, g.halfLifeHours)
				e.mu.Unlock()
				if cur, ok := best[nid]; ok && cur.Weight >= w {
					continue
				}
				best[nid] = Neighbor{ID: nid, Weight: w, Depth: fn.depth + 1}
				next = append(next, frontierNode{id: nid, weight: w, depth: fn.depth + 1})
			}
		}
		frontier = next
	}

	out := make([]Neighbor, 0, len(best))
	for _, n := range best {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ShortestPath runs an unweighted BFS and returns the hop-minimal path.
func (g *Memory) ShortestPath(_ context.Context, a, b string) ([]string, error) {
	if err := validateEndpoints(a, b); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[a]; !ok {
		return nil, ErrNodeNotFound
	}
	if _, ok := g.nodes[b]; !ok {
		return nil, ErrNodeNotFound
	}

	prev := map[string]string{a: a}
	queue := []string{a}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == b {
			break
		}
		// Deterministic expansion order keeps equal-length paths stable.
		neighbors := make([]string, 0, len(g.nodes[cur]))
		for nid := range g.nodes[cur] {
			neighbors = append(neighbors, nid)
		}
		sort.Strings(neighbors)
		for _, nid := range neighbors {
			if _, seen := prev[nid]; seen {
				continue
			}
			prev[nid] = cur
			queue = append(queue, nid)
		}
	}

	if _, ok := prev[b]; !ok {
		return nil, ErrNoPath
	}
	var path []string
	for cur := b; ; cur = prev[cur] {
		path = append([]string{cur}, path...)
		if cur == a {
			break
		}
	}
	return path, nil
}

// DecaySweep folds elapsed time into every edge weight. Each edge is
// processed under its own lock.
func (g *Memory) DecaySweep(_ context.Context) (int, error) {
	now := g.now()
	edges := g.snapshotEdges()
	var updated int
	for _, e := range edges {
		e.mu.Lock()
		before := e.weight
		e.weight = e.decayedWeight(now, g.halfLifeHours)
		e.updatedAt = now
		if e.weight != before {
			updated++
		}
		e.mu.Unlock()
	}
	g.logger.Debug("edge decay sweep complete", zap.Int("updated", updated))
	return updated, nil
}

// Edges returns a snapshot of all edges.
func (g *Memory) Edges(_ context.Context) ([]Edge, error) {
	now := g.now()
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Edge
	seen := map[[2]string]bool{}
	for a, neighbors := range g.nodes {
		for b, e := range neighbors {
			ka, kb := orderPair(a, b)
			if seen[[2]string{ka, kb}] {
				continue
			}
			seen[[2]string{ka, kb}] = true
			e.mu.Lock()
			out = append(out, Edge{A: ka, B: kb, Weight: e.decayedWeight(now, g.halfLifeHours), UpdatedAt: e.updatedAt})
			e.mu.Unlock()
		}
	}
	return out, nil
}

func (g *Memory) snapshotEdges() []*memEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*memEdge
	seen := map[*memEdge]bool{}
	for _, neighbors := range g.nodes {
		for _, e := range neighbors {
			if !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		}
	}
	return out
}
