// Package graph maintains the weighted associative edges between memories.
// Edges are strengthened by co-activation and decay independently of memory
// strength. Two backends exist: an in-memory adjacency structure (default)
// and a Neo4j driver for deployments that want the graph queryable outside
// the process.
package graph

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidEdge is returned for self-loops and out-of-range weights.
var ErrInvalidEdge = errors.New("invalid edge")

// ErrNodeNotFound is returned when an endpoint id is not in the graph.
var ErrNodeNotFound = errors.New("node not found")

// ErrNoPath is returned by ShortestPath when the endpoints are not
// connected.
var ErrNoPath = errors.New("no path between nodes")

// Edge is an undirected weighted association between two memory ids.
type Edge struct {
	A         string    `json:"a"`
	B         string    `json:"b"`
	Weight    float64   `json:"weight"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Neighbor is a node reached by traversal, with the cumulative weight of the
// strongest path to it.
type Neighbor struct {
	ID     string  `json:"id"`
	Weight float64 `json:"weight"`
	Depth  int     `json:"depth"`
}

// Graph is the associative store contract.
type Graph interface {
	// AddNode registers a memory id. Edges may only connect registered
	// nodes.
	AddNode(ctx context.Context, id string) error

	// RemoveNode deletes a node and every incident edge.
	RemoveNode(ctx context.Context, id string) error

	// Connect creates (or resets) an edge with the given weight.
	// Self-loops and weights outside [0,1] are rejected with
	// ErrInvalidEdge.
	Connect(ctx context.Context, a, b string, weight float64) error

	// Strengthen applies weight = clamp(weight + delta) to the edge,
	// creating it at clamp(delta) if absent. This is the Hebbian
	// reinforcement path and is atomic per edge.
	Strengthen(ctx context.Context, a, b string, delta float64) error

	// EdgeWeight returns the current weight, or ErrNodeNotFound /
	// ErrNoPath when the endpoints or edge do not exist.
	EdgeWeight(ctx context.Context, a, b string) (float64, error)

	// Neighbors traverses up to depth hops from id and returns reached
	// nodes with the cumulative (product) weight of the strongest path,
	// strongest first.
	Neighbors(ctx context.Context, id string, depth int) ([]Neighbor, error)

	// ShortestPath returns the hop-minimal path between two nodes,
	// inclusive of both endpoints.
	ShortestPath(ctx context.Context, a, b string) ([]string, error)

	// DecaySweep applies time-based decay to all edge weights and returns
	// the number of edges updated.
	DecaySweep(ctx context.Context) (int, error)

	// Edges returns a snapshot of all edges, for persistence.
	Edges(ctx context.Context) ([]Edge, error)
}

func validateEndpoints(a, b string) error {
	if a == b {
		return ErrInvalidEdge
	}
	if a == "" || b == "" {
		return ErrInvalidEdge
	}
	return nil
}

// orderPair gives edges a canonical key regardless of argument order.
func orderPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
