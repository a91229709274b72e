package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestGraph(t *testing.T) *Memory {
	t.Helper()
	return NewMemory(336, zap.NewNop())
}

func addNodes(t *testing.T, g *Memory, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		if err := g.AddNode(ctx, id); err != nil {
			t.Fatalf("add node %s: %v", id, err)
		}
	}
}

func TestConnectAndEdgeWeight(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	addNodes(t, g, "a", "b")

	if err := g.Connect(ctx, "a", "b", 0.7); err != nil {
		t.Fatal(err)
	}

	w, err := g.EdgeWeight(ctx, "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if w < 0.69 || w > 0.7 {
		t.Errorf("got weight %f, want ~0.7", w)
	}

	// Edges are undirected: the reverse lookup sees the same weight.
	rev, err := g.EdgeWeight(ctx, "b", "a")
	if err != nil {
		t.Fatal(err)
	}
	if rev != w {
		t.Errorf("asymmetric edge: %f vs %f", w, rev)
	}
}

func TestConnectRejectsSelfLoop(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	addNodes(t, g, "a")

	if err := g.Connect(ctx, "a", "a", 0.5); !errors.Is(err, ErrInvalidEdge) {
		t.Errorf("got %v, want ErrInvalidEdge", err)
	}
	if err := g.Strengthen(ctx, "a", "a", 0.1); !errors.Is(err, ErrInvalidEdge) {
		t.Errorf("got %v, want ErrInvalidEdge", err)
	}
	if err := g.Connect(ctx, "", "a", 0.5); !errors.Is(err, ErrInvalidEdge) {
		t.Errorf("empty endpoint: got %v, want ErrInvalidEdge", err)
	}
}

func TestConnectRejectsWeightOutOfRange(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	addNodes(t, g, "a", "b")

	if err := g.Connect(ctx, "a", "b", 1.5); !errors.Is(err, ErrInvalidEdge) {
		t.Errorf("got %v, want ErrInvalidEdge", err)
	}
	if err := g.Connect(ctx, "a", "b", -0.1); !errors.Is(err, ErrInvalidEdge) {
		t.Errorf("got %v, want ErrInvalidEdge", err)
	}
}

func TestConnectUnknownNode(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	addNodes(t, g, "a")

	if err := g.Connect(ctx, "a", "ghost", 0.5); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("got %v, want ErrNodeNotFound", err)
	}
}

func TestStrengthenClampsAndCreates(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	addNodes(t, g, "a", "b")

	// Absent edge: created at clamp(delta).
	if err := g.Strengthen(ctx, "a", "b", 0.3); err != nil {
		t.Fatal(err)
	}
	w, _ := g.EdgeWeight(ctx, "a", "b")
	if w < 0.29 || w > 0.3 {
		t.Errorf("got %f, want ~0.3", w)
	}

	// Repeated reinforcement saturates at 1.
	for i := 0; i < 10; i++ {
		if err := g.Strengthen(ctx, "a", "b", 0.2); err != nil {
			t.Fatal(err)
		}
	}
	w, _ = g.EdgeWeight(ctx, "a", "b")
	if w > 1.0 {
		t.Errorf("weight exceeded 1.0: %f", w)
	}

	// Negative delta floors at 0.
	if err := g.Strengthen(ctx, "a", "b", -5); err != nil {
		t.Fatal(err)
	}
	w, _ = g.EdgeWeight(ctx, "a", "b")
	if w != 0 {
		t.Errorf("got %f, want 0", w)
	}
}

func TestRemoveNodeDropsIncidentEdges(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	addNodes(t, g, "a", "b", "c")
	must(t, g.Connect(ctx, "a", "b", 0.5))
	must(t, g.Connect(ctx, "b", "c", 0.5))

	if err := g.RemoveNode(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.EdgeWeight(ctx, "a", "b"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("got %v, want ErrNodeNotFound", err)
	}
	if _, err := g.Neighbors(ctx, "b", 1); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("got %v, want ErrNodeNotFound", err)
	}
	if err := g.RemoveNode(ctx, "b"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("double remove: got %v, want ErrNodeNotFound", err)
	}

	// Surviving nodes are intact and disconnected.
	na, err := g.Neighbors(ctx, "a", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(na) != 0 {
		t.Errorf("expected no neighbors after cut, got %v", na)
	}
}

func TestNeighborsDepthAndWeight(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	addNodes(t, g, "a", "b", "c", "d")
	must(t, g.Connect(ctx, "a", "b", 0.8))
	must(t, g.Connect(ctx, "b", "c", 0.5))
	must(t, g.Connect(ctx, "c", "d", 0.5))

	one, err := g.Neighbors(ctx, "a", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 1 || one[0].ID != "b" {
		t.Fatalf("depth 1: got %v, want only b", one)
	}

	two, err := g.Neighbors(ctx, "a", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(two) != 2 {
		t.Fatalf("depth 2: got %d neighbors, want 2", len(two))
	}
	// b (direct, ~0.8) outranks c (product ~0.4).
	if two[0].ID != "b" || two[1].ID != "c" {
		t.Errorf("unexpected order: %v", two)
	}
	if two[1].Weight >= two[0].Weight {
		t.Errorf("cumulative weight should shrink with distance")
	}
	if two[1].Depth != 2 {
		t.Errorf("got depth %d for c, want 2", two[1].Depth)
	}
}

func TestShortestPath(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	addNodes(t, g, "a", "b", "c", "d", "e")
	must(t, g.Connect(ctx, "a", "b", 0.9))
	must(t, g.Connect(ctx, "b", "c", 0.9))
	must(t, g.Connect(ctx, "a", "d", 0.1))
	must(t, g.Connect(ctx, "d", "c", 0.1))

	path, err := g.ShortestPath(ctx, "a", "c")
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 3 || path[0] != "a" || path[2] != "c" {
		t.Fatalf("unexpected path %v", path)
	}

	if _, err := g.ShortestPath(ctx, "a", "e"); !errors.Is(err, ErrNoPath) {
		t.Errorf("got %v, want ErrNoPath", err)
	}
	if _, err := g.ShortestPath(ctx, "a", "ghost"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("got %v, want ErrNodeNotFound", err)
	}
}

func TestEdgeDecay(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	g.SetClock(func() time.Time { return now })

	addNodes(t, g, "a", "b")
	must(t, g.Connect(ctx, "a", "b", 0.8))

	// One half-life (336h) halves the weight.
	now = base.Add(336 * time.Hour)
	w, err := g.EdgeWeight(ctx, "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if w < 0.399 || w > 0.401 {
		t.Errorf("got %f, want ~0.4", w)
	}

	updated, err := g.DecaySweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if updated != 1 {
		t.Errorf("got %d updated edges, want 1", updated)
	}
}

func TestEdgesSnapshot(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	addNodes(t, g, "a", "b", "c")
	must(t, g.Connect(ctx, "a", "b", 0.5))
	must(t, g.Connect(ctx, "b", "c", 0.6))

	edges, err := g.Edges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 2 {
		t.Fatalf("got %d edges, want 2 (no duplicates)", len(edges))
	}
	for _, e := range edges {
		if e.A > e.B {
			t.Errorf("edge %v not in canonical order", e)
		}
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
