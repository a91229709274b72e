package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nidhogg/synapse/internal/graph"
	"github.com/nidhogg/synapse/internal/memory"
	"github.com/nidhogg/synapse/internal/vector"
	"go.uber.org/zap"
)

type fixture struct {
	store  *memory.Store
	index  *vector.Flat
	graph  *graph.Memory
	router *Router
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		store: memory.NewStore(memory.DefaultStoreConfig(), logger),
		index: vector.NewFlat(),
		graph: graph.NewMemory(336, logger),
		now:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.router = New(DefaultConfig(), f.store, f.index, f.graph, logger)
	clock := func() time.Time { return f.now }
	f.store.SetClock(clock)
	f.graph.SetClock(clock)
	f.router.SetClock(clock)
	return f
}

func (f *fixture) add(t *testing.T, embedding []float32, strength float64) string {
	t.Helper()
	ctx := context.Background()
	m := memory.Memory{Type: memory.Episodic, Strength: strength, Embedding: embedding}
	if err := f.store.Create(&m); err != nil {
		t.Fatal(err)
	}
	if err := f.index.Upsert(ctx, m.ID, embedding); err != nil {
		t.Fatal(err)
	}
	if err := f.graph.AddNode(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	return m.ID
}

func TestActivateCapsActiveSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		f.add(t, []float32{1, float32(i) * 0.01, 0}, 0.8)
	}

	active, err := f.router.Activate(ctx, []float32{1, 0, 0}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) > 7 {
		t.Fatalf("active set %d exceeds cap 7", len(active))
	}

	// Explicit max above the cap is clipped.
	active, err = f.router.Activate(ctx, []float32{1, 0, 0}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) > 7 {
		t.Fatalf("active set %d exceeds cap with max=100", len(active))
	}

	// Smaller explicit max wins.
	active, err = f.router.Activate(ctx, []float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) > 3 {
		t.Fatalf("active set %d exceeds requested max 3", len(active))
	}
}

func TestActivateOrderAndSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A is both more similar and stronger than B.
	a := f.add(t, []float32{1, 0, 0}, 0.9)
	b := f.add(t, []float32{1, 0.5, 0}, 0.5)

	active, err := f.router.Activate(ctx, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Fatalf("got %d activations, want 2", len(active))
	}
	if active[0].Memory.ID != a || active[1].Memory.ID != b {
		t.Errorf("expected order [a, b], got [%s, %s]", active[0].Memory.ID, active[1].Memory.ID)
	}
	if active[0].Score <= active[1].Score {
		t.Errorf("scores not descending: %f then %f", active[0].Score, active[1].Score)
	}

	// Retrieval bookkeeping applied to the selected set.
	ma, _ := f.store.Get(a)
	if ma.AccessCount != 1 {
		t.Errorf("got access count %d, want 1", ma.AccessCount)
	}

	// Co-activation created a reinforced edge between the pair.
	w, err := f.graph.EdgeWeight(ctx, a, b)
	if err != nil {
		t.Fatalf("expected edge after co-activation: %v", err)
	}
	if w <= 0 {
		t.Errorf("edge weight %f not positive", w)
	}

	// A second activation strengthens it further.
	if _, err := f.router.Activate(ctx, []float32{1, 0, 0}, 5); err != nil {
		t.Fatal(err)
	}
	w2, _ := f.graph.EdgeWeight(ctx, a, b)
	if w2 <= w {
		t.Errorf("edge weight did not grow: %f -> %f", w, w2)
	}
}

func TestActivateExcludesDormant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.add(t, []float32{1, 0, 0}, 0.1) // below activation threshold
	strong := f.add(t, []float32{1, 0, 0}, 0.8)

	active, err := f.router.Activate(ctx, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Memory.ID != strong {
		t.Fatalf("dormant memory leaked into the active set: %v", active)
	}
}

func TestActivateGraphExpansion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// hit matches the query; assoc is dissimilar but strongly linked to hit.
	hit := f.add(t, []float32{1, 0, 0}, 0.8)
	assoc := f.add(t, []float32{0, 1, 0}, 0.8)
	if err := f.graph.Connect(ctx, hit, assoc, 0.9); err != nil {
		t.Fatal(err)
	}

	active, err := f.router.Activate(ctx, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, a := range active {
		if a.Memory.ID == assoc {
			found = true
		}
	}
	if !found {
		t.Error("graph-linked memory not pulled into the active set")
	}
}

func TestActivateCancelledContextLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t)

	a := f.add(t, []float32{1, 0, 0}, 0.9)
	b := f.add(t, []float32{1, 0.2, 0}, 0.8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.router.Activate(ctx, []float32{1, 0, 0}, 5)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}

	for _, id := range []string{a, b} {
		m, _ := f.store.Get(id)
		if m.AccessCount != 0 {
			t.Errorf("cancelled activation touched memory %s", id)
		}
	}
	if _, err := f.graph.EdgeWeight(context.Background(), a, b); !errors.Is(err, graph.ErrNoPath) {
		t.Errorf("cancelled activation created an edge: %v", err)
	}
}

func TestActivateEmptyStore(t *testing.T) {
	f := newFixture(t)

	active, err := f.router.Activate(context.Background(), []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Fatalf("got %d activations from an empty store", len(active))
	}
}

func TestScoreBlendsRecency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two equally similar, equally strong memories; one goes idle.
	fresh := f.add(t, []float32{1, 0, 0}, 0.8)
	stale := f.add(t, []float32{1, 0, 0}, 0.8)

	// Age the stale one by simulating time passing, then refreshing only
	// the fresh one's access time.
	f.now = f.now.Add(72 * time.Hour)
	f.store.Touch(fresh)

	active, err := f.router.Activate(ctx, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Fatalf("got %d activations, want 2", len(active))
	}
	if active[0].Memory.ID != fresh {
		t.Errorf("recently accessed memory should outrank the idle one")
	}
	if active[1].Memory.ID != stale {
		t.Errorf("idle memory missing from the active set")
	}
}
