package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/nidhogg/synapse/internal/events"
	"go.uber.org/zap"
)

// Start launches the background maintenance loop: time-based decay for
// memories, edges and patterns, purging of long-dormant memories, and
// soft-cap eviction. Call Stop to shut it down.
func (e *Engine) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stop:
				return
			case <-ticker.C:
				e.Sweep(context.Background())
			}
		}
	}()
}

// Stop terminates the maintenance loop and waits for it to exit.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
}

// Sweep runs one maintenance pass. It is safe to call concurrently with
// normal operations: decay is idempotent and purging only touches dormant
// memories.
func (e *Engine) Sweep(ctx context.Context) {
	decayed := e.store.DecaySweep()

	edges, err := e.graph.DecaySweep(ctx)
	if err != nil {
		e.logger.Warn("edge decay sweep", zap.Error(err))
	}
	patterns := e.learn.DecaySweep()

	maxDormancy := time.Duration(e.cfg.MaxDormancyHours * float64(time.Hour))
	purged := e.store.PurgeDormant(maxDormancy)
	for _, id := range purged {
		e.cleanupRemoved(ctx, id, events.KindMemoryDeleted)
	}

	// Soft cap: evict the weakest dormant memories when over budget.
	// Active memories are never evicted by the cap.
	var evicted []string
	if e.cfg.MemorySize > 0 {
		if over := e.store.Len() - e.cfg.MemorySize; over > 0 {
			evicted = e.store.WeakestDormant(over)
			for _, id := range evicted {
				e.store.Delete(id)
				e.cleanupRemoved(ctx, id, events.KindMemoryEvicted)
			}
		}
	}

	e.snapshotEdges(ctx)

	e.bus.Publish(ctx, events.Event{
		Kind:    events.KindDecaySweep,
		Subject: "sweep",
		Fields: map[string]string{
			"memories_decayed": strconv.Itoa(decayed),
			"edges_decayed":    strconv.Itoa(edges),
			"patterns_decayed": strconv.Itoa(patterns),
			"purged":           strconv.Itoa(len(purged)),
			"evicted":          strconv.Itoa(len(evicted)),
		},
	})
	e.logger.Info("maintenance sweep",
		zap.Int("memories_decayed", decayed),
		zap.Int("edges_decayed", edges),
		zap.Int("patterns_decayed", patterns),
		zap.Int("purged", len(purged)),
		zap.Int("evicted", len(evicted)))
}

func (e *Engine) cleanupRemoved(ctx context.Context, id, eventKind string) {
	if err := e.index.Remove(ctx, id); err != nil {
		e.logger.Warn("remove index entry", zap.String("id", id), zap.Error(err))
	}
	if err := e.graph.RemoveNode(ctx, id); err != nil {
		e.logger.Debug("remove graph node", zap.String("id", id), zap.Error(err))
	}
	if e.db != nil {
		if err := e.db.DeleteMemory(ctx, id); err != nil {
			e.logger.Warn("delete snapshot", zap.String("id", id), zap.Error(err))
		}
	}
	e.bus.Publish(ctx, events.Event{Kind: eventKind, Subject: id})
}

// snapshotEdges writes the current edge weights to the snapshot store so
// Hebbian reinforcement accumulated since the last sweep survives restarts.
func (e *Engine) snapshotEdges(ctx context.Context) {
	if e.db == nil {
		return
	}
	edges, err := e.graph.Edges(ctx)
	if err != nil {
		e.logger.Warn("snapshot edges", zap.Error(err))
		return
	}
	for _, edge := range edges {
		if err := e.db.SaveEdge(ctx, edge); err != nil {
			e.logger.Warn("persist edge", zap.String("a", edge.A), zap.String("b", edge.B), zap.Error(err))
			return
		}
	}
}

// LoadSnapshot restores memories, edges and patterns from the snapshot
// store into the in-process structures. Call once at startup, before
// serving traffic.
func (e *Engine) LoadSnapshot(ctx context.Context) error {
	if e.db == nil {
		return nil
	}

	memories, err := e.db.LoadMemories(ctx)
	if err != nil {
		return err
	}
	for _, m := range memories {
		if err := e.store.Restore(m); err != nil {
			e.logger.Warn("restore memory", zap.String("id", m.ID), zap.Error(err))
			continue
		}
		if err := e.index.Upsert(ctx, m.ID, m.Embedding); err != nil {
			e.logger.Warn("reindex memory", zap.String("id", m.ID), zap.Error(err))
		}
		if err := e.graph.AddNode(ctx, m.ID); err != nil {
			e.logger.Warn("restore graph node", zap.String("id", m.ID), zap.Error(err))
		}
	}

	edges, err := e.db.LoadEdges(ctx)
	if err != nil {
		return err
	}
	for _, edge := range edges {
		if err := e.graph.Connect(ctx, edge.A, edge.B, edge.Weight); err != nil {
			e.logger.Warn("restore edge", zap.String("a", edge.A), zap.String("b", edge.B), zap.Error(err))
		}
	}

	patterns, err := e.db.LoadPatterns(ctx)
	if err != nil {
		return err
	}
	for _, p := range patterns {
		e.learn.Restore(p)
	}

	e.logger.Info("snapshot loaded",
		zap.Int("memories", len(memories)),
		zap.Int("edges", len(edges)),
		zap.Int("patterns", len(patterns)))
	return nil
}
