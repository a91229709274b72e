// Package engine wires the encoder, memory store, vector index, associative
// graph, activation router, learning engine and reasoning engine into one
// facade. All external surfaces (HTTP API, CLI) talk to this package only.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nidhogg/synapse/internal/config"
	"github.com/nidhogg/synapse/internal/encoder"
	"github.com/nidhogg/synapse/internal/events"
	"github.com/nidhogg/synapse/internal/graph"
	"github.com/nidhogg/synapse/internal/learning"
	"github.com/nidhogg/synapse/internal/memory"
	"github.com/nidhogg/synapse/internal/reasoning"
	"github.com/nidhogg/synapse/internal/router"
	pgstore "github.com/nidhogg/synapse/internal/store"
	"github.com/nidhogg/synapse/internal/vector"
	"go.uber.org/zap"
)

// Options carries the optional collaborators. Zero values are fully
// functional: no persistence, no events, heuristic reasoning.
type Options struct {
	// Persister enables write-behind snapshots to PostgreSQL.
	Persister *pgstore.Store

	// Bus publishes engine lifecycle events to Redis Streams. Nil is a
	// no-op sink.
	Bus *events.Bus

	// Synthesizer overrides the default heuristic conclusion strategy.
	Synthesizer reasoning.Synthesizer

	// StoreConclusions records reasoning results back into the store as
	// semantic memories, closing the loop between reasoning and recall.
	StoreConclusions bool
}

// Engine is the associative memory engine facade.
type Engine struct {
	cfg    config.EngineConfig
	enc    *encoder.Encoder
	store  *memory.Store
	index  vector.Index
	graph  graph.Graph
	router *router.Router
	learn  *learning.Engine
	reason *reasoning.Engine
	db     *pgstore.Store
	bus    *events.Bus
	logger *zap.Logger
	opts   Options

	stop chan struct{}
	done chan struct{}
}

// New assembles an engine from its pluggable backends.
func New(cfg *config.Config, enc *encoder.Encoder, index vector.Index, g graph.Graph, opts Options, logger *zap.Logger) *Engine {
	ec := cfg.Engine

	store := memory.NewStore(memory.StoreConfig{
		Dimension:           enc.Dimension(),
		DefaultStrength:     ec.DefaultStrength,
		DefaultConfidence:   ec.DefaultConfidence,
		ActivationThreshold: ec.ActivationThreshold,
		AccessGain:          ec.AccessGain,
		HalfLifeHours:       ec.DecayHalfLifeHours,
	}, logger)

	rt := router.New(router.Config{
		MaxActive:            ec.MaxReasoningDepth,
		CandidateFactor:      3,
		SimilarityThreshold:  ec.SimilarityThreshold,
		ActivationThreshold:  ec.ActivationThreshold,
		SimilarityWeight:     ec.SimilarityWeight,
		StrengthWeight:       ec.StrengthWeight,
		RecencyWeight:        ec.RecencyWeight,
		RecencyHalfLifeHours: ec.RecencyHalfLifeHours,
		EdgeReinforceDelta:   ec.EdgeReinforceDelta,
	}, store, index, g, logger)

	le := learning.New(learning.Config{
		LearningRate:         ec.LearningRate,
		PatternHalfLifeHours: ec.PatternHalfLifeHours,
		FeedbackDeltas:       ec.FeedbackDeltas,
	}, store, logger)

	re := reasoning.New(rt, le, opts.Synthesizer, logger)

	return &Engine{
		cfg:    ec,
		enc:    enc,
		store:  store,
		index:  index,
		graph:  g,
		router: rt,
		learn:  le,
		reason: re,
		db:     opts.Persister,
		bus:    opts.Bus,
		logger: logger,
		opts:   opts,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// SetClock propagates a fake time source to every time-dependent component.
func (e *Engine) SetClock(now func() time.Time) {
	e.store.SetClock(now)
	e.router.SetClock(now)
	e.learn.SetClock(now)
	e.reason.SetClock(now)
	if g, ok := e.graph.(*graph.Memory); ok {
		g.SetClock(now)
	}
}

// StoreMemory encodes content, persists it as a new memory, indexes its
// embedding, registers the graph node and reinforces the content's learned
// pattern. Strength/confidence of 0 take the configured defaults; for
// confidence, the encoder's structural estimate wins over the global default.
func (e *Engine) StoreMemory(ctx context.Context, content any, memType string, tags []string, strength, confidence float64) (memory.Memory, error) {
	if _, err := memory.ParseType(memType); err != nil {
		return memory.Memory{}, err
	}
	rep, embedding, err := e.enc.Encode(ctx, content, memType)
	if err != nil {
		return memory.Memory{}, err
	}
	if confidence == 0 {
		confidence = rep.Confidence
	}

	m := memory.Memory{
		Type:       memory.Type(memType),
		Content:    rep.Canonical,
		Signature:  rep.Signature,
		Embedding:  embedding,
		Strength:   strength,
		Confidence: confidence,
		Tags:       tags,
	}
	if err := e.store.Create(&m); err != nil {
		return memory.Memory{}, err
	}
	if err := e.index.Upsert(ctx, m.ID, embedding); err != nil {
		e.store.Delete(m.ID)
		return memory.Memory{}, fmt.Errorf("index memory: %w", err)
	}
	if err := e.graph.AddNode(ctx, m.ID); err != nil {
		e.store.Delete(m.ID)
		if rerr := e.index.Remove(ctx, m.ID); rerr != nil {
			e.logger.Warn("rollback index entry", zap.String("id", m.ID), zap.Error(rerr))
		}
		return memory.Memory{}, fmt.Errorf("register graph node: %w", err)
	}

	if _, err := e.learn.Learn(rep.Signature, tags, rep.Confidence); err != nil {
		e.logger.Warn("reinforce pattern", zap.String("signature", rep.Signature), zap.Error(err))
	}

	e.persistMemory(ctx, m.ID)
	e.bus.Publish(ctx, events.Event{
		Kind:    events.KindMemoryStored,
		Subject: m.ID,
		Fields: map[string]string{
			"type":      memType,
			"signature": m.Signature,
		},
	})
	e.logger.Info("memory stored",
		zap.String("id", m.ID),
		zap.String("type", memType),
		zap.String("signature", m.Signature))
	return m, nil
}

// GetMemory retrieves a memory by id. Retrieval counts as access: the
// memory's strength receives the diminishing-returns boost and its access
// counter increments.
func (e *Engine) GetMemory(ctx context.Context, id string) (memory.Memory, error) {
	if _, err := e.store.Get(id); err != nil {
		return memory.Memory{}, err
	}
	e.store.Touch(id)
	m, err := e.store.Get(id)
	if err != nil {
		return memory.Memory{}, err
	}
	e.persistMemory(ctx, id)
	e.bus.Publish(ctx, events.Event{Kind: events.KindMemoryAccessed, Subject: id})
	return m, nil
}

// PeekMemory retrieves a memory without the access side effects.
func (e *Engine) PeekMemory(id string) (memory.Memory, error) {
	return e.store.Get(id)
}

// SearchMemories encodes the query content and activates the most relevant
// memories. The activation applies retrieval side effects (access boost,
// Hebbian edge reinforcement) to the selected set.
func (e *Engine) SearchMemories(ctx context.Context, query any, max int) ([]router.Activation, error) {
	_, embedding, err := e.enc.Encode(ctx, query, string(memory.Working))
	if err != nil {
		return nil, err
	}
	active, err := e.router.Activate(ctx, embedding, max)
	if err != nil {
		return nil, err
	}
	for _, a := range active {
		e.persistMemory(ctx, a.Memory.ID)
	}
	return active, nil
}

// ListMemories returns stored memories matching the filter without access
// side effects.
func (e *Engine) ListMemories(f memory.Filter) []memory.Memory {
	return e.store.List(f)
}

// UpdateMemoryStrength applies a signed delta with clamping. Concurrent
// conflicts are retried a bounded number of times.
func (e *Engine) UpdateMemoryStrength(ctx context.Context, id string, delta float64) (memory.Memory, error) {
	var m memory.Memory
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		m, err = e.store.UpdateStrength(id, delta)
		if !errors.Is(err, memory.ErrConflict) {
			break
		}
	}
	if err != nil {
		return memory.Memory{}, err
	}
	e.persistMemory(ctx, id)
	return m, nil
}

// DeleteMemory removes a memory everywhere: store, vector index, graph and
// snapshot. Deleting a missing id returns memory.ErrNotFound.
func (e *Engine) DeleteMemory(ctx context.Context, id string) error {
	if !e.store.Delete(id) {
		return memory.ErrNotFound
	}
	if err := e.index.Remove(ctx, id); err != nil {
		e.logger.Warn("remove index entry", zap.String("id", id), zap.Error(err))
	}
	if err := e.graph.RemoveNode(ctx, id); err != nil && !errors.Is(err, graph.ErrNodeNotFound) {
		e.logger.Warn("remove graph node", zap.String("id", id), zap.Error(err))
	}
	if e.db != nil {
		if err := e.db.DeleteMemory(ctx, id); err != nil {
			e.logger.Warn("delete snapshot", zap.String("id", id), zap.Error(err))
		}
	}
	e.bus.Publish(ctx, events.Event{Kind: events.KindMemoryDeleted, Subject: id})
	return nil
}

// AddFeedback adjusts a memory's strength by the feedback kind's base delta
// scaled by confidence, and nudges the pattern behind the memory's signature.
func (e *Engine) AddFeedback(ctx context.Context, memoryID string, kind learning.FeedbackKind, confidence float64) (float64, memory.Memory, error) {
	delta, m, err := e.learn.AddFeedback(memoryID, kind, confidence)
	if err != nil {
		return 0, memory.Memory{}, err
	}
	e.persistMemory(ctx, memoryID)
	e.bus.Publish(ctx, events.Event{
		Kind:    events.KindFeedbackApplied,
		Subject: memoryID,
		Fields: map[string]string{
			"feedback": string(kind),
			"delta":    strconv.FormatFloat(delta, 'f', 4, 64),
		},
	})
	return delta, m, nil
}

// Learn reinforces (or creates) the pattern for a signature directly,
// without storing a memory.
func (e *Engine) Learn(ctx context.Context, signature string, contextTags []string, confidence float64) (learning.Pattern, error) {
	p, err := e.learn.Learn(signature, contextTags, confidence)
	if err != nil {
		return learning.Pattern{}, err
	}
	if e.db != nil {
		if perr := e.db.SavePattern(ctx, p); perr != nil {
			e.logger.Warn("persist pattern", zap.String("signature", signature), zap.Error(perr))
		}
	}
	e.bus.Publish(ctx, events.Event{Kind: events.KindPatternLearned, Subject: signature})
	return p, nil
}

// GetLearningPatterns returns patterns matching the filter, strongest first.
func (e *Engine) GetLearningPatterns(f learning.PatternFilter) []learning.Pattern {
	return e.learn.GetPatterns(f)
}

// Reason activates memories for the query and synthesizes a conclusion.
// When store is set (or StoreConclusions is enabled process-wide), a
// sufficiently confident result is written back as a semantic memory so
// future queries can recall past conclusions.
func (e *Engine) Reason(ctx context.Context, query string, max int, store bool) (reasoning.Result, error) {
	_, embedding, err := e.enc.Encode(ctx, query, string(memory.Working))
	if err != nil {
		return reasoning.Result{}, err
	}
	res, err := e.reason.Reason(ctx, query, embedding, max)
	if err != nil {
		return reasoning.Result{}, err
	}
	for _, c := range res.Path {
		if c.Kind == "memory" {
			e.persistMemory(ctx, c.ID)
		}
	}

	if (store || e.opts.StoreConclusions) && res.Confidence >= e.cfg.ActivationThreshold {
		conclusion := map[string]any{
			"query":      query,
			"conclusion": res.Conclusion,
			"confidence": res.Confidence,
		}
		if _, serr := e.StoreMemory(ctx, conclusion, string(memory.Semantic),
			[]string{"reasoning"}, 0, res.Confidence); serr != nil {
			e.logger.Warn("store conclusion", zap.Error(serr))
		}
	}
	return res, nil
}

// ExplainConclusion renders a reasoning result's evidence path as text.
func (e *Engine) ExplainConclusion(res reasoning.Result) string {
	return reasoning.Explain(res)
}

// ConnectMemories creates (or resets) an explicit association between two
// stored memories.
func (e *Engine) ConnectMemories(ctx context.Context, a, b string, weight float64) error {
	for _, id := range []string{a, b} {
		if _, err := e.store.Get(id); err != nil {
			return fmt.Errorf("memory %s: %w", id, err)
		}
	}
	if err := e.graph.Connect(ctx, a, b, weight); err != nil {
		return err
	}
	e.persistEdge(ctx, a, b)
	return nil
}

// GetNeighbors traverses the associative graph from a memory.
func (e *Engine) GetNeighbors(ctx context.Context, id string, depth int) ([]graph.Neighbor, error) {
	return e.graph.Neighbors(ctx, id, depth)
}

// FindPath returns the hop-minimal association chain between two memories.
func (e *Engine) FindPath(ctx context.Context, a, b string) ([]string, error) {
	return e.graph.ShortestPath(ctx, a, b)
}

// Stats is the combined engine statistics snapshot.
type Stats struct {
	Memories memory.Stats `json:"memories"`
	Patterns struct {
		Total           int     `json:"total"`
		AverageStrength float64 `json:"average_strength"`
	} `json:"patterns"`
	Edges   int `json:"edges"`
	Indexed int `json:"indexed"`
}

// Statistics collects counters from every component.
func (e *Engine) Statistics(ctx context.Context) (Stats, error) {
	var st Stats
	st.Memories = e.store.Statistics()
	st.Patterns.Total, st.Patterns.AverageStrength = e.learn.Statistics()

	edges, err := e.graph.Edges(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("graph edges: %w", err)
	}
	st.Edges = len(edges)

	n, err := e.index.Len(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("index size: %w", err)
	}
	st.Indexed = n
	return st, nil
}

func (e *Engine) persistMemory(ctx context.Context, id string) {
	if e.db == nil {
		return
	}
	m, err := e.store.Get(id)
	if err != nil {
		return
	}
	if err := e.db.SaveMemory(ctx, m); err != nil {
		e.logger.Warn("persist memory", zap.String("id", id), zap.Error(err))
	}
}

func (e *Engine) persistEdge(ctx context.Context, a, b string) {
	if e.db == nil {
		return
	}
	w, err := e.graph.EdgeWeight(ctx, a, b)
	if err != nil {
		return
	}
	if err := e.db.SaveEdge(ctx, graph.Edge{A: a, B: b, Weight: w, UpdatedAt: time.Now()}); err != nil {
		e.logger.Warn("persist edge", zap.String("a", a), zap.String("b", b), zap.Error(err))
	}
}
