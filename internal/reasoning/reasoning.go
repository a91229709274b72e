// Package reasoning synthesizes conclusions from activated memories. The
// engine is read-mostly: it consumes the router's active set and the learning
// engine's pattern table, ranks contributors, and delegates the actual
// conclusion text to a pluggable Synthesizer strategy. It never mutates
// memory itself — retrieval side effects belong to the router.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nidhogg/synapse/internal/learning"
	"github.com/nidhogg/synapse/internal/router"
	"go.uber.org/zap"
)

// ErrInsufficientEvidence is returned when the active set is empty. It is a
// normal, non-fatal outcome: callers surface it as a low-confidence
// "no answer" rather than a failure.
var ErrInsufficientEvidence = errors.New("insufficient evidence")

// Contributor is one entry of the reasoning path.
type Contributor struct {
	Kind       string  `json:"kind"` // "memory" or "pattern"
	ID         string  `json:"id"`
	Signature  string  `json:"signature,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
	Weight     float64 `json:"weight"` // strength * confidence at use time
}

// Result is the ephemeral output of a reasoning call. It is not persisted
// unless the caller explicitly stores it as a new memory.
type Result struct {
	Conclusion string        `json:"conclusion"`
	Confidence float64       `json:"confidence"`
	Path       []Contributor `json:"reasoning_path"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Synthesizer produces the conclusion text from ranked evidence. The default
// is a heuristic summarizer; deployments plug in their own (an LLM-backed
// one, a rules engine) without touching the ranking and confidence logic.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, active []router.Activation, patterns []learning.Pattern) (string, error)
}

// Engine runs the activate → rank → synthesize loop.
type Engine struct {
	router   *router.Router
	learning *learning.Engine
	synth    Synthesizer
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a reasoning engine. A nil synthesizer falls back to the
// heuristic one.
func New(r *router.Router, l *learning.Engine, synth Synthesizer, logger *zap.Logger) *Engine {
	if synth == nil {
		synth = HeuristicSynthesizer{}
	}
	return &Engine{router: r, learning: l, synth: synth, logger: logger, now: time.Now}
}

// SetClock replaces the time source for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Reason activates memories for the query embedding, ranks contributors by
// strength × confidence, and synthesizes a conclusion with an aggregate
// confidence. An empty active set yields ErrInsufficientEvidence with no
// side effects.
func (e *Engine) Reason(ctx context.Context, query string, queryEmbedding []float32, max int) (Result, error) {
	active, err := e.router.Activate(ctx, queryEmbedding, max)
	if err != nil {
		return Result{}, fmt.Errorf("activate: %w", err)
	}
	if len(active) == 0 {
		return Result{}, ErrInsufficientEvidence
	}

	// Rank by strength × confidence; the router's score ordering got them
	// here, but contribution order is about how much each can be trusted.
	sort.Slice(active, func(i, j int) bool {
		wi := active[i].Memory.Strength * active[i].Memory.Confidence
		wj := active[j].Memory.Strength * active[j].Memory.Confidence
		if wi != wj {
			return wi > wj
		}
		return active[i].Memory.ID < active[j].Memory.ID
	})

	// Pull in the learned patterns behind the contributing signatures.
	patterns := e.contributingPatterns(active)

	conclusion, err := e.synth.Synthesize(ctx, query, active, patterns)
	if err != nil {
		return Result{}, fmt.Errorf("synthesize: %w", err)
	}

	path := make([]Contributor, 0, len(active)+len(patterns))
	var confSum, weightSum float64
	for _, a := range active {
		w := a.Memory.Strength * a.Memory.Confidence
		path = append(path, Contributor{
			Kind:       "memory",
			ID:         a.Memory.ID,
			Signature:  a.Memory.Signature,
			Similarity: a.Similarity,
			Weight:     w,
		})
		confSum += a.Memory.Confidence * w
		weightSum += w
	}
	for _, p := range patterns {
		path = append(path, Contributor{
			Kind:      "pattern",
			ID:        p.ID,
			Signature: p.Signature,
			Weight:    p.Strength * p.Confidence,
		})
	}

	confidence := 0.0
	if weightSum > 0 {
		confidence = confSum / weightSum
	}
	// Thin evidence should not produce confident answers: discount by the
	// active-set size so one strong memory alone stays tentative.
	confidence *= float64(len(active)) / float64(len(active)+2)

	res := Result{
		Conclusion: conclusion,
		Confidence: confidence,
		Path:       path,
		Timestamp:  e.now(),
	}
	e.logger.Debug("reasoning complete",
		zap.Int("contributors", len(path)),
		zap.Float64("confidence", res.Confidence))
	return res, nil
}

func (e *Engine) contributingPatterns(active []router.Activation) []learning.Pattern {
	seen := map[string]bool{}
	var out []learning.Pattern
	for _, a := range active {
		sig := a.Memory.Signature
		if sig == "" || seen[sig] {
			continue
		}
		seen[sig] = true
		if p, err := e.learning.GetPattern(sig); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// Explain renders a result's reasoning path as human-readable lines.
func Explain(r Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "conclusion: %s\n", r.Conclusion)
	fmt.Fprintf(&b, "confidence: %.2f\n", r.Confidence)
	b.WriteString("evidence:\n")
	for i, c := range r.Path {
		if c.Kind == "pattern" {
			fmt.Fprintf(&b, "  %d. pattern %s (weight %.2f)\n", i+1, c.Signature, c.Weight)
			continue
		}
		fmt.Fprintf(&b, "  %d. memory %s (weight %.2f, similarity %.2f)\n", i+1, c.ID, c.Weight, c.Similarity)
	}
	return b.String()
}

// HeuristicSynthesizer is the default strategy: a deterministic summary of
// the strongest evidence. It exists so the engine is usable without any
// external model; richer deployments replace it.
type HeuristicSynthesizer struct{}

// Synthesize names the dominant signature and summarizes the supporting
// evidence counts.
func (HeuristicSynthesizer) Synthesize(_ context.Context, query string, active []router.Activation, patterns []learning.Pattern) (string, error) {
	top := active[0]
	var b strings.Builder
	fmt.Fprintf(&b, "based on %d related memories", len(active))
	if len(patterns) > 0 {
		fmt.Fprintf(&b, " and %d learned patterns", len(patterns))
	}
	fmt.Fprintf(&b, ", the closest match for %q is %s", query, top.Memory.Signature)
	fmt.Fprintf(&b, " (strength %.2f, similarity %.2f)", top.Memory.Strength, top.Similarity)
	return b.String(), nil
}
