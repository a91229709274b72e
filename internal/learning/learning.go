// Package learning consumes feedback events and generalized patterns, and
// turns them into strength adjustments. Feedback maps to an explicit signed
// delta table scaled by the caller's confidence; patterns accumulate
// frequency and fade when not reinforced, without ever being deleted, so
// stale associations lose influence but stay auditable.
package learning

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/synapse/internal/memory"
	"go.uber.org/zap"
)

// FeedbackKind enumerates the recognized feedback signals.
type FeedbackKind string

const (
	Positive     FeedbackKind = "positive"
	Negative     FeedbackKind = "negative"
	Neutral      FeedbackKind = "neutral"
	Correction   FeedbackKind = "correction"
	Confirmation FeedbackKind = "confirmation"
)

// ErrInvalidFeedback is returned for unrecognized feedback kinds.
var ErrInvalidFeedback = errors.New("invalid feedback kind")

// ErrPatternNotFound is returned when a pattern lookup misses.
var ErrPatternNotFound = errors.New("pattern not found")

// DefaultDeltas is the documented base delta per feedback kind. The applied
// delta is base * confidence.
func DefaultDeltas() map[string]float64 {
	return map[string]float64{
		string(Positive):     0.10,
		string(Negative):     -0.10,
		string(Confirmation): 0.08,
		string(Correction):   0.05,
		string(Neutral):      0,
	}
}

// Pattern is a generalized, context-independent association keyed by its
// derived signature. Only the learning engine creates or updates patterns.
type Pattern struct {
	ID          string    `json:"id"`
	Signature   string    `json:"signature"`
	Frequency   int64     `json:"frequency"`
	Strength    float64   `json:"strength"`
	Confidence  float64   `json:"confidence"`
	Context     []string  `json:"context"` // merged co-occurring tags
	LastUpdated time.Time `json:"last_updated"`
	CreatedAt   time.Time `json:"created_at"`
}

// Config holds the learning tunables.
type Config struct {
	LearningRate         float64
	PatternHalfLifeHours float64
	FeedbackDeltas       map[string]float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LearningRate:         0.1,
		PatternHalfLifeHours: 720,
		FeedbackDeltas:       DefaultDeltas(),
	}
}

// Engine is the learning engine. Pattern state is owned here; memory
// strength changes are delegated to the store's atomic update path.
type Engine struct {
	cfg    Config
	store  *memory.Store
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	patterns map[string]*Pattern // keyed by signature
}

// New creates a learning engine.
func New(cfg Config, store *memory.Store, logger *zap.Logger) *Engine {
	if cfg.LearningRate == 0 {
		cfg = DefaultConfig()
	}
	if cfg.FeedbackDeltas == nil {
		cfg.FeedbackDeltas = DefaultDeltas()
	}
	return &Engine{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		now:      time.Now,
		patterns: make(map[string]*Pattern),
	}
}

// SetClock replaces the time source for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// AddFeedback applies a signed, confidence-scaled strength delta to the
// memory and returns the delta along with the updated record. Confirmation
// and correction additionally nudge the memory's confidence, since both
// carry information about how much the memory should be trusted.
func (e *Engine) AddFeedback(memoryID string, kind FeedbackKind, confidence float64) (float64, memory.Memory, error) {
	base, ok := e.cfg.FeedbackDeltas[string(kind)]
	if !ok {
		return 0, memory.Memory{}, fmt.Errorf("%w: %q", ErrInvalidFeedback, kind)
	}
	confidence = memory.Clamp(confidence)
	delta := base * confidence

	m, err := e.store.UpdateStrength(memoryID, delta)
	if err != nil {
		return 0, memory.Memory{}, err
	}

	switch kind {
	case Confirmation:
		m, _ = e.store.UpdateConfidence(memoryID, 0.05*confidence)
	case Correction:
		m, _ = e.store.UpdateConfidence(memoryID, -0.05*confidence)
	}

	e.logger.Debug("feedback applied",
		zap.String("memory", memoryID),
		zap.String("kind", string(kind)),
		zap.Float64("delta", delta),
		zap.Float64("strength", m.Strength))
	return delta, m, nil
}

// Learn creates or reinforces the pattern for a signature: frequency is
// incremented, strength grows by learningRate*confidence (clamped, after
// folding in decay since the last reinforcement), and context tags are
// merged.
func (e *Engine) Learn(signature string, contextTags []string, confidence float64) (Pattern, error) {
	if signature == "" {
		return Pattern{}, fmt.Errorf("%w: empty signature", ErrPatternNotFound)
	}
	confidence = memory.Clamp(confidence)
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.patterns[signature]
	if !ok {
		p = &Pattern{
			ID:        uuid.New().String(),
			Signature: signature,
			CreatedAt: now,
		}
		e.patterns[signature] = p
	}

	p.Strength = e.decayedStrength(p, now)
	p.Frequency++
	p.Strength = memory.Clamp(p.Strength + e.cfg.LearningRate*confidence)
	// Confidence converges toward the strongest signal seen so far.
	if confidence > p.Confidence {
		p.Confidence = confidence
	}
	p.Context = mergeTags(p.Context, contextTags)
	p.LastUpdated = now

	e.logger.Debug("pattern reinforced",
		zap.String("signature", signature),
		zap.Int64("frequency", p.Frequency),
		zap.Float64("strength", p.Strength))
	return *p, nil
}

// PatternFilter restricts GetPatterns results.
type PatternFilter struct {
	Signature    string
	Tag          string
	MinStrength  float64
	MinFrequency int64
	Limit        int
}

// GetPatterns returns patterns matching the filter, strongest first.
func (e *Engine) GetPatterns(f PatternFilter) []Pattern {
	now := e.now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Pattern, 0, len(e.patterns))
	for _, p := range e.patterns {
		cp := *p
		cp.Strength = e.decayedStrength(p, now)
		if f.Signature != "" && cp.Signature != f.Signature {
			continue
		}
		if f.Tag != "" && !hasTag(cp.Context, f.Tag) {
			continue
		}
		if cp.Strength < f.MinStrength {
			continue
		}
		if cp.Frequency < f.MinFrequency {
			continue
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].Signature < out[j].Signature
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// GetPattern returns a single pattern by signature.
func (e *Engine) GetPattern(signature string) (Pattern, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.patterns[signature]
	if !ok {
		return Pattern{}, ErrPatternNotFound
	}
	cp := *p
	cp.Strength = e.decayedStrength(p, e.now())
	return cp, nil
}

// DecaySweep folds elapsed time into all pattern strengths. Patterns are
// never deleted here; they fade toward zero influence but remain for audit.
func (e *Engine) DecaySweep() int {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	var updated int
	for _, p := range e.patterns {
		s := e.decayedStrength(p, now)
		if s != p.Strength {
			p.Strength = s
			p.LastUpdated = now
			updated++
		}
	}
	e.logger.Debug("pattern decay sweep complete", zap.Int("updated", updated))
	return updated
}

// Restore inserts a pattern preserving its counters, for snapshot loading.
func (e *Engine) Restore(p Pattern) {
	e.mu.Lock()
	cp := p
	e.patterns[p.Signature] = &cp
	e.mu.Unlock()
}

// Statistics summarizes the pattern table.
func (e *Engine) Statistics() (total int, avgStrength float64) {
	now := e.now()
	e.mu.RLock()
	defer e.mu.RUnlock()
	var sum float64
	for _, p := range e.patterns {
		sum += e.decayedStrength(p, now)
	}
	if len(e.patterns) > 0 {
		avgStrength = sum / float64(len(e.patterns))
	}
	return len(e.patterns), avgStrength
}

func (e *Engine) decayedStrength(p *Pattern, now time.Time) float64 {
	if e.cfg.PatternHalfLifeHours <= 0 || p.LastUpdated.IsZero() {
		return p.Strength
	}
	hours := now.Sub(p.LastUpdated).Hours()
	if hours <= 0 {
		return p.Strength
	}
	return memory.Clamp(p.Strength * math.Pow(0.5, hours/e.cfg.PatternHalfLifeHours))
}

func mergeTags(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range add {
		if t != "" && !seen[t] {
			existing = append(existing, t)
			seen[t] = true
		}
	}
	sort.Strings(existing)
	return existing
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
