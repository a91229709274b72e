package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StoreConfig holds the tunables the store needs. Zero values are replaced
// with documented defaults.
type StoreConfig struct {
	Dimension           int                // expected embedding length, 0 = unchecked
	DefaultStrength     float64            // strength assigned when caller passes 0
	DefaultConfidence   float64            // confidence assigned when caller passes 0
	ActivationThreshold float64            // active/dormant boundary
	AccessGain          float64            // boost factor per access
	HalfLifeHours       map[string]float64 // decay half-life per memory type
}

// DefaultStoreConfig returns sensible defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		DefaultStrength:     0.5,
		DefaultConfidence:   0.5,
		ActivationThreshold: 0.2,
		AccessGain:          0.1,
		HalfLifeHours: map[string]float64{
			string(Episodic):   168,
			string(Semantic):   720,
			string(Procedural): 1440,
			string(Emotional):  336,
			string(Working):    24,
		},
	}
}

// record wraps a memory with its own mutex so concurrent strength updates on
// different ids never contend with each other.
type record struct {
	mu sync.Mutex
	m  Memory
	// decayedAt is the reference point for lazy decay. Strength stored in
	// m is valid as of this instant.
	decayedAt time.Time
}

// Store owns the set of memory records and their strength lifecycle. Reads
// proceed without blocking writers except for the specific record being
// mutated; the outer map lock is only held long enough to locate a record.
type Store struct {
	cfg    StoreConfig
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	records map[string]*record
}

// NewStore creates an in-memory store.
func NewStore(cfg StoreConfig, logger *zap.Logger) *Store {
	if cfg.AccessGain == 0 && cfg.DefaultStrength == 0 {
		cfg = DefaultStoreConfig()
	}
	return &Store{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		records: make(map[string]*record),
	}
}

// SetClock replaces the time source. Tests use this to drive decay.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Create validates and persists a new memory. The id and timestamps are
// assigned here; strength and confidence fall back to configured defaults
// and are clamped to [0,1].
func (s *Store) Create(m *Memory) error {
	if _, err := ParseType(string(m.Type)); err != nil {
		return err
	}
	if s.cfg.Dimension > 0 && len(m.Embedding) != s.cfg.Dimension {
		return fmt.Errorf("embedding dimension %d, want %d", len(m.Embedding), s.cfg.Dimension)
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Strength == 0 {
		m.Strength = s.cfg.DefaultStrength
	}
	if m.Confidence == 0 {
		m.Confidence = s.cfg.DefaultConfidence
	}
	m.Strength = Clamp(m.Strength)
	m.Confidence = Clamp(m.Confidence)
	now := s.now()
	m.CreatedAt = now
	m.LastAccessed = now

	cp := *m
	s.mu.Lock()
	s.records[m.ID] = &record{m: cp, decayedAt: now}
	s.mu.Unlock()

	s.logger.Debug("memory stored",
		zap.String("id", m.ID),
		zap.String("type", string(m.Type)),
		zap.Float64("strength", m.Strength))
	return nil
}

// Restore inserts a memory preserving its id, timestamps and counters. Used
// when loading a snapshot from a persistence backend.
func (s *Store) Restore(m Memory) error {
	if _, err := ParseType(string(m.Type)); err != nil {
		return err
	}
	m.Strength = Clamp(m.Strength)
	m.Confidence = Clamp(m.Confidence)
	ref := m.LastAccessed
	if ref.IsZero() {
		ref = s.now()
	}
	s.mu.Lock()
	s.records[m.ID] = &record{m: m, decayedAt: ref}
	s.mu.Unlock()
	return nil
}

func (s *Store) lookup(id string) (*record, bool) {
	s.mu.RLock()
	r, ok := s.records[id]
	s.mu.RUnlock()
	return r, ok
}

// Get returns a copy of the memory with decay applied. It is a pure read:
// access counters and strength boosts only happen through Touch.
func (s *Store) Get(id string) (Memory, error) {
	r, ok := s.lookup(id)
	if !ok {
		return Memory{}, ErrNotFound
	}
	r.mu.Lock()
	s.applyDecayLocked(r, s.now())
	m := r.m
	r.mu.Unlock()
	return m, nil
}

// Touch records a successful retrieval: increments the access count, moves
// last_accessed forward and counteracts decay with diminishing returns
// (strength += (1-strength) * gain). Missing ids are skipped; retrieval
// bookkeeping must not fail a read that already succeeded.
func (s *Store) Touch(ids ...string) {
	now := s.now()
	for _, id := range ids {
		r, ok := s.lookup(id)
		if !ok {
			continue
		}
		r.mu.Lock()
		s.applyDecayLocked(r, now)
		r.m.AccessCount++
		r.m.LastAccessed = now
		r.m.Strength = Clamp(r.m.Strength + (1-r.m.Strength)*s.cfg.AccessGain)
		r.mu.Unlock()
	}
}

// UpdateStrength applies strength = clamp(strength + delta) atomically with
// respect to concurrent updates on the same id, and returns the updated
// memory.
func (s *Store) UpdateStrength(id string, delta float64) (Memory, error) {
	r, ok := s.lookup(id)
	if !ok {
		return Memory{}, ErrNotFound
	}
	r.mu.Lock()
	s.applyDecayLocked(r, s.now())
	r.m.Strength = Clamp(r.m.Strength + delta)
	m := r.m
	r.mu.Unlock()
	return m, nil
}

// UpdateConfidence adjusts the confidence score with the same clamping and
// atomicity rules as UpdateStrength.
func (s *Store) UpdateConfidence(id string, delta float64) (Memory, error) {
	r, ok := s.lookup(id)
	if !ok {
		return Memory{}, ErrNotFound
	}
	r.mu.Lock()
	r.m.Confidence = Clamp(r.m.Confidence + delta)
	m := r.m
	r.mu.Unlock()
	return m, nil
}

// Delete removes the memory. The caller is responsible for removing the
// vector index entry and incident graph edges.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	_, ok := s.records[id]
	delete(s.records, id)
	s.mu.Unlock()
	if ok {
		s.logger.Debug("memory deleted", zap.String("id", id))
	}
	return ok
}

// Len returns the number of stored memories.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Filter restricts List results. Zero values mean "no constraint".
type Filter struct {
	Type           Type
	Tag            string
	MinStrength    float64
	MaxStrength    float64 // 0 means 1.0
	CreatedAfter   time.Time
	CreatedBefore  time.Time
	IncludeDormant bool
	Limit          int
	Offset         int
}

// List returns memories matching the filter, ordered by strength descending
// then creation time descending so pagination is stable. Dormant memories
// are excluded unless IncludeDormant is set.
func (s *Store) List(f Filter) []Memory {
	maxStrength := f.MaxStrength
	if maxStrength == 0 {
		maxStrength = 1.0
	}
	now := s.now()

	s.mu.RLock()
	candidates := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		candidates = append(candidates, r)
	}
	s.mu.RUnlock()

	out := make([]Memory, 0, len(candidates))
	for _, r := range candidates {
		r.mu.Lock()
		s.applyDecayLocked(r, now)
		m := r.m
		r.mu.Unlock()

		if f.Type != "" && m.Type != f.Type {
			continue
		}
		if f.Tag != "" && !m.HasTag(f.Tag) {
			continue
		}
		if m.Strength < f.MinStrength || m.Strength > maxStrength {
			continue
		}
		if !f.CreatedAfter.IsZero() && m.CreatedAt.Before(f.CreatedAfter) {
			continue
		}
		if !f.CreatedBefore.IsZero() && m.CreatedAt.After(f.CreatedBefore) {
			continue
		}
		if !f.IncludeDormant && m.StateAt(s.cfg.ActivationThreshold) == StateDormant {
			continue
		}
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Stats summarizes the store contents.
type Stats struct {
	Total           int            `json:"total"`
	ByType          map[string]int `json:"by_type"`
	Active          int            `json:"active"`
	Dormant         int            `json:"dormant"`
	AverageStrength float64        `json:"average_strength"`
}

// Statistics computes store-level counters.
func (s *Store) Statistics() Stats {
	now := s.now()
	s.mu.RLock()
	candidates := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		candidates = append(candidates, r)
	}
	s.mu.RUnlock()

	st := Stats{ByType: make(map[string]int)}
	var sum float64
	for _, r := range candidates {
		r.mu.Lock()
		s.applyDecayLocked(r, now)
		m := r.m
		r.mu.Unlock()

		st.Total++
		st.ByType[string(m.Type)]++
		sum += m.Strength
		if m.StateAt(s.cfg.ActivationThreshold) == StateActive {
			st.Active++
		} else {
			st.Dormant++
		}
	}
	if st.Total > 0 {
		st.AverageStrength = sum / float64(st.Total)
	}
	return st
}
