package memory

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// halfLife returns the decay half-life for a memory type in hours.
func (s *Store) halfLife(t Type) float64 {
	if hl, ok := s.cfg.HalfLifeHours[string(t)]; ok && hl > 0 {
		return hl
	}
	return 168
}

// applyDecayLocked folds elapsed time into the stored strength:
// strength * 0.5^(hours / halfLife). The record mutex must be held.
// Decay is monotonic non-increasing and asymptotically approaches zero.
func (s *Store) applyDecayLocked(r *record, now time.Time) {
	elapsed := now.Sub(r.decayedAt)
	if elapsed <= 0 {
		return
	}
	hours := elapsed.Hours()
	r.m.Strength = Clamp(r.m.Strength * math.Pow(0.5, hours/s.halfLife(r.m.Type)))
	r.decayedAt = now
}

// DecaySweep applies time-based decay to every record. Each record is
// processed under its own lock so the sweep never starves concurrent query
// traffic. Returns the number of records touched.
func (s *Store) DecaySweep() int {
	now := s.now()
	s.mu.RLock()
	candidates := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		candidates = append(candidates, r)
	}
	s.mu.RUnlock()

	var updated int
	for _, r := range candidates {
		r.mu.Lock()
		before := r.m.Strength
		s.applyDecayLocked(r, now)
		if r.m.Strength != before {
			updated++
		}
		r.mu.Unlock()
	}
	s.logger.Debug("decay sweep complete", zap.Int("updated", updated))
	return updated
}

// PurgeDormant hard-deletes memories that have been dormant longer than
// maxDormancy since their last access. Purging is the only destructive
// transition and only happens through this explicit call, never in a read
// path. Returns the purged ids so callers can clean up index and graph
// state.
func (s *Store) PurgeDormant(maxDormancy time.Duration) []string {
	now := s.now()
	s.mu.RLock()
	type cand struct {
		id string
		r  *record
	}
	candidates := make([]cand, 0, len(s.records))
	for id, r := range s.records {
		candidates = append(candidates, cand{id, r})
	}
	s.mu.RUnlock()

	var purged []string
	for _, c := range candidates {
		c.r.mu.Lock()
		s.applyDecayLocked(c.r, now)
		dormant := c.r.m.StateAt(s.cfg.ActivationThreshold) == StateDormant
		idle := now.Sub(c.r.m.LastAccessed)
		c.r.mu.Unlock()

		if dormant && idle > maxDormancy {
			purged = append(purged, c.id)
		}
	}

	if len(purged) > 0 {
		s.mu.Lock()
		for _, id := range purged {
			delete(s.records, id)
		}
		s.mu.Unlock()
		s.logger.Info("purged dormant memories", zap.Int("count", len(purged)))
	}
	return purged
}

// WeakestDormant returns up to n dormant memory ids ordered weakest first.
// The engine uses this to enforce the soft memory cap.
func (s *Store) WeakestDormant(n int) []string {
	if n <= 0 {
		return nil
	}
	all := s.List(Filter{IncludeDormant: true})
	// List orders strength descending; take from the tail.
	ids := make([]string, 0, n)
	for i := len(all) - 1; i >= 0 && len(ids) < n; i-- {
		if all[i].StateAt(s.cfg.ActivationThreshold) != StateDormant {
			break
		}
		ids = append(ids, all[i].ID)
	}
	return ids
}
