package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type categorizes what kind of knowledge a memory holds. It is fixed at
// creation time.
type Type string

const (
	Episodic   Type = "episodic"
	Semantic   Type = "semantic"
	Procedural Type = "procedural"
	Emotional  Type = "emotional"
	Working    Type = "working"
)

// ErrInvalidType is returned when a memory type tag is not one of the five
// enumerated values.
var ErrInvalidType = errors.New("invalid memory type")

// ErrNotFound is returned for operations on a missing memory id. It is a
// normal, expected outcome for lookups, not a fatal condition.
var ErrNotFound = errors.New("memory not found")

// ErrConflict is returned when an optimistic update loses a race. In-process
// stores serialize per record and never surface it; it exists so callers of
// future backends can retry on it.
var ErrConflict = errors.New("concurrent modification conflict")

// ParseType validates a type tag.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case Episodic, Semantic, Procedural, Emotional, Working:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
}

// State is the lifecycle position of a memory.
type State string

const (
	StateActive  State = "active"  // strength >= activation threshold
	StateDormant State = "dormant" // stored but excluded from default search
)

// Memory is the unit of storage.
type Memory struct {
	ID           string          `json:"id"`
	Type         Type            `json:"memory_type"`
	Content      json.RawMessage `json:"content"`
	Signature    string          `json:"signature"`
	Embedding    []float32       `json:"embedding,omitempty"`
	Strength     float64         `json:"strength"`
	Confidence   float64         `json:"confidence"`
	AccessCount  int64           `json:"access_count"`
	Tags         []string        `json:"tags,omitempty"`
	LastAccessed time.Time       `json:"last_accessed"`
	CreatedAt    time.Time       `json:"created_at"`
}

// StateAt reports whether the memory is active or dormant given the
// activation threshold.
func (m *Memory) StateAt(threshold float64) State {
	if m.Strength >= threshold {
		return StateActive
	}
	return StateDormant
}

// HasTag reports whether the memory carries the given tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clamp forces a score into [0,1]. Decay and strengthening silently clamp
// out-of-range values rather than erroring.
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
