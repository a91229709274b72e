// Package encoder turns arbitrary event payloads into a canonical
// representation plus a fixed-length embedding vector. Encoding is pure and
// deterministic: identical (content, memory type) inputs always produce the
// same signature and, with the default provider, the same embedding.
package encoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// ErrInvalidContent is returned when content is empty or not serializable.
var ErrInvalidContent = errors.New("invalid content")

// EventType classifies what kind of event a payload describes. Detection is
// key-driven: well-known fields in the payload pick the type, anything else
// falls back to a plain data input.
type EventType string

const (
	EventRequest      EventType = "request"
	EventResponse     EventType = "response"
	EventError        EventType = "error"
	EventFeedback     EventType = "feedback"
	EventLearning     EventType = "learning"
	EventReasoning    EventType = "reasoning"
	EventUserAction   EventType = "user_action"
	EventMemoryAccess EventType = "memory_access"
	EventDataInput    EventType = "data_input"
)

// Representation is the canonical form of an encoded payload.
type Representation struct {
	Signature  string          `json:"signature"`
	EventType  EventType       `json:"event_type"`
	Features   []string        `json:"features"`
	Canonical  json.RawMessage `json:"canonical"`
	Confidence float64         `json:"confidence"`
}

// Encoder derives representations and embeddings. Embeddings for repeated
// payloads are served from a ristretto cache keyed by (type, canonical).
type Encoder struct {
	provider Provider
	cache    *ristretto.Cache
	logger   *zap.Logger
}

// New creates an Encoder. cacheSize is the cache budget in bytes; zero
// disables caching.
func New(provider Provider, cacheSize int64, logger *zap.Logger) (*Encoder, error) {
	e := &Encoder{provider: provider, logger: logger}
	if cacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 100_000,
			MaxCost:     cacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

// Dimension returns the embedding dimensionality of the underlying provider.
func (e *Encoder) Dimension() int { return e.provider.Dimension() }

// Encode canonicalizes the content, derives its pattern signature and
// features, and produces the embedding vector. memType participates in the
// signature and the embedded text so the same payload stored under two types
// stays distinguishable.
func (e *Encoder) Encode(ctx context.Context, content any, memType string) (Representation, []float32, error) {
	canonical, err := Canonicalize(content)
	if err != nil {
		return Representation{}, nil, err
	}

	fields := topLevelFields(canonical)
	et := detectEventType(fields)
	rep := Representation{
		Signature:  Signature(memType, et, canonical, fields),
		EventType:  et,
		Features:   extractFeatures(et, fields, len(canonical)),
		Canonical:  canonical,
		Confidence: patternConfidence(fields, len(canonical)),
	}

	text := memType + "\n" + string(canonical)
	if vec, ok := e.cached(text); ok {
		return rep, vec, nil
	}

	vecs, err := e.provider.Embed(ctx, []string{text})
	if err != nil {
		return Representation{}, nil, fmt.Errorf("embed content: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return Representation{}, nil, fmt.Errorf("%w: empty embedding result", ErrInvalidContent)
	}
	e.store(text, vecs[0])
	return rep, vecs[0], nil
}

func (e *Encoder) cached(key string) ([]float32, bool) {
	if e.cache == nil {
		return nil, false
	}
	v, ok := e.cache.Get(key)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	return vec, ok
}

func (e *Encoder) store(key string, vec []float32) {
	if e.cache == nil {
		return
	}
	e.cache.Set(key, vec, int64(4*len(vec)))
}

// Canonicalize marshals content to key-sorted JSON. Rejects nil, empty and
// unserializable payloads with ErrInvalidContent.
func Canonicalize(content any) (json.RawMessage, error) {
	if content == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidContent)
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	switch string(raw) {
	case "null", `""`, "{}", "[]":
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidContent)
	}
	// Round-trip through interface{} so map keys come out sorted and the
	// result is independent of the caller's struct field order.
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	return canonical, nil
}

// topLevelFields returns the keys of an object payload, or nil for scalars
// and arrays.
func topLevelFields(canonical json.RawMessage) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(canonical, &obj); err != nil {
		return nil
	}
	return obj
}

func detectEventType(fields map[string]any) EventType {
	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := fields[k]; ok {
				return true
			}
		}
		return false
	}
	switch {
	case has("error", "exception"):
		return EventError
	case has("request", "api_call", "endpoint"):
		return EventRequest
	case has("response", "result", "status_code"):
		return EventResponse
	case has("feedback", "rating"):
		return EventFeedback
	case has("learning", "training"):
		return EventLearning
	case has("reasoning", "analysis", "conclusion"):
		return EventReasoning
	case has("action", "user"):
		return EventUserAction
	case has("memory", "retrieval"):
		return EventMemoryAccess
	default:
		return EventDataInput
	}
}

// Signature derives the pattern key. Recognized event shapes get readable
// prefixed signatures; everything else hashes the canonical payload so equal
// content always maps to the same pattern.
func Signature(memType string, et EventType, canonical json.RawMessage, fields map[string]any) string {
	str := func(key string) string {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
		return "unknown"
	}
	switch et {
	case EventError:
		return "error:" + str("error_type")
	case EventRequest:
		return "request:" + str("method") + ":" + str("endpoint")
	case EventResponse:
		if v, ok := fields["status_code"].(float64); ok {
			return fmt.Sprintf("response:status:%d", int(v))
		}
		return "response:status:unknown"
	case EventUserAction:
		return "action:" + str("action")
	default:
		h := fnv.New64a()
		h.Write([]byte(canonical))
		return fmt.Sprintf("%s:%s:%016x", memType, et, h.Sum64())
	}
}

func extractFeatures(et EventType, fields map[string]any, size int) []string {
	var features []string
	if _, ok := fields["timestamp"]; ok {
		features = append(features, "has_timestamp")
	}
	if _, ok := fields["metadata"]; ok {
		features = append(features, "has_metadata")
	}
	switch et {
	case EventError:
		if v, ok := fields["error_type"].(string); ok {
			features = append(features, "error_type_"+v)
		}
		if _, ok := fields["stack_trace"]; ok {
			features = append(features, "has_stack_trace")
		}
	case EventRequest:
		method := "unknown"
		if v, ok := fields["method"].(string); ok {
			method = v
		}
		features = append(features, "method_"+method)
	case EventResponse:
		if v, ok := fields["status_code"].(float64); ok {
			switch {
			case v >= 500:
				features = append(features, "server_error")
			case v >= 400:
				features = append(features, "client_error")
			default:
				features = append(features, "success")
			}
		}
	}
	switch {
	case size < 100:
		features = append(features, "small")
	case size < 1000:
		features = append(features, "medium")
	default:
		features = append(features, "large")
	}
	sort.Strings(features)
	return features
}

// patternConfidence scores how much structure the payload exposes. Richer,
// well-formed payloads encode with higher confidence; oversized blobs are
// penalized as probable noise.
func patternConfidence(fields map[string]any, size int) float64 {
	confidence := 0.5
	bonus := float64(len(fields)) * 0.05
	if bonus > 0.3 {
		bonus = 0.3
	}
	confidence += bonus
	for _, key := range []string{"timestamp", "source", "type"} {
		if _, ok := fields[key]; ok {
			confidence += 0.05
		}
	}
	if size > 10000 {
		confidence -= 0.2
	}
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
