// Package api exposes the memory engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/synapse/internal/encoder"
	"github.com/nidhogg/synapse/internal/engine"
	"github.com/nidhogg/synapse/internal/graph"
	"github.com/nidhogg/synapse/internal/learning"
	"github.com/nidhogg/synapse/internal/memory"
	"github.com/nidhogg/synapse/internal/reasoning"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(e *engine.Engine, logger *zap.Logger) *Handler {
	return &Handler{engine: e, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/stats", h.stats)

		// Memory routes
		r.Post("/memories", h.storeMemory)
		r.Get("/memories", h.listMemories)
		r.Post("/memories/search", h.searchMemories)
		r.Get("/memories/{id}", h.getMemory)
		r.Delete("/memories/{id}", h.deleteMemory)
		r.Post("/memories/{id}/strength", h.updateStrength)
		r.Post("/memories/{id}/feedback", h.addFeedback)
		r.Get("/memories/{id}/neighbors", h.getNeighbors)

		// Association routes
		r.Post("/associations", h.connectMemories)
		r.Get("/associations/path", h.findPath)

		// Learning routes
		r.Get("/patterns", h.listPatterns)
		r.Post("/learn", h.learn)

		// Reasoning routes
		r.Post("/reason", h.reason)
		r.Post("/reason/explain", h.explain)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Statistics(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type storeMemoryRequest struct {
	Content    json.RawMessage `json:"content"`
	MemoryType string          `json:"memory_type"`
	Tags       []string        `json:"tags,omitempty"`
	Strength   float64         `json:"strength,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
}

func (h *Handler) storeMemory(w http.ResponseWriter, r *http.Request) {
	var req storeMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.MemoryType == "" {
		req.MemoryType = string(memory.Episodic)
	}
	m, err := h.engine.StoreMemory(r.Context(), req.Content, req.MemoryType, req.Tags, req.Strength, req.Confidence)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := h.engine.GetMemory(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) deleteMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.DeleteMemory(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) listMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := memory.Filter{
		Type:           memory.Type(q.Get("type")),
		Tag:            q.Get("tag"),
		IncludeDormant: q.Get("include_dormant") == "true",
		Limit:          queryInt(q.Get("limit"), 50),
		Offset:         queryInt(q.Get("offset"), 0),
	}
	if v := q.Get("min_strength"); v != "" {
		f.MinStrength, _ = strconv.ParseFloat(v, 64)
	}
	memories := h.engine.ListMemories(f)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memories": memories,
		"count":    len(memories),
	})
}

type searchRequest struct {
	Query json.RawMessage `json:"query"`
	Max   int             `json:"max,omitempty"`
}

func (h *Handler) searchMemories(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	active, err := h.engine.SearchMemories(r.Context(), req.Query, req.Max)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activations": active,
		"count":       len(active),
	})
}

type strengthRequest struct {
	Delta float64 `json:"delta"`
}

func (h *Handler) updateStrength(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req strengthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	m, err := h.engine.UpdateMemoryStrength(r.Context(), id, req.Delta)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type feedbackRequest struct {
	FeedbackType string  `json:"feedback_type"`
	Confidence   float64 `json:"confidence"`
}

func (h *Handler) addFeedback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	delta, m, err := h.engine.AddFeedback(r.Context(), id, learning.FeedbackKind(req.FeedbackType), req.Confidence)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"delta":  delta,
		"memory": m,
	})
}

func (h *Handler) getNeighbors(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	depth := queryInt(r.URL.Query().Get("depth"), 1)
	neighbors, err := h.engine.GetNeighbors(r.Context(), id, depth)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"neighbors": neighbors,
		"count":     len(neighbors),
	})
}

type connectRequest struct {
	A      string  `json:"a"`
	B      string  `json:"b"`
	Weight float64 `json:"weight"`
}

func (h *Handler) connectMemories(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.A == "" || req.B == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "a and b are required"})
		return
	}
	if err := h.engine.ConnectMemories(r.Context(), req.A, req.B, req.Weight); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "connected"})
}

func (h *Handler) findPath(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from and to are required"})
		return
	}
	path, err := h.engine.FindPath(r.Context(), from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path": path,
		"hops": len(path) - 1,
	})
}

func (h *Handler) listPatterns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := learning.PatternFilter{
		Signature: q.Get("signature"),
		Tag:       q.Get("tag"),
		Limit:     queryInt(q.Get("limit"), 50),
	}
	if v := q.Get("min_strength"); v != "" {
		f.MinStrength, _ = strconv.ParseFloat(v, 64)
	}
	if v := q.Get("min_frequency"); v != "" {
		n, _ := strconv.ParseInt(v, 10, 64)
		f.MinFrequency = n
	}
	patterns := h.engine.GetLearningPatterns(f)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patterns": patterns,
		"count":    len(patterns),
	})
}

type learnRequest struct {
	Signature  string   `json:"signature"`
	Context    []string `json:"context,omitempty"`
	Confidence float64  `json:"confidence"`
}

func (h *Handler) learn(w http.ResponseWriter, r *http.Request) {
	var req learnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Signature == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "signature is required"})
		return
	}
	p, err := h.engine.Learn(r.Context(), req.Signature, req.Context, req.Confidence)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type reasonRequest struct {
	Query string `json:"query"`
	Max   int    `json:"max,omitempty"`
	Store bool   `json:"store,omitempty"`
}

func (h *Handler) reason(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	res, err := h.engine.Reason(r.Context(), req.Query, req.Max, req.Store)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) explain(w http.ResponseWriter, r *http.Request) {
	var res reasoning.Result
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"explanation": h.engine.ExplainConclusion(res),
	})
}

// writeError maps engine error values to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, memory.ErrNotFound),
		errors.Is(err, graph.ErrNodeNotFound),
		errors.Is(err, graph.ErrNoPath),
		errors.Is(err, learning.ErrPatternNotFound):
		status = http.StatusNotFound
	case errors.Is(err, memory.ErrInvalidType),
		errors.Is(err, encoder.ErrInvalidContent),
		errors.Is(err, graph.ErrInvalidEdge),
		errors.Is(err, learning.ErrInvalidFeedback):
		status = http.StatusBadRequest
	case errors.Is(err, reasoning.ErrInsufficientEvidence):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
