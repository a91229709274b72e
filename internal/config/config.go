package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Engine    EngineConfig    `json:"engine"`
	Embedding EmbeddingConfig `json:"embedding"`
	Vector    VectorConfig    `json:"vector"`
	Graph     GraphConfig     `json:"graph"`
	Database  DatabaseConfig  `json:"database"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// EngineConfig holds the process-wide tunables of the core. Changing any of
// them affects future decay/update computations only; stored strengths are
// never rewritten when the config changes.
type EngineConfig struct {
	// MemorySize is a soft cap on total memories. When exceeded, the
	// weakest dormant memories are evicted by the maintenance sweep.
	MemorySize int `json:"memory_size"`

	// LearningRate scales pattern strength growth per reinforcement.
	LearningRate float64 `json:"learning_rate"`

	// SimilarityThreshold is the minimum cosine similarity for a vector
	// hit to be considered at all.
	SimilarityThreshold float64 `json:"similarity_threshold"`

	// MaxReasoningDepth is the router's hard cap N on the active set.
	MaxReasoningDepth int `json:"max_reasoning_depth"`

	// DefaultStrength and DefaultConfidence are assigned at creation when
	// the caller does not provide values.
	DefaultStrength   float64 `json:"default_strength"`
	DefaultConfidence float64 `json:"default_confidence"`

	// ActivationThreshold separates Active from Dormant memories.
	ActivationThreshold float64 `json:"activation_threshold"`

	// AccessGain controls the diminishing-returns strength boost applied
	// on retrieval: strength += (1 - strength) * AccessGain.
	AccessGain float64 `json:"access_gain"`

	// DecayHalfLifeHours maps memory type to its strength half-life.
	DecayHalfLifeHours map[string]float64 `json:"decay_half_life_hours"`

	// EdgeHalfLifeHours is the half-life for associative edge weights.
	EdgeHalfLifeHours float64 `json:"edge_half_life_hours"`

	// PatternHalfLifeHours is the half-life for learning pattern strength.
	PatternHalfLifeHours float64 `json:"pattern_half_life_hours"`

	// MaxDormancyHours bounds how long a dormant memory may linger before
	// it becomes eligible for explicit purging.
	MaxDormancyHours float64 `json:"max_dormancy_hours"`

	// FeedbackDeltas maps feedback kind to its signed base strength delta.
	// The delta is scaled by the caller-supplied confidence before apply.
	FeedbackDeltas map[string]float64 `json:"feedback_deltas"`

	// Router score weights. They are blended over similarity, memory
	// strength and recency and should sum to roughly 1.
	SimilarityWeight float64 `json:"similarity_weight"`
	StrengthWeight   float64 `json:"strength_weight"`
	RecencyWeight    float64 `json:"recency_weight"`

	// RecencyHalfLifeHours controls how fast the recency score fades.
	RecencyHalfLifeHours float64 `json:"recency_half_life_hours"`

	// EdgeReinforceDelta is the Hebbian increment applied to every pair of
	// co-selected memories after an activation event.
	EdgeReinforceDelta float64 `json:"edge_reinforce_delta"`

	// SweepInterval is how often the background maintenance sweep runs.
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "hash" or "api"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
	CacheSize int64  `json:"cache_size"`
}

type VectorConfig struct {
	Backend string `json:"backend"` // "memory", "chromem" or "qdrant"
	Path    string `json:"path"`    // chromem persistence dir, empty = in-memory
}

type GraphConfig struct {
	Backend string `json:"backend"` // "memory" or "neo4j"
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// SweepInterval returns the maintenance interval as a duration.
func (e EngineConfig) SweepInterval() time.Duration {
	return time.Duration(e.SweepIntervalSeconds) * time.Second
}

// Default returns the documented defaults for every tunable.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, LogLevel: "info"},
		Engine: EngineConfig{
			MemorySize:          10000,
			LearningRate:        0.1,
			SimilarityThreshold: 0.3,
			MaxReasoningDepth:   7,
			DefaultStrength:     0.5,
			DefaultConfidence:   0.5,
			ActivationThreshold: 0.2,
			AccessGain:          0.1,
			DecayHalfLifeHours: map[string]float64{
				"episodic":   168,  // 1 week
				"semantic":   720,  // 30 days
				"procedural": 1440, // 60 days
				"emotional":  336,  // 2 weeks
				"working":    24,   // 1 day
			},
			EdgeHalfLifeHours:    336,
			PatternHalfLifeHours: 720,
			MaxDormancyHours:     2160, // 90 days
			FeedbackDeltas: map[string]float64{
				"positive":     0.10,
				"negative":     -0.10,
				"confirmation": 0.08,
				"correction":   0.05,
				"neutral":      0,
			},
			SimilarityWeight:     0.5,
			StrengthWeight:       0.3,
			RecencyWeight:        0.2,
			RecencyHalfLifeHours: 72,
			EdgeReinforceDelta:   0.05,
			SweepIntervalSeconds: 3600,
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Dimension: 384,
			CacheSize: 1 << 24,
		},
		Vector: VectorConfig{Backend: "memory"},
		Graph:  GraphConfig{Backend: "memory"},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable
// references. Fields absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	cfg := Default()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.MaxReasoningDepth < 1 {
		return fmt.Errorf("max_reasoning_depth must be >= 1, got %d", c.Engine.MaxReasoningDepth)
	}
	if c.Engine.SimilarityThreshold < -1 || c.Engine.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [-1,1], got %f", c.Engine.SimilarityThreshold)
	}
	if c.Engine.LearningRate <= 0 || c.Engine.LearningRate > 1 {
		return fmt.Errorf("learning_rate must be in (0,1], got %f", c.Engine.LearningRate)
	}
	switch c.Vector.Backend {
	case "memory", "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown vector backend %q", c.Vector.Backend)
	}
	switch c.Graph.Backend {
	case "memory", "neo4j":
	default:
		return fmt.Errorf("unknown graph backend %q", c.Graph.Backend)
	}
	return nil
}
