package encoder

import "context"

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// ProviderConfig holds embedding provider configuration.
type ProviderConfig struct {
	Provider  string `json:"provider"` // "hash" or "api"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}
