package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// APIProvider implements Provider over an Ollama-compatible embeddings API.
// Responses are unit-normalized before they leave the provider so cosine
// similarity in the index reduces to a dot product, the same contract the
// hash provider satisfies. Transient failures are retried with a short
// backoff; a vector whose dimension contradicts the configured one is
// rejected, since every stored embedding must live in a single space.
type APIProvider struct {
	endpoint  string
	model     string
	dimension int
	client    *http.Client

	once    sync.Once
	dimOnce int
}

const (
	embedRetries = 2
	embedTimeout = 30 * time.Second
)

// NewAPIProvider creates a new APIProvider from the given config.
func NewAPIProvider(cfg ProviderConfig) *APIProvider {
	return &APIProvider{
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: embedTimeout},
	}
}

type apiRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type apiResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed sends each text to the endpoint and returns unit-length embeddings.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := p.embedWithRetry(ctx, text)
		if err != nil {
			return nil, err
		}
		if p.dimension > 0 && len(vec) != p.dimension {
			return nil, fmt.Errorf("embedding: API returned dimension %d, configured %d", len(vec), p.dimension)
		}
		embeddings = append(embeddings, normalize(vec))
	}

	// Cache dimension from the first successful result.
	p.once.Do(func() {
		p.dimOnce = len(embeddings[0])
	})
	return embeddings, nil
}

func (p *APIProvider) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= embedRetries; attempt++ {
		vec, err := p.embedSingle(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	return nil, lastErr
}

func (p *APIProvider) embedSingle(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(apiRequest{
		Model:  p.model,
		Prompt: text,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("embedding: API returned an empty vector for model %q", p.model)
	}
	return result.Embedding, nil
}

// Dimension returns the embedding vector dimension. It returns the cached
// dimension from the first result, or the configured default.
func (p *APIProvider) Dimension() int {
	if p.dimOnce > 0 {
		return p.dimOnce
	}
	return p.dimension
}
