// Package embedding turns question text into vectors and compares them.
//
// A Service wraps a primary Provider (OpenAI, Ollama or the deterministic
// mock) with retries, caching and a fallback to the mock provider so callers
// always get a vector.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/d9705996/ama/internal/config"
)

// Provider produces an embedding for one text.
type Provider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ErrEmptyEmbedding is returned when a provider answers without a vector.
var ErrEmptyEmbedding = errors.New("provider returned an empty embedding")

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(cfg *config.AIConfig) (Provider, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Provider {
	case "", "mock":
		return NewMockProvider(cfg.Dimensions), nil
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.APIBase, cfg.Model, cfg.Dimensions, httpClient), nil
	case "ollama":
		return NewOllamaProvider(OllamaConfig{
			BaseURL:                 cfg.OllamaBaseURL,
			Model:                   cfg.Model,
			CircuitFailureThreshold: 5,
			CircuitReset:            30 * time.Second,
		}, httpClient)
	}
	return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
}
