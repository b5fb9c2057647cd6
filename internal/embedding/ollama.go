package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/ollama/ollama/api"
)

// ErrCircuitOpen is returned while the Ollama circuit breaker is open.
var ErrCircuitOpen = errors.New("ollama circuit open")

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	BaseURL string
	Model   string
	// CircuitFailureThreshold opens the circuit after this many consecutive
	// failures; CircuitReset is how long it stays open.
	CircuitFailureThreshold int
	CircuitReset            time.Duration
}

// OllamaProvider calls a local Ollama instance.
type OllamaProvider struct {
	api    *api.Client
	client *http.Client
	cfg    OllamaConfig

	failures  atomic.Int32
	openUntil atomic.Int64 // unix nano
}

// NewOllamaProvider creates an Ollama provider.
func NewOllamaProvider(cfg OllamaConfig, httpClient *http.Client) (*OllamaProvider, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	u, err := url.ParseRequestURI(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url: %w", err)
	}
	if cfg.CircuitFailureThreshold <= 0 {
		cfg.CircuitFailureThreshold = 5
	}
	return &OllamaProvider{api: api.NewClient(u, httpClient), client: httpClient, cfg: cfg}, nil
}

// Name implements Provider.
func (*OllamaProvider) Name() string { return "ollama" }

// Embed implements Provider.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.isCircuitOpen() {
		return nil, ErrCircuitOpen
	}
	resp, err := p.api.Embed(ctx, &api.EmbedRequest{Model: p.cfg.Model, Input: text})
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		p.recordFailure()
		return nil, ErrEmptyEmbedding
	}
	p.failures.Store(0)
	return resp.Embeddings[0], nil
}

// Close releases idle connections held by the HTTP transport.
func (p *OllamaProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func (p *OllamaProvider) isCircuitOpen() bool {
	if p.failures.Load() < int32(p.cfg.CircuitFailureThreshold) { //nolint:gosec // small config value
		return false
	}
	if time.Now().UnixNano() < p.openUntil.Load() {
		return true
	}
	// Half-open: let the next request through.
	p.failures.Store(0)
	return false
}

func (p *OllamaProvider) recordFailure() {
	if p.failures.Add(1) >= int32(p.cfg.CircuitFailureThreshold) { //nolint:gosec // small config value
		p.openUntil.Store(time.Now().Add(p.cfg.CircuitReset).UnixNano())
	}
}
