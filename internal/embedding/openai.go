package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider calls an OpenAI compatible /embeddings endpoint.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAIProvider creates an OpenAI provider. baseURL may be empty for the
// public API or point at an Azure / self-hosted compatible endpoint.
func NewOpenAIProvider(apiKey, baseURL, model string, dims int, httpClient *http.Client) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model, dims: dims}
}

// Name implements Provider.
func (*OpenAIProvider) Name() string { return "openai" }

// Embed implements Provider.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.model),
	}
	// Only the text-embedding-3 family accepts a custom size.
	if strings.HasPrefix(p.model, "text-embedding-3") && p.dims > 0 {
		req.Dimensions = p.dims
	}
	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Data[0].Embedding, nil
}
