package embedding_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/d9705996/ama/internal/config"
	"github.com/d9705996/ama/internal/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	p, err := embedding.NewProvider(&config.AIConfig{Provider: "mock", Dimensions: 8})
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())

	p, err = embedding.NewProvider(&config.AIConfig{Provider: "openai", APIKey: "k", Model: "text-embedding-ada-002"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = embedding.NewProvider(&config.AIConfig{Provider: "ollama", OllamaBaseURL: "http://localhost:11434", Model: "nomic-embed-text"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())

	_, err = embedding.NewProvider(&config.AIConfig{Provider: "ollama", OllamaBaseURL: "::not a url"})
	require.Error(t, err)

	_, err = embedding.NewProvider(&config.AIConfig{Provider: "fabric"})
	require.Error(t, err)
}

func TestOpenAIProvider_Embed(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",` +
			`"data":[{"object":"embedding","index":0,"embedding":[0.5,-0.25,1]}],` +
			`"usage":{"prompt_tokens":3,"total_tokens":3}}`))
	}))
	defer srv.Close()

	p := embedding.NewOpenAIProvider("test-key", srv.URL+"/", "text-embedding-3-small", 3, srv.Client())
	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.25, 1}, vec)
	assert.Equal(t, "text-embedding-3-small", gotBody["model"])
	assert.EqualValues(t, 3, gotBody["dimensions"])
}

func TestOpenAIProvider_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := embedding.NewOpenAIProvider("bad", srv.URL, "text-embedding-ada-002", 1536, srv.Client())
	_, err := p.Embed(context.Background(), "hello")
	require.Error(t, err)
}

func newOllamaServer(t *testing.T, fail *atomic.Bool, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		if fail.Load() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"nomic-embed-text","embeddings":[[0.1,0.2,0.3]]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaProvider_Embed(t *testing.T) {
	var fail atomic.Bool
	var calls atomic.Int32
	srv := newOllamaServer(t, &fail, &calls)

	p, err := embedding.NewOllamaProvider(embedding.OllamaConfig{BaseURL: srv.URL, Model: "nomic-embed-text"}, srv.Client())
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOllamaProvider_CircuitBreaker(t *testing.T) {
	var fail atomic.Bool
	var calls atomic.Int32
	fail.Store(true)
	srv := newOllamaServer(t, &fail, &calls)

	p, err := embedding.NewOllamaProvider(embedding.OllamaConfig{
		BaseURL:                 srv.URL,
		Model:                   "nomic-embed-text",
		CircuitFailureThreshold: 2,
		CircuitReset:            50 * time.Millisecond,
	}, srv.Client())
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	ctx := context.Background()
	for range 2 {
		_, err = p.Embed(ctx, "hello")
		require.Error(t, err)
	}
	_, err = p.Embed(ctx, "hello")
	require.ErrorIs(t, err, embedding.ErrCircuitOpen)
	assert.EqualValues(t, 2, calls.Load(), "open circuit does not reach the server")

	fail.Store(false)
	time.Sleep(60 * time.Millisecond)
	vec, err := p.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	_, err := embedding.NewRedisClient(context.Background(), "127.0.0.1:1", "")
	require.Error(t, err)
}
