package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/d9705996/ama/internal/api/jsonapi"
	"github.com/d9705996/ama/internal/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPinger struct {
	name string
	err  error
}

func (m *mockPinger) Name() string                { return m.name }
func (m *mockPinger) Ping(_ context.Context) error { return m.err }

func TestServeHealth_AlwaysOK(t *testing.T) {
	h := health.New(&mockPinger{name: "database"})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
	w := httptest.NewRecorder()
	h.ServeHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.api+json", w.Header().Get("Content-Type"))

	var doc jsonapi.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.NotNil(t, doc.Data)
}

func TestServeReady_AllHealthy(t *testing.T) {
	h := health.New(&mockPinger{name: "database"}, &mockPinger{name: "redis"})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ready", http.NoBody)
	w := httptest.NewRecorder()
	h.ServeReady(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"ok"`)
}

func TestServeReady_OneUnhealthy(t *testing.T) {
	h := health.New(
		&mockPinger{name: "database"},
		&mockPinger{name: "redis", err: errors.New("connection refused")},
	)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ready", http.NoBody)
	w := httptest.NewRecorder()
	h.ServeReady(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var doc jsonapi.ErrorDocument
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Len(t, doc.Errors, 1)
	assert.Equal(t, "dependency_unavailable", doc.Errors[0].Code)
	assert.Contains(t, doc.Errors[0].Detail, "redis")
}

func TestServeReady_NoDependencies(t *testing.T) {
	h := health.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ready", http.NoBody)
	w := httptest.NewRecorder()
	h.ServeReady(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServeReady_FailuresSortedByName(t *testing.T) {
	h := health.New(
		&mockPinger{name: "redis", err: errors.New("timeout")},
		&mockPinger{name: "database", err: errors.New("refused")},
	)
	w := httptest.NewRecorder()
	h.ServeReady(w, httptest.NewRequest(http.MethodGet, "/api/v1/ready", http.NoBody))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var doc jsonapi.ErrorDocument
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Len(t, doc.Errors, 2)
	assert.Contains(t, doc.Errors[0].Detail, "database")
	assert.Contains(t, doc.Errors[1].Detail, "redis")
	assert.Equal(t, "503", doc.Errors[0].Status)
}
