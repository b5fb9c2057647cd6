package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/d9705996/ama/internal/api"
	"github.com/d9705996/ama/internal/api/handler"
	"github.com/d9705996/ama/internal/api/jsonapi"
	"github.com/d9705996/ama/internal/auth"
	"github.com/d9705996/ama/internal/embedding"
	"github.com/d9705996/ama/internal/health"
	"github.com/d9705996/ama/internal/model"
	"github.com/d9705996/ama/internal/observability"
	"github.com/d9705996/ama/internal/ratelimit"
	"github.com/d9705996/ama/internal/similarity"
	"github.com/d9705996/ama/internal/store"
	"github.com/d9705996/ama/internal/summary"
	"github.com/d9705996/ama/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	testSecret = "test-secret-at-least-32-bytes!!!"
	baseURL    = "https://ama.example.com"
)

// syncQueue processes embedding jobs inline so tests can observe results.
type syncQueue struct {
	pipeline *similarity.Pipeline

	mu  sync.Mutex
	ids []string
	err error
}

func (q *syncQueue) EnqueueEmbedding(ctx context.Context, id string) error {
	q.mu.Lock()
	q.ids = append(q.ids, id)
	err := q.err
	q.mu.Unlock()
	if err != nil {
		return err
	}
	return q.pipeline.Process(ctx, id)
}

func (q *syncQueue) queued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}

type testEnv struct {
	t         *testing.T
	handler   http.Handler
	fx        *testutil.Fixtures
	users     *store.UserStore
	events    *store.EventStore
	questions *store.QuestionStore
	queue     *syncQueue
}

type envOptions struct {
	questionsPerMinute int
	microsoft          *auth.MicrosoftProvider
}

func newEnv(t *testing.T) *testEnv {
	return newEnvWith(t, envOptions{})
}

func newEnvWith(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	metrics, err := observability.NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)

	users := store.NewUserStore(db)
	events := store.NewEventStore(db)
	questions := store.NewQuestionStore(db)
	refresh := auth.NewRefreshStore(db, time.Hour)

	embedder := embedding.NewService(embedding.NewMockProvider(64), embedding.NewMockProvider(64), nil,
		embedding.ServiceConfig{Model: "mock"}, metrics, log)
	pipeline := similarity.NewPipeline(questions, embedder, summary.NewHeuristicSummarizer(), log)
	queue := &syncQueue{pipeline: pipeline}

	authHandler := handler.NewAuthHandler(users, refresh, testSecret, 15*time.Minute, log)
	if opts.microsoft != nil {
		authHandler.EnableMicrosoft(opts.microsoft, auth.NewStateCookie(testSecret, false))
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Handlers{
		Health: health.New(),
		Auth:   authHandler,
		Users:  handler.NewUserHandler(users, refresh, log),
		Events: handler.NewEventHandler(events, users, baseURL, log),
		Questions: handler.NewQuestionHandler(handler.QuestionDeps{
			Events:    events,
			Questions: questions,
			Queue:     queue,
			Finder:    pipeline,
			Limiter:   ratelimit.PerMinute(opts.questionsPerMinute),
			Metrics:   metrics,
			Threshold: 0.9,
			Log:       log,
		}),
		Accounts: users,
	}, testSecret)

	return &testEnv{
		t:         t,
		handler:   mux,
		fx:        testutil.NewFixtures(t, db),
		users:     users,
		events:    events,
		questions: questions,
		queue:     queue,
	}
}

func (e *testEnv) token(u *model.User) string {
	e.t.Helper()
	tok, err := auth.IssueAccessToken(u, testSecret, time.Hour)
	require.NoError(e.t, err)
	return tok
}

// do sends a request as u (anonymous when nil). body may be a string of raw
// JSON or any value to marshal.
func (e *testEnv) do(method, path string, body any, u *model.User) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if u != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(u))
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

type relationship struct {
	Data json.RawMessage `json:"data"`
}

type resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    map[string]any          `json:"attributes"`
	Relationships map[string]relationship `json:"relationships"`
	Meta          map[string]any          `json:"meta"`
}

type document struct {
	Data     json.RawMessage       `json:"data"`
	Included []resource            `json:"included"`
	Errors   []jsonapi.ErrorObject `json:"errors"`
}

func parse(t *testing.T, w *httptest.ResponseRecorder) document {
	t.Helper()
	var doc document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc), w.Body.String())
	return doc
}

func one(t *testing.T, w *httptest.ResponseRecorder) resource {
	t.Helper()
	var res resource
	require.NoError(t, json.Unmarshal(parse(t, w).Data, &res))
	return res
}

func many(t *testing.T, w *httptest.ResponseRecorder) []resource {
	t.Helper()
	var res []resource
	require.NoError(t, json.Unmarshal(parse(t, w).Data, &res))
	return res
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	doc := parse(t, w)
	require.NotEmpty(t, doc.Errors, w.Body.String())
	return doc.Errors[0].Code
}

// relatedID returns the id of a to-one relationship, or "" when absent.
func (r resource) relatedID(name string) string {
	rel, ok := r.Relationships[name]
	if !ok {
		return ""
	}
	var id struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rel.Data, &id)
	return id.ID
}

func ids(rs []resource) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
