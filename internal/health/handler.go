// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/d9705996/ama/internal/api/jsonapi"
	"github.com/d9705996/ama/internal/version"
)

// probeTimeout bounds a whole readiness round.
const probeTimeout = 3 * time.Second

// Pinger is a named downstream dependency.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// Handler answers /health and /ready.
type Handler struct {
	deps    []Pinger
	started time.Time
}

// New returns a Handler probing deps. With no deps /ready reports 503.
func New(deps ...Pinger) *Handler {
	return &Handler{deps: deps, started: time.Now()}
}

type liveness struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	BuildDate     string `json:"build_date"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ServeHealth handles GET /api/v1/health. It never touches dependencies.
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type: "health",
		ID:   "1",
		Attributes: liveness{
			Status:        "ok",
			Version:       version.Version,
			Commit:        version.Commit,
			BuildDate:     version.Date,
			UptimeSeconds: int64(time.Since(h.started).Seconds()),
		},
	})
}

// probe pings every dependency concurrently and returns the failures keyed by
// name.
func (h *Handler) probe(ctx context.Context) map[string]error {
	var (
		mu     sync.Mutex
		failed = map[string]error{}
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, d := range h.deps {
		g.Go(func() error {
			if err := d.Ping(ctx); err != nil {
				mu.Lock()
				failed[d.Name()] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// ServeReady handles GET /api/v1/ready. Any unreachable dependency turns the
// response into a 503 with one error per failure.
func (h *Handler) ServeReady(w http.ResponseWriter, r *http.Request) {
	if len(h.deps) == 0 {
		jsonapi.RenderError(w, http.StatusServiceUnavailable, "dependency_unavailable",
			"no dependencies registered yet")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	failed := h.probe(ctx)
	if len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		sort.Strings(names)
		errs := make([]jsonapi.ErrorObject, 0, len(names))
		for _, name := range names {
			errs = append(errs, jsonapi.NewError(http.StatusServiceUnavailable,
				"dependency_unavailable", name+" is unreachable: "+failed[name].Error()))
		}
		jsonapi.RenderErrors(w, http.StatusServiceUnavailable, errs...)
		return
	}

	checks := make(map[string]string, len(h.deps))
	for _, d := range h.deps {
		checks[d.Name()] = "ok"
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "ready",
		ID:         "1",
		Attributes: map[string]any{"status": "ok", "checks": checks},
	})
}
