// Package api wires all API routes onto the provided ServeMux.
package api

import (
	"net/http"

	"github.com/d9705996/ama/internal/api/handler"
	"github.com/d9705996/ama/internal/api/jsonapi"
	"github.com/d9705996/ama/internal/api/middleware"
	"github.com/d9705996/ama/internal/health"
)

// Handlers groups the resource handlers served under /api/v1.
type Handlers struct {
	Health    *health.Handler
	Auth      *handler.AuthHandler
	Users     *handler.UserHandler
	Events    *handler.EventHandler
	Questions *handler.QuestionHandler
	// Accounts resolves the user behind every access token.
	Accounts middleware.UserLookup
}

// RegisterRoutes registers all application routes on mux.
func RegisterRoutes(mux *http.ServeMux, h Handlers, jwtSecret string) {
	// Public health endpoints (no auth required)
	mux.HandleFunc("GET /api/v1/health", h.Health.ServeHealth)
	mux.HandleFunc("GET /api/v1/ready", h.Health.ServeReady)

	// Auth endpoints (no auth required)
	mux.HandleFunc("POST /api/v1/auth/register", h.Auth.Register)
	mux.HandleFunc("POST /api/v1/auth/login", h.Auth.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.Auth.Refresh)
	mux.HandleFunc("POST /api/v1/auth/anonymous", h.Auth.Anonymous)
	mux.HandleFunc("GET /api/v1/auth/microsoft/login", h.Auth.MicrosoftLogin)
	mux.HandleFunc("GET /api/v1/auth/microsoft/callback", h.Auth.MicrosoftCallback)

	authed := middleware.RequireAuth(jwtSecret, h.Accounts)
	protect := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, authed(fn))
	}
	admin := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, authed(middleware.RequireAdmin(fn)))
	}
	registered := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, authed(middleware.RequireRegistered(fn)))
	}

	protect("POST /api/v1/auth/logout", h.Auth.Logout)

	// Users
	protect("GET /api/v1/users/me", h.Users.Me)
	registered("POST /api/v1/users/me/password", h.Users.ChangePassword)
	admin("GET /api/v1/users", h.Users.List)
	admin("POST /api/v1/users", h.Users.Create)
	protect("GET /api/v1/users/{id}", h.Users.Get)
	protect("PATCH /api/v1/users/{id}", h.Users.Update)
	admin("DELETE /api/v1/users/{id}", h.Users.Delete)

	// Events
	protect("GET /api/v1/events", h.Events.List)
	registered("POST /api/v1/events", h.Events.Create)
	protect("GET /api/v1/events/{id}", h.Events.Get)
	protect("PATCH /api/v1/events/{id}", h.Events.Update)
	protect("DELETE /api/v1/events/{id}", h.Events.Delete)
	protect("POST /api/v1/events/{id}/close", h.Events.Close)
	protect("POST /api/v1/events/{id}/moderators", h.Events.AddModerator)
	protect("DELETE /api/v1/events/{id}/moderators/{userID}", h.Events.RemoveModerator)
	protect("GET /api/v1/links/{token}", h.Events.Link)
	protect("POST /api/v1/links/{token}/join", h.Events.Join)

	// Questions
	protect("GET /api/v1/events/{id}/questions", h.Questions.List)
	protect("POST /api/v1/events/{id}/questions", h.Questions.Create)
	protect("POST /api/v1/events/{id}/questions/group", h.Questions.Group)
	protect("GET /api/v1/questions/{id}", h.Questions.Get)
	protect("PATCH /api/v1/questions/{id}", h.Questions.Update)
	protect("DELETE /api/v1/questions/{id}", h.Questions.Delete)
	protect("POST /api/v1/questions/{id}/upvote", h.Questions.Upvote)
	protect("DELETE /api/v1/questions/{id}/upvote", h.Questions.RemoveUpvote)
	protect("POST /api/v1/questions/{id}/stage", h.Questions.Stage)
	protect("DELETE /api/v1/questions/{id}/stage", h.Questions.Unstage)
	protect("GET /api/v1/questions/{id}/similar", h.Questions.Similar)
	protect("POST /api/v1/questions/{id}/embedding", h.Questions.Reembed)

	// Catch-all 404
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		jsonapi.RenderError(w, http.StatusNotFound, "not_found", "no route matches this path")
	})
}
