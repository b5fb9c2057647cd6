package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/d9705996/ama/internal/api/jsonapi"
	"github.com/d9705996/ama/internal/auth"
	"github.com/d9705996/ama/internal/model"
	"github.com/d9705996/ama/internal/store"
)

// access answers who may see and moderate an event. Admins moderate every
// event; otherwise the creator and the listed moderators do.
type access struct {
	events *store.EventStore
	log    *slog.Logger
}

func (a *access) isModerator(ctx context.Context, ev *model.Event, c *auth.Claims) (bool, error) {
	if c.IsAdmin() {
		return true, nil
	}
	return a.events.IsModerator(ctx, ev, c.UserID)
}

// viewEvent loads an event the caller may see. Events the caller may not see
// are reported as missing.
func (a *access) viewEvent(w http.ResponseWriter, r *http.Request, id string) (*model.Event, bool) {
	c := claimsOf(r)
	ev, err := a.events.Get(r.Context(), id)
	if err != nil {
		storeError(w, r, a.log, "event", err)
		return nil, false
	}
	ok, err := a.events.CanView(r.Context(), ev, c.UserID, c.IsAdmin())
	if err != nil {
		storeError(w, r, a.log, "event", err)
		return nil, false
	}
	if !ok {
		notFound(w, "event")
		return nil, false
	}
	return ev, true
}

// moderateEvent loads an event the caller moderates.
func (a *access) moderateEvent(w http.ResponseWriter, r *http.Request, id string) (*model.Event, bool) {
	ev, ok := a.viewEvent(w, r, id)
	if !ok {
		return nil, false
	}
	mod, err := a.isModerator(r.Context(), ev, claimsOf(r))
	if err != nil {
		storeError(w, r, a.log, "event", err)
		return nil, false
	}
	if !mod {
		forbidden(w, "only moderators of this event may do this")
		return nil, false
	}
	return ev, true
}

// EventHandler handles /api/v1/events/* and /api/v1/links/* routes.
type EventHandler struct {
	access
	users   *store.UserStore
	baseURL string
	now     func() time.Time
}

// NewEventHandler creates an EventHandler. baseURL prefixes share and
// invite URLs.
func NewEventHandler(events *store.EventStore, users *store.UserStore, baseURL string, log *slog.Logger) *EventHandler {
	return &EventHandler{
		access:  access{events: events, log: log},
		users:   users,
		baseURL: baseURL,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type eventInput struct {
	Name        *string             `json:"name"`
	Description *string             `json:"description"`
	OpenDate    optional[time.Time] `json:"open_date"`
	CloseDate   optional[time.Time] `json:"close_date"`
	IsPublic    *bool               `json:"is_public"`
	IsActive    *bool               `json:"is_active"`
}

// apply copies the members present in in onto ev.
func (in *eventInput) apply(ev *model.Event) {
	if in.Name != nil {
		ev.Name = *in.Name
	}
	if in.Description != nil {
		ev.Description = *in.Description
	}
	if in.OpenDate.Set {
		ev.OpenDate = utc(in.OpenDate.Value)
	}
	if in.CloseDate.Set {
		ev.CloseDate = utc(in.CloseDate.Value)
	}
	if in.IsPublic != nil {
		ev.IsPublic = *in.IsPublic
	}
	if in.IsActive != nil {
		ev.IsActive = *in.IsActive
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func validWindow(w http.ResponseWriter, ev *model.Event) bool {
	if ev.OpenDate != nil && ev.CloseDate != nil && !ev.CloseDate.After(*ev.OpenDate) {
		invalidAttribute(w, "/close_date", "close_date must be after open_date")
		return false
	}
	return true
}

func (h *EventHandler) render(w http.ResponseWriter, r *http.Request, status int, ev *model.Event) {
	mod, err := h.isModerator(r.Context(), ev, claimsOf(r))
	if err != nil {
		storeError(w, r, h.log, "event", err)
		return
	}
	jsonapi.RenderOne(w, status, eventResource(ev, h.baseURL, mod, h.now()))
}

// List handles GET /api/v1/events.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	c := claimsOf(r)
	ctx := r.Context()
	events, err := h.events.ListVisible(ctx, c.UserID, c.IsAdmin())
	if err != nil {
		storeError(w, r, h.log, "events", err)
		return
	}
	now := h.now()
	data := make([]any, 0, len(events))
	for i := range events {
		mod, err := h.isModerator(ctx, &events[i], c)
		if err != nil {
			storeError(w, r, h.log, "event", err)
			return
		}
		data = append(data, eventResource(&events[i], h.baseURL, mod, now))
	}
	jsonapi.RenderList(w, http.StatusOK, data, jsonapi.ListMeta{Total: len(data)})
}

// Create handles POST /api/v1/events. The caller becomes the event's
// creator and first moderator.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in eventInput
	if !decode(w, r, eventCreateSchema, &in) {
		return
	}
	ctx := r.Context()
	creator, err := h.users.Get(ctx, claimsOf(r).UserID)
	if err != nil {
		storeError(w, r, h.log, "user", err)
		return
	}

	ev := &model.Event{IsPublic: true}
	in.apply(ev)
	if !validWindow(w, ev) {
		return
	}
	if err := h.events.Create(ctx, ev, creator); err != nil {
		storeError(w, r, h.log, "event", err)
		return
	}
	h.log.InfoContext(ctx, "event created", "event_id", ev.ID, "user_id", creator.ID)
	h.render(w, r, http.StatusCreated, ev)
}

// Get handles GET /api/v1/events/{id}.
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.viewEvent(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	h.render(w, r, http.StatusOK, ev)
}

// Update handles PATCH /api/v1/events/{id} (event moderators).
func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.moderateEvent(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	var in eventInput
	if !decode(w, r, eventPatchSchema, &in) {
		return
	}
	in.apply(ev)
	if !validWindow(w, ev) {
		return
	}
	if err := h.events.Update(r.Context(), ev); err != nil {
		storeError(w, r, h.log, "event", err)
		return
	}
	h.render(w, r, http.StatusOK, ev)
}

// Delete handles DELETE /api/v1/events/{id} (creator or admin).
func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.viewEvent(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	c := claimsOf(r)
	if ev.CreatedByID != c.UserID && !c.IsAdmin() {
		forbidden(w, "only the creator of this event may delete it")
		return
	}
	if err := h.events.Delete(r.Context(), ev.ID); err != nil {
		storeError(w, r, h.log, "event", err)
		return
	}
	h.log.InfoContext(r.Context(), "event deleted", "event_id", ev.ID)
	w.WriteHeader(http.StatusNoContent)
}

// Close handles POST /api/v1/events/{id}/close (event moderators).
func (h *EventHandler) Close(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.moderateEvent(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	closed, err := h.events.Close(r.Context(), ev.ID)
	if err != nil {
		storeError(w, r, h.log, "event", err)
		return
	}
	h.render(w, r, http.StatusOK, closed)
}

// Link handles GET /api/v1/links/{token}. Anyone holding a share or invite
// token may look the event up.
func (h *EventHandler) Link(w http.ResponseWriter, r *http.Request) {
	ev, err := h.events.GetByLink(r.Context(), r.PathValue("token"))
	if err != nil {
		storeError(w, r, h.log, "link", err)
		return
	}
	h.render(w, r, http.StatusOK, ev)
}

// Join handles POST /api/v1/links/{token}/join. The caller becomes a
// participant; joining twice is harmless.
func (h *EventHandler) Join(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ev, err := h.events.GetByLink(ctx, r.PathValue("token"))
	if err != nil {
		storeError(w, r, h.log, "link", err)
		return
	}
	u, err := h.users.Get(ctx, claimsOf(r).UserID)
	if err != nil {
		storeError(w, r, h.log, "user", err)
		return
	}
	if err := h.events.Join(ctx, ev, u); err != nil {
		storeError(w, r, h.log, "event", err)
		return
	}
	h.render(w, r, http.StatusOK, ev)
}

// owner loads an event whose moderator list the caller may change.
func (h *EventHandler) owner(w http.ResponseWriter, r *http.Request) (*model.Event, bool) {
	ev, ok := h.viewEvent(w, r, r.PathValue("id"))
	if !ok {
		return nil, false
	}
	c := claimsOf(r)
	if ev.CreatedByID != c.UserID && !c.IsAdmin() {
		forbidden(w, "only the creator of this event may manage its moderators")
		return nil, false
	}
	return ev, true
}

// AddModerator handles POST /api/v1/events/{id}/moderators. The body names
// the user by user_id or email.
func (h *EventHandler) AddModerator(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req struct {
		UserID string `json:"user_id"`
		Email  string `json:"email"`
	}
	if !decode(w, r, moderatorSchema, &req) {
		return
	}

	ctx := r.Context()
	userID := req.UserID
	if userID == "" {
		u, err := h.users.GetByEmail(ctx, req.Email)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				invalidAttribute(w, "/email", "no user has this email address")
				return
			}
			storeError(w, r, h.log, "user", err)
			return
		}
		userID = u.ID
	}
	if err := h.events.AddModerator(ctx, ev.ID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			invalidAttribute(w, "/user_id", "user does not exist")
			return
		}
		storeError(w, r, h.log, "event", err)
		return
	}
	updated, err := h.events.Get(ctx, ev.ID)
	if err != nil {
		storeError(w, r, h.log, "event", err)
		return
	}
	h.render(w, r, http.StatusOK, updated)
}

// RemoveModerator handles DELETE /api/v1/events/{id}/moderators/{userID}.
// The creator cannot be removed.
func (h *EventHandler) RemoveModerator(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.owner(w, r)
	if !ok {
		return
	}
	err := h.events.RemoveModerator(r.Context(), ev.ID, r.PathValue("userID"))
	switch {
	case errors.Is(err, store.ErrConflict):
		jsonapi.RenderError(w, http.StatusConflict, "creator_is_moderator",
			"the creator of an event is always one of its moderators")
	case err != nil:
		storeError(w, r, h.log, "moderator", err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
