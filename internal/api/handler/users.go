package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/d9705996/ama/internal/api/jsonapi"
	"github.com/d9705996/ama/internal/auth"
	"github.com/d9705996/ama/internal/model"
	"github.com/d9705996/ama/internal/store"
)

// UserHandler handles /api/v1/users/* routes.
type UserHandler struct {
	users   *store.UserStore
	refresh *auth.RefreshStore
	log     *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users *store.UserStore, refresh *auth.RefreshStore, log *slog.Logger) *UserHandler {
	return &UserHandler{users: users, refresh: refresh, log: log}
}

// Me handles GET /api/v1/users/me.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Get(r.Context(), claimsOf(r).UserID)
	if err != nil {
		storeError(w, r, h.log, "user", err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, userResource(u))
}

type passwordChange struct {
	current string
	next    string
}

func (p *passwordChange) UnmarshalJSON(data []byte) error {
	return stringFields(data, map[string]*string{"current_password": &p.current, "new_password": &p.next})
}

// ChangePassword handles POST /api/v1/users/me/password. Every refresh token
// of the user is revoked afterwards.
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordChange
	if !decode(w, r, passwordSchema, &req) {
		return
	}
	ctx := r.Context()
	u, err := h.users.Get(ctx, claimsOf(r).UserID)
	if err != nil {
		storeError(w, r, h.log, "user", err)
		return
	}
	if u.AuthSource != model.AuthSourceManual {
		forbidden(w, "this account signs in through "+u.AuthSource)
		return
	}
	if !auth.CheckPassword(u.PasswordHash, req.current) {
		invalidAttribute(w, "/current_password", "current password is incorrect")
		return
	}
	hash, err := auth.HashPassword(req.next)
	if err != nil {
		invalidAttribute(w, "/new_password", err.Error())
		return
	}
	if err := h.users.SetPassword(ctx, u.ID, hash); err != nil {
		storeError(w, r, h.log, "user", err)
		return
	}
	if err := h.refresh.RevokeAll(ctx, u.ID); err != nil {
		storeError(w, r, h.log, "refresh tokens", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /api/v1/users (admin only).
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	offset, ok := intParam(r, "page[offset]", 0, 0, 1<<31-1)
	if !ok {
		invalidParameter(w, "page[offset]", "must be a non-negative integer")
		return
	}
	limit, ok := intParam(r, "page[limit]", 50, 1, 200)
	if !ok {
		invalidParameter(w, "page[limit]", "must be between 1 and 200")
		return
	}

	users, total, err := h.users.List(r.Context(), store.Page{Offset: offset, Limit: limit})
	if err != nil {
		storeError(w, r, h.log, "users", err)
		return
	}
	data := make([]any, 0, len(users))
	for i := range users {
		data = append(data, userResource(&users[i]))
	}
	jsonapi.RenderList(w, http.StatusOK, data, jsonapi.ListMeta{Total: int(total), Offset: offset, Limit: limit})
}

type userCreate struct {
	credentials
	Role model.Role
}

func (u *userCreate) UnmarshalJSON(data []byte) error {
	if err := u.credentials.UnmarshalJSON(data); err != nil {
		return err
	}
	var role struct {
		Role model.Role `json:"role"`
	}
	if err := json.Unmarshal(data, &role); err != nil {
		return err
	}
	u.Role = role.Role
	return nil
}

// Create handles POST /api/v1/users (admin only).
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req userCreate
	if !decode(w, r, userCreateSchema, &req) {
		return
	}
	hash, err := auth.HashPassword(req.pass)
	if err != nil {
		invalidAttribute(w, "/password", err.Error())
		return
	}
	role := req.Role
	if role == "" {
		role = model.RoleUser
	}
	u := &model.User{
		Email:        req.Email,
		Name:         displayName(req.Name, req.Email),
		PasswordHash: hash,
		Role:         role,
		AuthSource:   model.AuthSourceManual,
	}
	if err := h.users.Create(r.Context(), u); err != nil {
		storeError(w, r, h.log, "user", err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, userResource(u))
}

// Get handles GET /api/v1/users/{id}. Users may read their own account;
// admins may read any.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c := claimsOf(r)
	if id != c.UserID && !c.IsAdmin() {
		forbidden(w, "you may only view your own account")
		return
	}
	u, err := h.users.Get(r.Context(), id)
	if err != nil {
		storeError(w, r, h.log, "user", err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, userResource(u))
}

type userPatch struct {
	Email *string     `json:"email"`
	Name  *string     `json:"name"`
	Role  *model.Role `json:"role"`
}

// Update handles PATCH /api/v1/users/{id}. Only admins change roles.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c := claimsOf(r)
	if id != c.UserID && !c.IsAdmin() {
		forbidden(w, "you may only change your own account")
		return
	}
	var req userPatch
	if !decode(w, r, userPatchSchema, &req) {
		return
	}

	ctx := r.Context()
	u, err := h.users.Get(ctx, id)
	if err != nil {
		storeError(w, r, h.log, "user", err)
		return
	}
	roleChanged := req.Role != nil && *req.Role != u.Role
	if roleChanged {
		if !c.IsAdmin() {
			forbidden(w, "only admins can change roles")
			return
		}
		if u.ID == c.UserID {
			forbidden(w, "admins cannot change their own role")
			return
		}
		u.Role = *req.Role
	}
	if req.Email != nil {
		if u.IsAnonymous {
			forbidden(w, "guest accounts cannot set an email address")
			return
		}
		u.Email = *req.Email
	}
	if req.Name != nil {
		u.Name = displayName(*req.Name, u.Email)
	}

	if err := h.users.Update(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			jsonapi.RenderError(w, http.StatusConflict, "email_taken", "an account with this email already exists")
			return
		}
		storeError(w, r, h.log, "user", err)
		return
	}
	if roleChanged {
		// Sessions minted under the old role must sign in again.
		if err := h.refresh.RevokeAll(ctx, u.ID); err != nil {
			storeError(w, r, h.log, "refresh tokens", err)
			return
		}
		h.log.InfoContext(ctx, "user role changed", "user_id", u.ID, "role", u.Role)
	}
	jsonapi.RenderOne(w, http.StatusOK, userResource(u))
}

// Delete handles DELETE /api/v1/users/{id} (admin only). Admins cannot
// delete themselves.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == claimsOf(r).UserID {
		forbidden(w, "you cannot delete your own account")
		return
	}
	if err := h.users.Delete(r.Context(), id); err != nil {
		storeError(w, r, h.log, "user", err)
		return
	}
	h.log.InfoContext(r.Context(), "user deleted", "user_id", id)
	w.WriteHeader(http.StatusNoContent)
}
