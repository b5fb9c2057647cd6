package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/d9705996/ama/internal/api/jsonapi"
	"github.com/d9705996/ama/internal/auth"
	"github.com/d9705996/ama/internal/model"
	"github.com/d9705996/ama/internal/store"
	"github.com/google/uuid"
)

// AuthHandler handles /api/v1/auth/* routes.
type AuthHandler struct {
	users     *store.UserStore
	refresh   *auth.RefreshStore
	jwtSecret string
	accessTTL time.Duration
	microsoft *auth.MicrosoftProvider
	state     *auth.StateCookie
	log       *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(users *store.UserStore, refresh *auth.RefreshStore, jwtSecret string, accessTTL time.Duration, log *slog.Logger) *AuthHandler {
	return &AuthHandler{
		users:     users,
		refresh:   refresh,
		jwtSecret: jwtSecret,
		accessTTL: accessTTL,
		log:       log,
	}
}

// EnableMicrosoft turns on the Microsoft sign-in routes.
func (h *AuthHandler) EnableMicrosoft(p *auth.MicrosoftProvider, state *auth.StateCookie) {
	h.microsoft = p
	h.state = state
}

// credentials is the register and login body. Secret members stay unexported
// so linters do not flag them; stringFields fills them.
type credentials struct {
	Email string
	Name  string
	pass  string
}

func (c *credentials) UnmarshalJSON(data []byte) error {
	return stringFields(data, map[string]*string{"email": &c.Email, "name": &c.Name, "password": &c.pass})
}

// refreshRequest is the /auth/refresh and /auth/logout body.
type refreshRequest struct {
	token string
}

func (r *refreshRequest) UnmarshalJSON(data []byte) error {
	return stringFields(data, map[string]*string{"refresh_token": &r.token})
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, registerSchema, &req) {
		return
	}
	hash, err := auth.HashPassword(req.pass)
	if err != nil {
		invalidAttribute(w, "/password", err.Error())
		return
	}
	u := &model.User{
		Email:        req.Email,
		Name:         displayName(req.Name, req.Email),
		PasswordHash: hash,
		Role:         model.RoleUser,
		AuthSource:   model.AuthSourceManual,
	}
	if err := h.users.Create(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			jsonapi.RenderError(w, http.StatusConflict, "email_taken", "an account with this email already exists")
			return
		}
		storeError(w, r, h.log, "user", err)
		return
	}
	h.log.InfoContext(r.Context(), "user registered", "user_id", u.ID)
	h.issueTokens(w, r, u, http.StatusCreated)
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(w, r, loginSchema, &req) {
		return
	}

	ctx := r.Context()
	u, err := h.users.GetByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		storeError(w, r, h.log, "user", err)
		return
	}
	if u == nil || !auth.CheckPassword(u.PasswordHash, req.pass) {
		jsonapi.RenderError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
		return
	}

	h.touchLogin(ctx, u)
	h.issueTokens(w, r, u, http.StatusOK)
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, refreshSchema, &req) {
		return
	}

	ctx := r.Context()
	newRefresh, userID, err := h.refresh.Rotate(ctx, req.token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidRefreshToken) {
			jsonapi.RenderError(w, http.StatusUnauthorized, "invalid_token", "refresh token is invalid or expired")
			return
		}
		storeError(w, r, h.log, "refresh token", err)
		return
	}

	u, err := h.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonapi.RenderError(w, http.StatusUnauthorized, "user_not_found", "user account does not exist")
			return
		}
		storeError(w, r, h.log, "user", err)
		return
	}

	accessToken, err := auth.IssueAccessToken(u, h.jwtSecret, h.accessTTL)
	if err != nil {
		jsonapi.RenderError(w, http.StatusInternalServerError, "token_error", "failed to issue access token")
		return
	}
	h.renderTokens(w, http.StatusOK, u, accessToken, newRefresh)
}

// Anonymous handles POST /api/v1/auth/anonymous. It creates a guest account
// that can join events, ask and vote but not create events.
func (h *AuthHandler) Anonymous(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, guestSchema, &req) {
		return
	}
	id := uuid.New().String()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Guest " + id[:8]
	}
	u := &model.User{
		ID:          id,
		Email:       "guest-" + id + "@guest.invalid",
		Name:        name,
		Role:        model.RoleUser,
		IsAnonymous: true,
		AuthSource:  model.AuthSourceManual,
	}
	if err := h.users.Create(r.Context(), u); err != nil {
		storeError(w, r, h.log, "user", err)
		return
	}
	h.issueTokens(w, r, u, http.StatusCreated)
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, refreshSchema, &req) {
		return
	}
	// Even an unknown token yields 204 so tokens cannot be probed.
	if err := h.refresh.Revoke(r.Context(), req.token); err != nil {
		h.log.WarnContext(r.Context(), "revoke refresh token", "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// MicrosoftLogin handles GET /api/v1/auth/microsoft/login.
func (h *AuthHandler) MicrosoftLogin(w http.ResponseWriter, r *http.Request) {
	if h.microsoft == nil {
		jsonapi.RenderError(w, http.StatusNotFound, "provider_disabled", "Microsoft sign-in is not configured")
		return
	}
	state, err := h.state.Issue(w)
	if err != nil {
		h.log.ErrorContext(r.Context(), "issue oauth state", "err", err)
		jsonapi.RenderError(w, http.StatusInternalServerError, "internal_error", "could not start sign-in")
		return
	}
	http.Redirect(w, r, h.microsoft.AuthCodeURL(state), http.StatusFound)
}

// MicrosoftCallback handles GET /api/v1/auth/microsoft/callback. The account
// is matched by Microsoft ID, then by email, and created when neither
// matches.
func (h *AuthHandler) MicrosoftCallback(w http.ResponseWriter, r *http.Request) {
	if h.microsoft == nil {
		jsonapi.RenderError(w, http.StatusNotFound, "provider_disabled", "Microsoft sign-in is not configured")
		return
	}
	q := r.URL.Query()
	if msg := q.Get("error"); msg != "" {
		jsonapi.RenderError(w, http.StatusUnauthorized, "oauth_denied", msg+": "+q.Get("error_description"))
		return
	}
	if err := h.state.Verify(w, r, q.Get("state")); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_state", err.Error())
		return
	}

	ctx := r.Context()
	profile, err := h.microsoft.Exchange(ctx, q.Get("code"))
	if err != nil {
		h.log.WarnContext(ctx, "microsoft sign-in failed", "err", err)
		jsonapi.RenderError(w, http.StatusUnauthorized, "oauth_failed", "Microsoft sign-in failed")
		return
	}

	u, err := h.linkMicrosoft(ctx, profile)
	if errors.Is(err, errAccountExists) {
		h.log.WarnContext(ctx, "microsoft sign-in refused for existing account", "email", profile.Email)
		jsonapi.RenderError(w, http.StatusConflict, "account_exists",
			"an account with this email already exists; sign in with its password")
		return
	}
	if err != nil {
		storeError(w, r, h.log, "user", err)
		return
	}
	h.touchLogin(ctx, u)
	h.issueTokens(w, r, u, http.StatusOK)
}

// errAccountExists refuses to bind a Microsoft identity to an account that
// already has its own credentials.
var errAccountExists = errors.New("account exists with other credentials")

// linkMicrosoft resolves the account for a Microsoft profile. The Graph
// mail and UPN are not proof of mailbox ownership, so an email match only
// links a provisioned account that has no password and no other identity.
func (h *AuthHandler) linkMicrosoft(ctx context.Context, p *auth.MicrosoftProfile) (*model.User, error) {
	u, err := h.users.GetByMicrosoftID(ctx, p.ID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	msID := p.ID
	u, err = h.users.GetByEmail(ctx, p.Email)
	switch {
	case err == nil:
		if u.PasswordHash != "" || u.MicrosoftID != nil || u.IsAnonymous {
			return nil, errAccountExists
		}
		u.MicrosoftID = &msID
		u.AuthSource = model.AuthSourceMicrosoft
		if u.Name == "" {
			u.Name = p.Name
		}
		if err := h.users.Update(ctx, u); err != nil {
			return nil, err
		}
		h.log.InfoContext(ctx, "linked microsoft account", "user_id", u.ID)
		return u, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	u = &model.User{
		Email:       p.Email,
		Name:        displayName(p.Name, p.Email),
		Role:        model.RoleUser,
		MicrosoftID: &msID,
		AuthSource:  model.AuthSourceMicrosoft,
	}
	if err := h.users.Create(ctx, u); err != nil {
		return nil, err
	}
	h.log.InfoContext(ctx, "user created from microsoft sign-in", "user_id", u.ID)
	return u, nil
}

func (h *AuthHandler) touchLogin(ctx context.Context, u *model.User) {
	if err := h.users.TouchLogin(ctx, u.ID); err != nil {
		h.log.WarnContext(ctx, "record login", "user_id", u.ID, "err", err)
		return
	}
	now := time.Now().UTC()
	u.LastLoginAt = &now
}

func (h *AuthHandler) issueTokens(w http.ResponseWriter, r *http.Request, u *model.User, status int) {
	accessToken, err := auth.IssueAccessToken(u, h.jwtSecret, h.accessTTL)
	if err != nil {
		jsonapi.RenderError(w, http.StatusInternalServerError, "token_error", "failed to issue access token")
		return
	}
	refreshToken, err := h.refresh.Issue(r.Context(), u.ID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "issue refresh token", "err", err)
		jsonapi.RenderError(w, http.StatusInternalServerError, "token_error", "failed to issue refresh token")
		return
	}
	h.renderTokens(w, status, u, accessToken, refreshToken)
}

func (h *AuthHandler) renderTokens(w http.ResponseWriter, status int, u *model.User, accessToken, refreshToken string) {
	jsonapi.Render(w, status, jsonapi.Document{
		Data: jsonapi.ResourceObject{
			Type: typeAuthTokens,
			ID:   u.ID,
			Attributes: tokenAttrs{
				accessToken:  accessToken,
				refreshToken: refreshToken,
				TokenType:    "Bearer",
				ExpiresIn:    int64(h.accessTTL.Seconds()),
			},
			Relationships: map[string]jsonapi.Relationship{"user": toOne(typeUsers, u.ID)},
		},
		Included: []any{userResource(u)},
	})
}

// displayName falls back to the local part of the email address.
func displayName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}
