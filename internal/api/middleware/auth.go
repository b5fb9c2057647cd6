// Package middleware holds the HTTP middleware shared by every ama route.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/d9705996/ama/internal/api/jsonapi"
	"github.com/d9705996/ama/internal/auth"
	"github.com/d9705996/ama/internal/model"
	"github.com/d9705996/ama/internal/store"
)

type claimsKey struct{}

// UserLookup loads the account behind a token.
type UserLookup interface {
	Get(ctx context.Context, id string) (*model.User, error)
}

// RequireAuth admits requests carrying a valid "Authorization: Bearer" access
// token signed with secret and stores its claims on the request context.
// The account must still exist; role, email and guest status are taken from
// the stored row, not from the token.
func RequireAuth(secret string, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				jsonapi.RenderError(w, http.StatusUnauthorized, "missing_token",
					"a bearer access token is required")
				return
			}
			claims, err := auth.ParseAccessToken(raw, secret)
			if err != nil {
				jsonapi.RenderError(w, http.StatusUnauthorized, "invalid_token",
					"access token is invalid or expired")
				return
			}
			u, err := users.Get(r.Context(), claims.UserID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				jsonapi.RenderError(w, http.StatusUnauthorized, "invalid_token",
					"the account behind this token no longer exists")
				return
			case err != nil:
				jsonapi.RenderError(w, http.StatusInternalServerError, "internal_error",
					"could not load the authenticated account")
				return
			}
			claims.Email = u.Email
			claims.Role = u.Role
			claims.Anonymous = u.IsAnonymous
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// bearer extracts the token from an Authorization header value.
func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithClaims attaches claims to ctx.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the caller's claims, or nil outside RequireAuth.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}

// RequireAdmin lets only admins through. Chain it inside RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return gate(next, "admin_required", "this action requires the admin role",
		(*auth.Claims).IsAdmin)
}

// RequireRegistered turns away anonymous guests. Chain it inside RequireAuth.
func RequireRegistered(next http.Handler) http.Handler {
	return gate(next, "registration_required", "guest accounts cannot perform this action",
		func(c *auth.Claims) bool { return !c.Anonymous })
}

func gate(next http.Handler, code, detail string, admit func(*auth.Claims) bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch claims := ClaimsFromContext(r.Context()); {
		case claims == nil:
			jsonapi.RenderError(w, http.StatusUnauthorized, "missing_token", "authentication required")
		case !admit(claims):
			jsonapi.RenderError(w, http.StatusForbidden, code, detail)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
