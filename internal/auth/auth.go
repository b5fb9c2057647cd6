package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	stateCookieName = "ama_oauth_state"
	stateLifetime   = 10 * time.Minute
)

// ErrInvalidState is returned when the OAuth state cookie is missing,
// expired, tampered with, or does not match the callback's state parameter.
var ErrInvalidState = errors.New("oauth state is invalid or expired")

// StateCookie binds an OAuth authorization request to the browser that
// started it, using a signed and encrypted short-lived cookie.
type StateCookie struct {
	codec  *securecookie.SecureCookie
	secure bool
}

type statePayload struct {
	State    string
	IssuedAt int64
}

// NewStateCookie derives the cookie keys from secret. secure marks the
// cookie Secure (set when the public base URL is https).
func NewStateCookie(secret string, secure bool) *StateCookie {
	hashKey := sha256.Sum256([]byte("ama/oauth-state/hash:" + secret))
	blockKey := sha256.Sum256([]byte("ama/oauth-state/block:" + secret))
	codec := securecookie.New(hashKey[:], blockKey[:])
	codec.MaxAge(int(stateLifetime.Seconds()))
	return &StateCookie{codec: codec, secure: secure}
}

// Issue creates a random state value, stores it in the cookie and returns it
// for use in the authorization URL.
func (c *StateCookie) Issue(w http.ResponseWriter) (string, error) {
	state, err := GenerateToken()
	if err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	value, err := c.codec.Encode(stateCookieName, statePayload{State: state, IssuedAt: time.Now().Unix()})
	if err != nil {
		return "", fmt.Errorf("encode oauth state: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(stateLifetime.Seconds()),
	})
	return state, nil
}

// Verify checks state against the cookie and clears the cookie. A state can
// only be used once.
func (c *StateCookie) Verify(w http.ResponseWriter, r *http.Request, state string) error {
	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" || state == "" {
		return ErrInvalidState
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		MaxAge:   -1,
	})

	var p statePayload
	if err := c.codec.Decode(stateCookieName, cookie.Value, &p); err != nil {
		return ErrInvalidState
	}
	if time.Since(time.Unix(p.IssuedAt, 0)) > stateLifetime {
		return ErrInvalidState
	}
	if subtle.ConstantTimeCompare([]byte(p.State), []byte(state)) != 1 {
		return ErrInvalidState
	}
	return nil
}
