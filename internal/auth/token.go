// Package auth provides JWT token issuance and validation, refresh token
// persistence, password hashing and Microsoft sign-in.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/d9705996/ama/internal/model"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "ama"

// Claims travel inside every access token.
type Claims struct {
	UserID    string     `json:"uid"`
	Email     string     `json:"email"`
	Role      model.Role `json:"role"`
	Anonymous bool       `json:"anon,omitempty"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the token holder has the admin role.
func (c *Claims) IsAdmin() bool { return c.Role == model.RoleAdmin }

// ErrInvalidToken wraps every access token rejection.
var ErrInvalidToken = errors.New("invalid access token")

// IssueAccessToken signs an HS256 access token for u that expires after ttl.
func IssueAccessToken(u *model.User, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:    u.ID,
		Email:     u.Email,
		Role:      u.Role,
		Anonymous: u.IsAnonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies raw against secret and returns its claims. Only
// HS256 tokens issued by ama are accepted.
func ParseAccessToken(raw, secret string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return &claims, nil
}
