package auth_test

import (
	"testing"
	"time"

	"github.com/d9705996/ama/internal/auth"
	"github.com/d9705996/ama/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-32-bytes-long"

func testUser() *model.User {
	return &model.User{ID: "user-1", Email: "user@example.com", Role: model.RoleModerator}
}

func TestIssueAndParseAccessToken(t *testing.T) {
	token, err := auth.IssueAccessToken(testUser(), testSecret, 15*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := auth.ParseAccessToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, model.RoleModerator, claims.Role)
	assert.False(t, claims.IsAdmin())
	assert.False(t, claims.Anonymous)
}

func TestIssueAccessToken_AnonymousAdmin(t *testing.T) {
	u := &model.User{ID: "guest", Email: "guest@ama.local", Role: model.RoleAdmin, IsAnonymous: true}
	token, err := auth.IssueAccessToken(u, testSecret, time.Minute)
	require.NoError(t, err)

	claims, err := auth.ParseAccessToken(token, testSecret)
	require.NoError(t, err)
	assert.True(t, claims.Anonymous)
	assert.True(t, claims.IsAdmin())
}

func TestParseAccessToken_ExpiredToken(t *testing.T) {
	// A negative TTL yields a token that is already expired.
	token, err := auth.IssueAccessToken(testUser(), testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = auth.ParseAccessToken(token, testSecret)
	require.Error(t, err)
}

func TestParseAccessToken_WrongSecret(t *testing.T) {
	token, err := auth.IssueAccessToken(testUser(), testSecret, 15*time.Minute)
	require.NoError(t, err)

	_, err = auth.ParseAccessToken(token, "wrong-secret")
	require.Error(t, err)
}

func TestParseAccessToken_Garbage(t *testing.T) {
	_, err := auth.ParseAccessToken("not.a.jwt", testSecret)
	require.Error(t, err)
}

func TestParseAccessToken_RejectsOtherAlgorithms(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &auth.Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ama",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = auth.ParseAccessToken(tok, testSecret)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestParseAccessToken_RejectsForeignIssuer(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = auth.ParseAccessToken(tok, testSecret)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}
