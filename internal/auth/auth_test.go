package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/d9705996/ama/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueState(t *testing.T, sc *auth.StateCookie) (string, *http.Cookie) {
	t.Helper()
	rec := httptest.NewRecorder()
	state, err := sc.Issue(rec)
	require.NoError(t, err)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)
	return state, cookies[0]
}

func TestStateCookie_RoundTrip(t *testing.T) {
	sc := auth.NewStateCookie(testSecret, false)
	state, cookie := issueState(t, sc)

	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	require.NoError(t, sc.Verify(rec, req, state))

	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, -1, cleared[0].MaxAge)
}

func TestStateCookie_Mismatch(t *testing.T) {
	sc := auth.NewStateCookie(testSecret, false)
	_, cookie := issueState(t, sc)

	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	req.AddCookie(cookie)
	err := sc.Verify(httptest.NewRecorder(), req, "some-other-state")
	require.ErrorIs(t, err, auth.ErrInvalidState)
}

func TestStateCookie_MissingCookie(t *testing.T) {
	sc := auth.NewStateCookie(testSecret, false)
	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	err := sc.Verify(httptest.NewRecorder(), req, "state")
	require.ErrorIs(t, err, auth.ErrInvalidState)
}

func TestStateCookie_DifferentSecret(t *testing.T) {
	state, cookie := issueState(t, auth.NewStateCookie(testSecret, false))

	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	req.AddCookie(cookie)
	err := auth.NewStateCookie("another-secret", false).Verify(httptest.NewRecorder(), req, state)
	require.ErrorIs(t, err, auth.ErrInvalidState)
}
