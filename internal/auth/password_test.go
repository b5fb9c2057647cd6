package auth_test

import (
	"testing"

	"github.com/d9705996/ama/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := auth.HashPassword("s3cret-password")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-password", hash)

	assert.True(t, auth.CheckPassword(hash, "s3cret-password"))
	assert.False(t, auth.CheckPassword(hash, "wrong-password"))
}

func TestHashPassword_TooShort(t *testing.T) {
	_, err := auth.HashPassword("short")
	require.ErrorIs(t, err, auth.ErrWeakPassword)
}

func TestCheckPassword_EmptyHash(t *testing.T) {
	assert.False(t, auth.CheckPassword("", ""))
	assert.False(t, auth.CheckPassword("", "anything"))
}
