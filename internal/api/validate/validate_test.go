package validate_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/d9705996/ama/internal/api/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var loginSchema = validate.MustCompile(`{
	"type": "object",
	"required": ["email", "password"],
	"properties": {
		"email": {"type": "string", "minLength": 3},
		"password": {"type": "string", "minLength": 1}
	}
}`)

func TestValidate_OK(t *testing.T) {
	err := loginSchema.Validate(context.Background(), []byte(`{"email":"a@b.c","password":"x"}`))
	require.NoError(t, err)
}

func TestValidate_Violations(t *testing.T) {
	err := loginSchema.Validate(context.Background(), []byte(`{"email":1}`))
	var verr *validate.Error
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Violations)
	for _, v := range verr.Violations {
		assert.True(t, strings.HasPrefix(v.Pointer, "/"), v.Pointer)
		assert.NotEmpty(t, v.Message)
	}
}

func TestValidate_Malformed(t *testing.T) {
	err := loginSchema.Validate(context.Background(), []byte(`{"email":`))
	require.ErrorIs(t, err, validate.ErrMalformed)
}

func TestDecode(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c","password":"x"}`))
	require.NoError(t, validate.Decode(req, loginSchema, &dst))
	assert.Equal(t, "a@b.c", dst.Email)

	req = httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	var verr *validate.Error
	require.ErrorAs(t, validate.Decode(req, loginSchema, &dst), &verr)
}

func TestMustCompile_Panics(t *testing.T) {
	assert.Panics(t, func() { validate.MustCompile(`{"type":`) })
}
