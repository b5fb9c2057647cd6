// Package handler contains HTTP handlers grouped by resource.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/d9705996/ama/internal/api/jsonapi"
	"github.com/d9705996/ama/internal/api/middleware"
	"github.com/d9705996/ama/internal/api/validate"
	"github.com/d9705996/ama/internal/auth"
	"github.com/d9705996/ama/internal/store"
)

// decode validates the request body against s and unmarshals it into dst.
// It writes the error response itself and reports whether the handler may
// continue.
func decode(w http.ResponseWriter, r *http.Request, s *validate.Schema, dst any) bool {
	err := validate.Decode(r, s, dst)
	if err == nil {
		return true
	}
	var verr *validate.Error
	switch {
	case errors.As(err, &verr):
		errs := make([]jsonapi.ErrorObject, 0, len(verr.Violations))
		for _, v := range verr.Violations {
			errs = append(errs, jsonapi.NewError(http.StatusUnprocessableEntity,
				"invalid_attribute", v.Message).AtPointer(v.Pointer))
		}
		jsonapi.RenderErrors(w, http.StatusUnprocessableEntity, errs...)
	case errors.Is(err, validate.ErrMalformed):
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", err.Error())
	default:
		jsonapi.RenderError(w, http.StatusInternalServerError, "internal_error", "could not validate request body")
	}
	return false
}

// invalidAttribute writes a single 422 pointing at one body member.
func invalidAttribute(w http.ResponseWriter, pointer, detail string) {
	jsonapi.RenderErrors(w, http.StatusUnprocessableEntity,
		jsonapi.NewError(http.StatusUnprocessableEntity, "invalid_attribute", detail).AtPointer(pointer))
}

// invalidParameter writes a 400 naming the offending query parameter.
func invalidParameter(w http.ResponseWriter, param, detail string) {
	jsonapi.RenderErrors(w, http.StatusBadRequest,
		jsonapi.NewError(http.StatusBadRequest, "invalid_parameter", detail).AtParameter(param))
}

func forbidden(w http.ResponseWriter, detail string) {
	jsonapi.RenderError(w, http.StatusForbidden, "forbidden", detail)
}

func notFound(w http.ResponseWriter, what string) {
	jsonapi.RenderError(w, http.StatusNotFound, "not_found", what+" does not exist")
}

// storeError maps store sentinels onto HTTP statuses. Anything unexpected is
// logged and reported as a 500.
func storeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, what string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		notFound(w, what)
	case errors.Is(err, store.ErrConflict):
		jsonapi.RenderError(w, http.StatusConflict, "conflict", what+" conflicts with an existing record")
	case errors.Is(err, store.ErrAlreadyVoted):
		jsonapi.RenderError(w, http.StatusConflict, "already_voted", err.Error())
	case errors.Is(err, store.ErrNotVoted):
		jsonapi.RenderError(w, http.StatusNotFound, "not_voted", err.Error())
	case errors.Is(err, store.ErrEventClosed):
		jsonapi.RenderError(w, http.StatusConflict, "event_closed", err.Error())
	case errors.Is(err, store.ErrQuestionAnswered):
		jsonapi.RenderError(w, http.StatusConflict, "question_answered",
			"answered questions cannot be edited or staged")
	case errors.Is(err, store.ErrInvalidValue):
		jsonapi.RenderError(w, http.StatusUnprocessableEntity, "invalid_attribute",
			what+" has a value outside the allowed set")
	case errors.Is(err, store.ErrOwnsEvents):
		jsonapi.RenderError(w, http.StatusConflict, "owns_events",
			"delete or hand over the user's events first")
	default:
		log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		jsonapi.RenderError(w, http.StatusInternalServerError, "internal_error",
			"an unexpected error occurred")
	}
}

// claimsOf returns the caller's claims. Routes are registered behind
// RequireAuth, so a missing value is a wiring bug.
func claimsOf(r *http.Request) *auth.Claims {
	c := middleware.ClaimsFromContext(r.Context())
	if c == nil {
		panic("handler: route registered without RequireAuth")
	}
	return c
}

// boolParam parses an optional boolean query parameter.
func boolParam(r *http.Request, name string) (*bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// intParam parses an optional integer query parameter within [lo, hi].
func intParam(r *http.Request, name string, def, lo, hi int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, false
	}
	return n, true
}

// floatParam parses an optional float query parameter within (0, 1].
func floatParam(r *http.Request, name string, def float64) (float64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || f > 1 {
		return 0, false
	}
	return f, true
}

// optional distinguishes an absent member from an explicit null.
type optional[T any] struct {
	Set   bool
	Value *T
}

func (o *optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// stringFields copies the named string members of the JSON object in data
// into dst. Absent members leave their target untouched.
func stringFields(data []byte, dst map[string]*string) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	for key, target := range dst {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}
