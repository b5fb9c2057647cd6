// Package validate checks request bodies against JSON Schemas.
package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/qri-io/jsonschema"
)

// MaxBodyBytes bounds request bodies read by Decode.
const MaxBodyBytes = 1 << 20

// ErrMalformed is returned when the body is not a JSON document.
var ErrMalformed = errors.New("request body must be a valid JSON object")

// Violation is one schema failure. Pointer is a JSON pointer into the body.
type Violation struct {
	Pointer string
	Message string
}

// Error is returned by Decode when the body does not match the schema.
type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	if len(e.Violations) == 0 {
		return "request body is invalid"
	}
	return fmt.Sprintf("request body is invalid: %s: %s", e.Violations[0].Pointer, e.Violations[0].Message)
}

// Schema is a compiled JSON Schema.
type Schema struct {
	rs *jsonschema.Schema
}

// MustCompile compiles src and panics if it is not a valid schema. Schemas
// are package-level constants, so a failure is a programming error.
func MustCompile(src string) *Schema {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(src), rs); err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return &Schema{rs: rs}
}

// Validate checks data against the schema.
func (s *Schema) Validate(ctx context.Context, data []byte) error {
	if !json.Valid(data) {
		return ErrMalformed
	}
	errs, err := s.rs.ValidateBytes(ctx, data)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if len(errs) == 0 {
		return nil
	}
	out := &Error{Violations: make([]Violation, 0, len(errs))}
	for _, ke := range errs {
		ptr := ke.PropertyPath
		if ptr == "" {
			ptr = "/"
		}
		out.Violations = append(out.Violations, Violation{Pointer: ptr, Message: ke.Message})
	}
	return out
}

// Decode reads the request body, validates it against s and unmarshals it
// into dst. It returns ErrMalformed, *Error or nil.
func Decode(r *http.Request, s *Schema, dst any) error {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, MaxBodyBytes))
	if err != nil {
		return ErrMalformed
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := s.Validate(r.Context(), data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return ErrMalformed
	}
	return nil
}
