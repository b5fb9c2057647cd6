// Package jsonapi renders AMA responses as JSON:API 1.1 documents.
package jsonapi

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// MediaType is the JSON:API content type.
const MediaType = "application/vnd.api+json"

// Document carries a single primary resource.
type Document struct {
	Data     any   `json:"data"`
	Included []any `json:"included,omitempty"`
	Meta     Meta  `json:"meta,omitempty"`
}

// ListDocument carries a collection of primary resources.
type ListDocument struct {
	Data     []any     `json:"data"`
	Included []any     `json:"included,omitempty"`
	Meta     *ListMeta `json:"meta,omitempty"`
}

// ListMeta describes the window of a collection. Total counts every match,
// not only the returned page.
type ListMeta struct {
	Total  int `json:"total"`
	Offset int `json:"offset,omitempty"`
	Limit  int `json:"limit,omitempty"`
}

// ResourceObject is one resource in a document.
type ResourceObject struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    any                     `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
	Links         *Links                  `json:"links,omitempty"`
	Meta          Meta                    `json:"meta,omitempty"`
}

// Relationship holds resource linkage: an identifier, a slice of them or nil.
type Relationship struct {
	Data any `json:"data"`
}

// Links points at the canonical URL of a resource.
type Links struct {
	Self string `json:"self"`
}

// Meta is free-form non-standard information.
type Meta map[string]any

// ErrorDocument is the body of every failed request.
type ErrorDocument struct {
	Errors []ErrorObject `json:"errors"`
}

// ErrorObject is one problem. Code is the stable machine-readable name.
type ErrorObject struct {
	Status string       `json:"status"`
	Code   string       `json:"code"`
	Title  string       `json:"title"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
}

// ErrorSource names the request member or query parameter at fault.
type ErrorSource struct {
	Pointer   string `json:"pointer,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}

// NewError builds an error object whose status and title follow status.
func NewError(status int, code, detail string) ErrorObject {
	return ErrorObject{
		Status: strconv.Itoa(status),
		Code:   code,
		Title:  http.StatusText(status),
		Detail: detail,
	}
}

// AtPointer returns e blamed on the body member at pointer.
func (e ErrorObject) AtPointer(pointer string) ErrorObject {
	e.Source = &ErrorSource{Pointer: pointer}
	return e
}

// AtParameter returns e blamed on a query parameter.
func (e ErrorObject) AtParameter(param string) ErrorObject {
	e.Source = &ErrorSource{Parameter: param}
	return e
}

// Render writes doc with the JSON:API media type.
func Render(w http.ResponseWriter, status int, doc any) {
	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(doc)
}

// RenderOne writes a single-resource document.
func RenderOne(w http.ResponseWriter, status int, data any) {
	Render(w, status, Document{Data: data})
}

// RenderList writes a collection. A nil slice renders as an empty array.
func RenderList(w http.ResponseWriter, status int, data []any, meta ListMeta) {
	if data == nil {
		data = []any{}
	}
	Render(w, status, ListDocument{Data: data, Meta: &meta})
}

// RenderError writes a single error.
func RenderError(w http.ResponseWriter, status int, code, detail string) {
	RenderErrors(w, status, NewError(status, code, detail))
}

// RenderErrors writes every error in errs under one status.
func RenderErrors(w http.ResponseWriter, status int, errs ...ErrorObject) {
	Render(w, status, ErrorDocument{Errors: errs})
}
