// Package jsonapi writes JSON:API documents.
// See https://jsonapi.org for the format.
package jsonapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// ContentType is the JSON:API media type.
const ContentType = "application/vnd.api+json"

// Meta represents arbitrary metadata.
type Meta map[string]any

// Document is a top-level JSON:API document.
// It carries data, errors or meta.
type Document struct {
	Data   any     `json:"data,omitempty"`
	Errors []Error `json:"errors,omitempty"`
	Meta   Meta    `json:"meta,omitempty"`
	Links  *Links  `json:"links,omitempty"`
}

// Resource is a JSON:API resource object.
type Resource struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Attributes any    `json:"attributes,omitempty"`
	Links      *Links `json:"links,omitempty"`
}

// Links holds self and related links.
type Links struct {
	Self    string `json:"self,omitempty"`
	Related string `json:"related,omitempty"`
}

// Error is a JSON:API error object.
type Error struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Meta   Meta   `json:"meta,omitempty"`
}

// StatusCode returns the HTTP status as an int.
func (e Error) StatusCode() int {
	code, _ := strconv.Atoi(e.Status)
	return code
}

// NewError creates an error with the standard title for status.
func NewError(status int, code, detail string) Error {
	return Error{
		Status: strconv.Itoa(status),
		Code:   code,
		Title:  http.StatusText(status),
		Detail: detail,
	}
}

// WithMeta returns a copy of e carrying the metadata entry.
func (e Error) WithMeta(key string, value any) Error {
	meta := make(Meta, len(e.Meta)+1)
	for k, v := range e.Meta {
		meta[k] = v
	}
	meta[key] = value
	e.Meta = meta
	return e
}

// ErrBadRequest creates a 400 error.
func ErrBadRequest(detail string) Error {
	return NewError(http.StatusBadRequest, "bad_request", detail)
}

// ErrNotFound creates a 404 error for a resource of the given type and ID.
func ErrNotFound(resourceType, id string) Error {
	return NewError(http.StatusNotFound, "not_found", fmt.Sprintf("%s %q was not found", resourceType, id))
}

// ErrTooLarge creates a 413 error.
func ErrTooLarge(limit int64) Error {
	return NewError(http.StatusRequestEntityTooLarge, "body_too_large",
		fmt.Sprintf("request body exceeds %d bytes", limit))
}

// ErrUnprocessable creates a 422 error.
func ErrUnprocessable(code, detail string) Error {
	return NewError(http.StatusUnprocessableEntity, code, detail)
}

// ErrRateLimited creates a 429 error.
func ErrRateLimited() Error {
	return NewError(http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests, slow down")
}

// ErrInternal creates a 500 error.
func ErrInternal(detail string) Error {
	if detail == "" {
		detail = "an unexpected error occurred"
	}
	return NewError(http.StatusInternalServerError, "internal_error", detail)
}

// WriteDocument writes doc with the JSON:API content type.
func WriteDocument(w http.ResponseWriter, status int, doc Document) error {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(doc)
}

// WriteResource writes a single resource.
func WriteResource(w http.ResponseWriter, status int, r Resource) error {
	return WriteDocument(w, status, Document{Data: r})
}

// WriteCollection writes a list of resources. An empty list is written as [].
func WriteCollection(w http.ResponseWriter, resources []Resource, meta Meta) error {
	if resources == nil {
		resources = []Resource{}
	}
	return WriteDocument(w, http.StatusOK, Document{Data: resources, Meta: meta})
}

// WriteError writes errs. The HTTP status comes from the first error.
func WriteError(w http.ResponseWriter, errs ...Error) error {
	if len(errs) == 0 {
		errs = []Error{ErrInternal("")}
	}
	status := errs[0].StatusCode()
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return WriteDocument(w, status, Document{Errors: errs})
}
