// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrValidation indicates invalid or missing input. Detected before any
// backend mutation.
var ErrValidation = errors.New("validation error")

// ErrNotFound indicates the requested tenant or backend resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the request collides with existing state, e.g. a
// username that is already provisioned.
var ErrConflict = errors.New("conflict")

// ErrResourceExhausted indicates a bounded search (such as the host port
// search) ran out of candidates. It is a kind of ErrConflict.
var ErrResourceExhausted = fmt.Errorf("resource exhausted: %w", ErrConflict)

// ErrBackend indicates the container engine or cluster API failed.
var ErrBackend = errors.New("backend error")

// ErrPersistence indicates the tenant registry is unreachable or a write failed.
var ErrPersistence = errors.New("persistence error")

// Kind returns the error kind name used in API responses.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrConflict):
		return "ConflictError"
	case errors.Is(err, ErrNotFound):
		return "NotFoundError"
	case errors.Is(err, ErrPersistence):
		return "PersistenceError"
	case errors.Is(err, ErrBackend):
		return "BackendError"
	default:
		return "InternalError"
	}
}
