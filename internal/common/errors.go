// Package common defines shared constants and sentinel errors used across
// client and server layers of FieldSync. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Local store errors.
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrCollectionOutOfScope = errors.New("collection not in transaction scope")

	// Entity errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation error")
	ErrNotInConflict = errors.New("record is not in conflict")

	// Sync errors, as classified at the transport boundary.
	ErrTransient    = errors.New("transient network error")
	ErrAuthRejected = errors.New("auth rejected")
	ErrConflict     = errors.New("conflict")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// ValidationError describes a single malformed field. It matches
// ErrValidation under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid is a shorthand for building a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
