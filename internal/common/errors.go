// Package common defines shared constants and sentinel errors used across
// the bhopmaps server layers. Callers should use errors.Is to match these
// values; lower layers wrap them with fmt.Errorf("...: %w", err).
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrConflict   = errors.New("already exists")

	// Service-level errors.
	ErrorInternal = errors.New("internal error")
	ErrValidation = errors.New("validation error")
	ErrForbidden  = errors.New("forbidden")

	// Auth errors. ErrInvalidCredentials never says which of username or
	// password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSession     = errors.New("invalid session")

	// Object store errors.
	ErrObjectNotFound   = errors.New("object not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)
