// Package common defines shared constants and sentinel errors used across
// the identity service layers. Callers should use errors.Is to match these
// values; services wrap them with additional context.
package common

import (
	"errors"
	"fmt"
)

var (
	// Request-level errors.
	ErrorInvalidInput = errors.New("invalid input")

	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("already exists")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// ErrIncorrectPassword is returned when a password re-check fails for an
	// already authenticated caller. It is an Unauthorized kind.
	ErrIncorrectPassword = fmt.Errorf("incorrect password: %w", ErrorUnauthorized)

	// Token verification errors. An expired token had a valid signature.
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// InvalidInput wraps ErrorInvalidInput with a client-facing message.
func InvalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrorInvalidInput, msg)
}

// Internal wraps an unexpected failure so that it matches ErrorInternal while
// keeping the cause available for server-side logging.
func Internal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrorInternal, op, err)
}
