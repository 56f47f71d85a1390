// Package domain holds the ocrbase entities and the error taxonomy shared by
// every layer.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Handlers map these to HTTP status codes with errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limit exceeded")
	// ErrStaleState means a conditional update found the row in a different
	// state than expected.
	ErrStaleState = errors.New("stale state")
)

// InvalidInput wraps ErrInvalidInput with a caller-facing message.
func InvalidInput(format string, args ...any) error {
	return &CallerError{kind: ErrInvalidInput, msg: fmt.Sprintf(format, args...)}
}

// NotFound wraps ErrNotFound with the missing entity's name.
func NotFound(entity string) error {
	return &CallerError{kind: ErrNotFound, msg: entity + " not found"}
}

// CallerError carries a message that is safe to return to the client.
type CallerError struct {
	kind error
	msg  string
}

func (e *CallerError) Error() string { return e.msg }
func (e *CallerError) Unwrap() error { return e.kind }

// PublicMessage returns the client-safe message carried by err, if any.
func PublicMessage(err error) (string, bool) {
	var ce *CallerError
	if errors.As(err, &ce) {
		return ce.msg, true
	}
	return "", false
}
