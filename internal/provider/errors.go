package provider

import (
	"errors"
	"fmt"
)

// ErrorCategory is the engine's closed failure taxonomy for the embedding
// provider. Every provider-specific error is mapped onto one of these before
// it leaves this package; nothing upstream ever sees a raw provider code.
type ErrorCategory string

const (
	// ErrorNoFaceDetected indicates the capture contained no detectable
	// face. An input defect, never retried.
	ErrorNoFaceDetected ErrorCategory = "no_face_detected"

	// ErrorUnavailable indicates a timeout or transient provider failure.
	// Retried with backoff up to the configured bound.
	ErrorUnavailable ErrorCategory = "provider_unavailable"

	// ErrorNotFound indicates the target embedding or collection does not
	// exist on the provider side. Not retried.
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorInternal indicates an unexpected provider response the adapter
	// could not classify. Not retried.
	ErrorInternal ErrorCategory = "internal"
)

// Error wraps provider failures with normalized categorization.
type Error struct {
	Category   ErrorCategory
	Op         string // verify or search
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.Op, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.Op, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError creates a normalized provider error.
func NewError(category ErrorCategory, op, message string, underlying error) *Error {
	return &Error{Category: category, Op: op, Message: message, Underlying: underlying}
}

// Retryable reports whether the error is worth retrying. Only transient
// unavailability qualifies; input defects never do.
func Retryable(err error) bool {
	return Category(err) == ErrorUnavailable
}

// Category extracts the normalized category, defaulting to internal for
// errors that did not originate here.
func Category(err error) ErrorCategory {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}

// IsNoFace reports whether the error is the no-face-detected input defect.
func IsNoFace(err error) bool {
	return Category(err) == ErrorNoFaceDetected
}

// IsUnavailable reports whether the error means the provider could not be
// reached in time, after the adapter exhausted its retries.
func IsUnavailable(err error) bool {
	return Category(err) == ErrorUnavailable
}
