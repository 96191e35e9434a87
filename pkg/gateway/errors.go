package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Common domain errors shared across gateway subpackages.
// These errors should be checked using errors.Is().

var (
	// ErrUnknownDomain indicates the inbound request domain has no bound
	// virtual server. Terminal; callers map it to a 404.
	ErrUnknownDomain = errors.New("no virtual server bound to domain")

	// ErrUnknownPrefix indicates a fetch identifier whose prefix matches no
	// active handler.
	ErrUnknownPrefix = errors.New("no handler registered for prefix")

	// ErrNotFound indicates the backend reported the requested record absent.
	ErrNotFound = errors.New("record not found")

	// ErrPoolExhausted indicates every endpoint in the pool is in use.
	// Surfaced to the caller as an actionable capacity error.
	ErrPoolExhausted = errors.New("endpoint pool exhausted")

	// ErrAllHandlersFailed indicates an aggregated search where every
	// configured handler failed. Distinct from zero handlers configured,
	// which is an empty success.
	ErrAllHandlersFailed = errors.New("all handlers failed")

	// ErrInvalidInput indicates malformed caller input, e.g. an opaque
	// identifier without a prefix separator.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError reports a malformed source metadata field. It is raised
// before persistence and never reaches the aggregation engine.
type ValidationError struct {
	// Field is the metadata key that is missing or invalid.
	Field string

	// Reason describes what is wrong with the field.
	Reason string
}

// Error returns the validation failure message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid source metadata: field %q %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the named field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// FailureClass classifies a connector failure for operators. The engine
// treats all classes uniformly within a request; the classification is
// recorded so systemic retries can be decided out of band.
type FailureClass string

const (
	// FailureAuth is an authentication or authorization failure against
	// the backing system.
	FailureAuth FailureClass = "auth"

	// FailureTransient is a failure that is safe to retry, e.g. a rate
	// limit or a 5xx from the backing system.
	FailureTransient FailureClass = "transient"

	// FailurePermanent is a non-retryable failure, e.g. a malformed
	// request rejected by the backing system.
	FailurePermanent FailureClass = "permanent"

	// FailureNotFound means the backing system reported the record absent.
	FailureNotFound FailureClass = "not_found"

	// FailureTimeout means the handler exceeded its per-call deadline.
	FailureTimeout FailureClass = "timeout"
)

// HandlerError wraps a connector failure with its classification and the
// handler that produced it. Raw backend errors never cross the aggregation
// boundary without this wrapper.
type HandlerError struct {
	// Class is the failure classification.
	Class FailureClass

	// Handler names the connector that failed.
	Handler string

	// Err is the underlying error.
	Err error
}

// Error returns the classified failure message.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed (%s): %v", e.Handler, e.Class, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	if e.Class == FailureNotFound {
		return ErrNotFound
	}
	return e.Err
}

// NewHandlerError wraps err with a classification for the named handler.
func NewHandlerError(class FailureClass, handler string, err error) *HandlerError {
	return &HandlerError{Class: class, Handler: handler, Err: err}
}

// ClassOf extracts the failure class from err, defaulting to permanent for
// unclassified errors and mapping context deadline errors to timeout.
func ClassOf(err error) FailureClass {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	if errors.Is(err, ErrNotFound) {
		return FailureNotFound
	}
	return FailurePermanent
}
