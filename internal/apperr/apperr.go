// Package apperr defines the error taxonomy shared by every layer: transient
// failures are retried, auth and validation failures surface immediately, and
// not-found is a valid empty state.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for retry and presentation decisions.
type Kind int

const (
	// KindTransient covers network errors, timeouts and 5xx responses.
	KindTransient Kind = iota
	// KindAuth means the caller must re-authenticate.
	KindAuth
	// KindValidation covers rejected input and constraint violations.
	KindValidation
	// KindNotFound means the requested row does not exist.
	KindNotFound
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// CodeForbidden marks a validation error caused by a permission check.
const CodeForbidden = "forbidden"

// CodeSchema marks a transient error caused by a row that failed validation
// after it was read.
const CodeSchema = "schema"

// Error is a classified error carrying the backend's structured code and
// message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error without a cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap classifies err. The message defaults to err's text.
func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

// Transient wraps err as a retryable failure.
func Transient(code string, err error) *Error { return Wrap(KindTransient, code, err) }

// Auth returns an authentication failure.
func Auth(message string) *Error { return New(KindAuth, "", message) }

// Validation returns an input validation failure.
func Validation(message string) *Error { return New(KindValidation, "", message) }

// Forbidden returns a validation failure raised by a permission check.
func Forbidden(message string) *Error { return New(KindValidation, CodeForbidden, message) }

// NotFound returns a not-found error for what.
func NotFound(what string) *Error { return New(KindNotFound, "", what+" not found") }

// KindOf returns the kind of the first classified error in err's chain.
// Unclassified errors count as transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return Is(err, KindNotFound) }

// IsForbidden reports whether err came from a permission check.
func IsForbidden(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindValidation && e.Code == CodeForbidden
}

// Retryable reports whether err is worth another attempt. Cancellation is
// never retried.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err) == KindTransient
}
