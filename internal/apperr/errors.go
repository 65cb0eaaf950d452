// Package apperr holds the error taxonomy shared by the upload gate and its
// collaborators. Every failure that reaches the HTTP layer carries a Kind.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindMissingFile         Kind = "missing_file"
	KindInvalidFile         Kind = "invalid_file"
	KindUnsupportedFormat   Kind = "unsupported_format"
	KindInvalidMimeType     Kind = "invalid_mime_type"
	KindPayloadTooLarge     Kind = "payload_too_large"
	KindRateLimitExceeded   Kind = "rate_limit_exceeded"
	KindDuplicateSubmission Kind = "duplicate_submission"
	KindUpstreamError       Kind = "upstream_error"
	KindUpstreamTimeout     Kind = "upstream_timeout"
	KindIO                  Kind = "io_error"
	KindInternal            Kind = "internal_error"
)

type Error struct {
	Kind    Kind
	Message string
	Cause   error
	// RetryAfter is set on throttling kinds when the store knows when a slot frees up.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. An error that already carries a kind keeps it.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// KindOf reports the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	var typed *Error
	return errors.As(err, &typed) && typed.Kind == kind
}

// RetryAfter returns the retry hint carried by err, if any.
func RetryAfter(err error) time.Duration {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.RetryAfter
	}
	return 0
}

// Message returns the human-readable message of a kinded error, or fallback.
func Message(err error, fallback string) string {
	var typed *Error
	if errors.As(err, &typed) && typed.Message != "" {
		return typed.Message
	}
	return fallback
}
