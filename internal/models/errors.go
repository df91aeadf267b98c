package models

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failure for API responses and retry decisions.
type ErrorClass string

const (
	// ErrClassInput marks missing or invalid caller input. Never retried.
	ErrClassInput ErrorClass = "InputError"
	// ErrClassNoURL marks a missing locator.
	ErrClassNoURL ErrorClass = "NoURL"
	// ErrClassMissingParameters marks other absent request parameters.
	ErrClassMissingParameters ErrorClass = "MissingParameters"
	// ErrClassNoFormats marks a catalog with zero usable formats.
	ErrClassNoFormats ErrorClass = "NoFormatsAvailable"
	// ErrClassFormatNotFound marks an unresolvable format id.
	ErrClassFormatNotFound ErrorClass = "FormatNotFound"
	// ErrClassRateLimited marks a transient rate-limiting signal from upstream.
	ErrClassRateLimited ErrorClass = "UpstreamRateLimited"
	// ErrClassUpstreamUnavailable marks exhausted retries against upstream.
	ErrClassUpstreamUnavailable ErrorClass = "UpstreamUnavailable"
	// ErrClassUpstreamData marks a malformed upstream response. Not retried.
	ErrClassUpstreamData ErrorClass = "UpstreamDataError"
	// ErrClassStreamFailure marks a failure after streaming started.
	ErrClassStreamFailure ErrorClass = "StreamFailure"
	// ErrClassSubprocess marks abnormal transcoder termination.
	ErrClassSubprocess ErrorClass = "SubprocessFailure"
)

// Error is a classified error carrying a human-readable detail string.
type Error struct {
	Class  ErrorClass
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error.
func NewError(class ErrorClass, detail string) *Error {
	return &Error{Class: class, Detail: detail}
}

// WrapError wraps an underlying error with a classification.
func WrapError(class ErrorClass, detail string, err error) *Error {
	return &Error{Class: class, Detail: detail, Err: err}
}

// ClassOf extracts the classification from err. Unclassified errors map to
// ErrClassStreamFailure with ok=false so callers can decide how to surface them.
func ClassOf(err error) (ErrorClass, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return ErrClassStreamFailure, false
}

// DetailOf returns the human-readable detail for err, falling back to the
// plain error string for unclassified errors.
func DetailOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Detail
	}
	return err.Error()
}

// IsClass reports whether err carries the given classification.
func IsClass(err error, class ErrorClass) bool {
	got, ok := ClassOf(err)
	return ok && got == class
}

// IsTransient reports whether err should be retried against upstream.
// Only rate-limiting counts; data errors and lookup misses surface immediately.
func IsTransient(err error) bool {
	return IsClass(err, ErrClassRateLimited)
}
