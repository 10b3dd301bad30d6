package upstream

import (
	"errors"
	"fmt"
)

// Error kinds classified at the client/worker boundary. The worker decides
// retry behavior from the kind string stored on the job.
const (
	KindTokenExpired       = "TOKEN_EXPIRED"
	KindTransientUpstream  = "TRANSIENT_UPSTREAM"
	KindAllPageSizesFailed = "ALL_PAGE_SIZES_FAILED"
	KindNoToken            = "NO_TOKEN"
	KindStoreError         = "STORE_ERROR"
	KindValidationError    = "VALIDATION_ERROR"
	KindTransportError     = "TRANSPORT_ERROR"
)

// HTTPKind builds the kind for an unexpected upstream status code.
func HTTPKind(status int) string {
	return fmt.Sprintf("HTTP_%d", status)
}

// Error is a classified failure from the scraping pipeline.
type Error struct {
	Kind    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error.
func NewError(kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates a classified error wrapping a cause.
func WrapError(kind string, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the kind from an error chain, or "" if unclassified.
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind string) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the failure should go back to the broker for
// another delivery. Validation failures are the only non-retryable class;
// unclassified errors are retried as transient.
func Retryable(err error) bool {
	return KindOf(err) != KindValidationError
}
