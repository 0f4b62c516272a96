package cloud

import (
	"errors"
	"fmt"
)

// Class is the failure classification applied to every non-success call.
// The failure coordinator maps classes to retry policy; see the resilience
// package.
type Class string

// Class constants.
const (
	// ClassTransient covers network errors, 5xx responses, and calls cut off
	// by a deadline. Eligible for backoff retry.
	ClassTransient Class = "transient"

	// ClassPermanent covers 4xx responses other than auth and rate limiting.
	// Never retried.
	ClassPermanent Class = "permanent"

	// ClassAuth means credential refresh failed, or the refreshed token was
	// rejected again. Escalated to the host; callers must not retry with the
	// same token.
	ClassAuth Class = "auth"
)

// Sentinel errors for the cloud package.
var (
	// ErrNetwork wraps transport-level failures (DNS, TCP, TLS, read errors).
	ErrNetwork = errors.New("cloud: network error")

	// ErrAuth is returned when credential refresh fails or a refreshed token
	// is still rejected.
	ErrAuth = errors.New("cloud: authentication failed")
)

// APIError is a classified cloud API failure.
type APIError struct {
	Class      Class
	StatusCode int
	Err        error
}

// Error implements error.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("cloud: %s (status %d): %v", e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("cloud: %s: %v", e.Class, e.Err)
}

// Unwrap supports errors.Is/As through the wrapped cause.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Classify returns the failure class of an error. Unknown errors are treated
// as transient so they enter the backoff path rather than being dropped.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	if errors.Is(err, ErrAuth) {
		return ClassAuth
	}
	return ClassTransient
}

// transientErr wraps err as a transient APIError.
func transientErr(status int, err error) *APIError {
	return &APIError{Class: ClassTransient, StatusCode: status, Err: err}
}

// permanentErr wraps err as a permanent APIError.
func permanentErr(status int, err error) *APIError {
	return &APIError{Class: ClassPermanent, StatusCode: status, Err: err}
}

// authErr wraps err as an auth APIError.
func authErr(status int, err error) *APIError {
	return &APIError{Class: ClassAuth, StatusCode: status, Err: err}
}
