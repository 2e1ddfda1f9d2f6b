package source

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes a failed provider call.
type ErrorKind string

const (
	// KindNetwork indicates a network-level error (connection refused, DNS, etc.)
	KindNetwork ErrorKind = "network"
	// KindRateLimit indicates the upstream throttled the request (HTTP 429)
	KindRateLimit ErrorKind = "rate_limit"
	// KindServer indicates an upstream server error (HTTP 5xx)
	KindServer ErrorKind = "server"
	// KindClient indicates a client error (HTTP 4xx except 429)
	KindClient ErrorKind = "client"
	// KindMalformed indicates the upstream answered with an unexpected shape
	// (a known anomaly worth one retry via the fallback request shape)
	KindMalformed ErrorKind = "malformed"
	// KindValidation indicates the request itself was invalid for the provider
	KindValidation ErrorKind = "validation"
	// KindTimeout indicates the request timed out
	KindTimeout ErrorKind = "timeout"
	// KindUnknown indicates an error of unknown type
	KindUnknown ErrorKind = "unknown"
)

// FetchError is a structured, classified provider failure. Retryable drives
// the executor's retry policy; the executor never inspects raw causes.
type FetchError struct {
	Kind       ErrorKind
	Retryable  bool
	StatusCode int
	Message    string
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// NewNetworkError creates a retryable network error.
func NewNetworkError(cause error) *FetchError {
	return &FetchError{Kind: KindNetwork, Retryable: true, Message: "network request failed", Cause: cause}
}

// NewThrottleError creates a rate-limit error.
func NewThrottleError(statusCode int) *FetchError {
	return &FetchError{Kind: KindRateLimit, Retryable: true, StatusCode: statusCode, Message: "rate limit exceeded"}
}

// NewServerError creates a retryable server error.
func NewServerError(statusCode int) *FetchError {
	return &FetchError{Kind: KindServer, Retryable: true, StatusCode: statusCode, Message: "server returned an error"}
}

// NewClientError creates a terminal client error.
func NewClientError(statusCode int, message string) *FetchError {
	return &FetchError{Kind: KindClient, Retryable: false, StatusCode: statusCode, Message: message}
}

// NewMalformedError marks a response whose shape the decoder could not use.
func NewMalformedError(message string) *FetchError {
	return &FetchError{Kind: KindMalformed, Retryable: true, Message: message}
}

// NewValidationError creates a terminal request-validation error.
func NewValidationError(message string) *FetchError {
	return &FetchError{Kind: KindValidation, Retryable: false, Message: message}
}

// NewTimeoutError creates a retryable timeout error.
func NewTimeoutError(cause error) *FetchError {
	return &FetchError{Kind: KindTimeout, Retryable: true, Message: "request timed out", Cause: cause}
}

// ClassifyHTTPStatus maps an HTTP status code onto the taxonomy.
func ClassifyHTTPStatus(statusCode int) *FetchError {
	switch {
	case statusCode == 429:
		return NewThrottleError(statusCode)
	case statusCode >= 500:
		return NewServerError(statusCode)
	case statusCode >= 400:
		return NewClientError(statusCode, fmt.Sprintf("client error: HTTP %d", statusCode))
	default:
		return &FetchError{
			Kind:       KindUnknown,
			Retryable:  false,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("unexpected status code: %d", statusCode),
		}
	}
}

// IsRetryable reports whether err is a transient FetchError.
func IsRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Retryable
}

// IsThrottle reports whether err is a rate-limit FetchError.
func IsThrottle(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindRateLimit
}
