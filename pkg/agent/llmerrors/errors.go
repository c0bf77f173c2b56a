// Package llmerrors classifies failures of hosted model calls so that middleware
// can decide what to retry and callers can tell an outage from a bad request.
package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorType is the category of a model-call failure.
type ErrorType int8

const (
	// ErrorTypeRateLimit is a throttling or quota failure (429, RESOURCE_EXHAUSTED).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient is a 5xx, reset connection, EOF or deadline.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse is a successful call that produced neither text nor tool calls.
	ErrorTypeEmptyResponse

	// ErrorTypeAuth is a 401/403 or missing credentials.
	ErrorTypeAuth
	// ErrorTypeBadPrompt is a request the provider rejected (400, policy, context too long).
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is anything unclassified.
	ErrorTypeUnknown

	// ErrorTypeServiceUnavailable is emitted by the retry middleware once attempts are exhausted.
	ErrorTypeServiceUnavailable
)

// String returns the label used in logs and metrics.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeServiceUnavailable:
		return "service_unavailable"
	default:
		return "invalid"
	}
}

// Error is a classified model-call failure.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("LLM error (%s): %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %v", e.Type, e.Err)
	}
	return fmt.Sprintf("LLM error (%s): status %d", e.Type, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the retry middleware may try again.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeServiceUnavailable:
		return false
	default:
		return true
	}
}

// Is reports whether err carries a classified error of the given type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the classification of err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message}
}

func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// NewServiceUnavailableError marks a retryable failure that outlived every attempt.
func NewServiceUnavailableError(cause error, attempts int) *Error {
	return &Error{
		Type:    ErrorTypeServiceUnavailable,
		Err:     cause,
		Message: fmt.Sprintf("service unavailable after %d attempts", attempts),
	}
}

// ClassifyStatus maps an HTTP status code to an error type.
func ClassifyStatus(status int) ErrorType {
	switch {
	case status == 429:
		return ErrorTypeRateLimit
	case status == 401 || status == 403:
		return ErrorTypeAuth
	case status == 400 || status == 404 || status == 413 || status == 422:
		return ErrorTypeBadPrompt
	case status >= 500:
		return ErrorTypeTransient
	default:
		return ErrorTypeUnknown
	}
}

// Classify wraps an arbitrary provider error. Already-classified errors are returned as is.
// Provider clients that know the status code should prefer ClassifyStatus.
func Classify(err error, status int) error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return err
	}
	if status > 0 {
		return &Error{Type: ClassifyStatus(status), StatusCode: status, Err: err, Message: err.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(ErrorTypeTransient, err, "request deadline exceeded")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewErrorWithCause(ErrorTypeTransient, err, err.Error())
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "quota"),
		strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "too many requests"):
		return NewErrorWithCause(ErrorTypeRateLimit, err, err.Error())
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "permission_denied"),
		strings.Contains(msg, "api key"), strings.Contains(msg, "unauthenticated"):
		return NewErrorWithCause(ErrorTypeAuth, err, err.Error())
	case strings.Contains(msg, "invalid_argument"), strings.Contains(msg, "context length"),
		strings.Contains(msg, "too long"):
		return NewErrorWithCause(ErrorTypeBadPrompt, err, err.Error())
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "eof"), strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "timeout"):
		return NewErrorWithCause(ErrorTypeTransient, err, err.Error())
	default:
		return NewErrorWithCause(ErrorTypeUnknown, err, err.Error())
	}
}
