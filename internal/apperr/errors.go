// Package apperr defines the classified error taxonomy shared by the HTTP
// and realtime surfaces. The machine-readable Code is the contract; message
// text is informational only.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class on the wire.
type Code string

const (
	CodeBadRequest        Code = "BAD_REQUEST"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeTraceNotFound     Code = "TRACE_NOT_FOUND"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeInsightSampledOut Code = "INSIGHT_SAMPLED_OUT"
	CodeAITimeout         Code = "AI_TIMEOUT"
	CodeAIUnavailable     Code = "AI_UNAVAILABLE"
	CodeAIInvalidResponse Code = "AI_INVALID_RESPONSE"
	CodeAIDisabled        Code = "AI_DISABLED"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// Error is a classified application error.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a classified error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a classified error around a cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the classification of err, defaulting to INTERNAL_ERROR.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// MessageOf returns the client-safe message for err. Unclassified errors get
// a generic message so internal detail never leaks.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

// HTTPStatus maps a code to its HTTP response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeTraceNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeInsightSampledOut, CodeAITimeout, CodeAIUnavailable, CodeAIInvalidResponse, CodeAIDisabled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
