// Package rerr defines the error taxonomy the dispatcher and HTTP surface
// switch on. Every user-visible failure carries enough to
// render Anthropic's {type: error, error: {type, message}} envelope.
package rerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the first-class error kinds enumerates.
type Kind int

const (
	InvalidRequest Kind = iota
	NoRouteConfigured
	UnknownModel
	NoProvidersForModel
	ProviderNotAvailable
	ProviderTransient
	ProviderRejected
	AllProvidersFailed
	ProtocolError
)

// Error is a typed error carrying a Kind, the Anthropic error `type` string,
// the HTTP status to answer with, and the wrapped cause.
type Error struct {
	Kind       Kind
	Status     int
	AnthType   string // Anthropic error envelope "type" field
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the dispatcher should advance to the next
// fallback mapping on this error
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ProviderTransient, ProviderNotAvailable:
		return true
	default:
		return false
	}
}

func New(kind Kind, status int, anthType, message string, cause error) *Error {
	return &Error{Kind: kind, Status: status, AnthType: anthType, Message: message, Cause: cause}
}

func Invalid(message string, cause error) *Error {
	return New(InvalidRequest, http.StatusBadRequest, "invalid_request_error", message, cause)
}

func NoRoute(message string) *Error {
	return New(NoRouteConfigured, http.StatusBadRequest, "invalid_request_error", message, nil)
}

func Unknown(message string) *Error {
	return New(UnknownModel, http.StatusNotFound, "not_found_error", message, nil)
}

func NoProviders(message string) *Error {
	return New(NoProvidersForModel, http.StatusNotFound, "not_found_error", message, nil)
}

func NotAvailable(provider string, cause error) *Error {
	return New(ProviderNotAvailable, http.StatusBadGateway, "api_error",
		fmt.Sprintf("provider %q is not available", provider), cause)
}

func Transient(provider string, cause error) *Error {
	return New(ProviderTransient, http.StatusBadGateway, "api_error",
		fmt.Sprintf("provider %q returned a transient error", provider), cause)
}

// Rejected wraps a non-retryable 4xx from an upstream, preserving its status
// category mapped onto Anthropic's error types.
func Rejected(upstreamStatus int, anthType, message string, cause error) *Error {
	return New(ProviderRejected, upstreamStatus, anthType, message, cause)
}

func AllFailed(attempts string) *Error {
	return New(AllProvidersFailed, http.StatusBadGateway, "api_error",
		fmt.Sprintf("all providers failed: %s", attempts), nil)
}

func Protocol(message string, cause error) *Error {
	return New(ProtocolError, http.StatusBadGateway, "api_error", message, cause)
}

// AnthropicTypeForStatus maps an upstream HTTP status code to an Anthropic
// error envelope `type`
func AnthropicTypeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusBadRequest:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

// As is a thin re-export of errors.As for callers that only import rerr.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}
