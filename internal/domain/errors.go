// Package domain provides the canonical request/response types and error
// taxonomy shared by the whole pipeline.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidInput indicates a malformed or incomplete request body.
	ErrorTypeInvalidInput ErrorType = "invalid_input"

	// ErrorTypeInvalidProvider indicates an unknown provider id.
	ErrorTypeInvalidProvider ErrorType = "invalid_provider"

	// ErrorTypeMissingCredential indicates no API key could be resolved for
	// the chosen provider.
	ErrorTypeMissingCredential ErrorType = "missing_credential"

	// ErrorTypeUpstream indicates the LLM provider or GitHub API failed.
	ErrorTypeUpstream ErrorType = "upstream_error"

	// ErrorTypeServer indicates an internal failure.
	ErrorTypeServer ErrorType = "server_error"
)

// APIError is the canonical error surfaced by the orchestrator and handlers.
type APIError struct {
	// Type is the category of error.
	Type ErrorType `json:"type"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// StatusCode is the suggested HTTP status code.
	StatusCode int `json:"-"`

	// UpstreamStatus is the status code the upstream service returned, when
	// the error originated from an external call.
	UpstreamStatus int `json:"-"`

	// UpstreamBody is the raw upstream error text, kept for diagnosis.
	UpstreamBody string `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidInput, ErrorTypeInvalidProvider, ErrorTypeMissingCredential:
		return http.StatusBadRequest
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrInvalidInput creates an invalid input error.
func ErrInvalidInput(message string) *APIError {
	return &APIError{Type: ErrorTypeInvalidInput, Message: message}
}

// ErrInvalidProvider creates an unknown-provider error.
func ErrInvalidProvider(id string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidProvider,
		Message: fmt.Sprintf("unknown provider %q", id),
	}
}

// ErrMissingCredential creates a missing-credential error naming the provider
// and the environment variable a caller can set to fix it.
func ErrMissingCredential(provider, envVar string) *APIError {
	return &APIError{
		Type:    ErrorTypeMissingCredential,
		Message: fmt.Sprintf("no API key for provider %q: pass apiKey or set %s", provider, envVar),
	}
}

// ErrUpstream creates an upstream failure error.
func ErrUpstream(message string) *APIError {
	return &APIError{Type: ErrorTypeUpstream, Message: message}
}

// WithUpstream attaches the upstream status and raw body for diagnosis.
func (e *APIError) WithUpstream(status int, body string) *APIError {
	e.UpstreamStatus = status
	e.UpstreamBody = body
	return e
}

// Classify converts an arbitrary error into an APIError. Errors already of
// type *APIError pass through; everything else becomes an upstream error,
// since by this point local validation has completed.
func Classify(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrUpstream(err.Error())
}
