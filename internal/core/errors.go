// Package core provides the request/response types and the error taxonomy
// shared by the OpenAI provider and the promptkit client.
package core

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeProvider indicates an upstream provider error (5xx)
	ErrorTypeProvider ErrorType = "provider_error"
	// ErrorTypeRateLimit indicates a rate limit error (429)
	ErrorTypeRateLimit ErrorType = "rate_limit_error"
	// ErrorTypeInvalidRequest indicates a client error (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates an authentication error (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeNotFound indicates a not found error (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
	// ErrorTypeTimeout indicates the request deadline expired
	ErrorTypeTimeout ErrorType = "timeout_error"
)

// APIError is the error type returned for every failed upstream call
type APIError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Provider   string    `json:"provider,omitempty"`
	// Code is the provider's machine-readable error code, if any
	Code string `json:"code,omitempty"`
	// Original error for debugging
	Err error `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *APIError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the HTTP status code associated with this error
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeProvider:
		return http.StatusBadGateway
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the same request may succeed if sent again
func (e *APIError) Retryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout, ErrorTypeProvider:
		return true
	default:
		return false
	}
}

// NewProviderError creates a new provider error (upstream 5xx)
func NewProviderError(provider string, statusCode int, message string, err error) *APIError {
	return &APIError{
		Type:       ErrorTypeProvider,
		Message:    message,
		StatusCode: statusCode,
		Provider:   provider,
		Err:        err,
	}
}

// NewCircuitOpenError is returned without contacting the provider while its
// circuit breaker is open
func NewCircuitOpenError(provider string) *APIError {
	return NewProviderError(provider, http.StatusServiceUnavailable,
		"circuit breaker is open - provider temporarily unavailable", nil)
}

// NewRateLimitError creates a new rate limit error (429)
func NewRateLimitError(provider string, message string) *APIError {
	return &APIError{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
		Provider:   provider,
	}
}

// NewInvalidRequestErrorWithStatus creates a new invalid request error with a specific status code
func NewInvalidRequestErrorWithStatus(statusCode int, message string, err error) *APIError {
	return &APIError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *APIError {
	return NewInvalidRequestErrorWithStatus(http.StatusBadRequest, message, err)
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(provider string, message string) *APIError {
	return &APIError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Provider:   provider,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewTimeoutError wraps a deadline expiry
func NewTimeoutError(provider string, err error) *APIError {
	return &APIError{
		Type:       ErrorTypeTimeout,
		Message:    "request timed out",
		StatusCode: http.StatusGatewayTimeout,
		Provider:   provider,
		Err:        err,
	}
}

// ParseProviderError parses an error response from a provider and returns an appropriate APIError
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *APIError {
	message := string(body)
	if m := gjson.GetBytes(body, "error.message"); m.Exists() && m.String() != "" {
		message = m.String()
	}
	code := gjson.GetBytes(body, "error.code").String()

	var apiErr *APIError
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		apiErr = NewAuthenticationError(provider, message)
	case statusCode == http.StatusTooManyRequests:
		apiErr = NewRateLimitError(provider, message)
	case statusCode >= 400 && statusCode < 500:
		// Keep the upstream status so callers can tell 400 from 422 etc.
		apiErr = NewInvalidRequestErrorWithStatus(statusCode, message, originalErr)
		apiErr.Provider = provider
	case statusCode >= 500:
		apiErr = NewProviderError(provider, statusCode, message, originalErr)
	default:
		apiErr = NewProviderError(provider, http.StatusBadGateway, message, originalErr)
	}
	apiErr.Code = code
	return apiErr
}
