package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeAuthentication indicates bad credentials or a repeated 401
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeTransport indicates the backend could not be reached (timeout, DNS, refused)
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeAPI indicates a non-2xx response from a reachable backend
	ErrorTypeAPI ErrorType = "api"
	// ErrorTypeMalformed indicates a response body with an unexpected shape
	ErrorTypeMalformed ErrorType = "malformed_response"
	// ErrorTypeValidation indicates invalid caller input
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound indicates a missing resource
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeInternal indicates an internal error
	ErrorTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}

	// Populated for ErrorTypeAPI
	StatusCode int
	StatusText string
	Body       string
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Type, e.Message)
	if e.Type == ErrorTypeAPI && e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d %s)", msg, e.StatusCode, e.StatusText)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of the same type
func (e *AppError) Is(target error) bool {
	var appErr *AppError
	if errors.As(target, &appErr) {
		return e.Type == appErr.Type
	}
	return false
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeAuthentication,
		Message: message,
		Cause:   cause,
	}
}

// NewTransportError creates a new transport error
func NewTransportError(message string, cause error, details map[string]interface{}) *AppError {
	return &AppError{
		Type:    ErrorTypeTransport,
		Message: message,
		Cause:   cause,
		Details: details,
	}
}

// NewAPIError creates a new API error from a non-2xx response
func NewAPIError(statusCode int, statusText, body string, details map[string]interface{}) *AppError {
	return &AppError{
		Type:       ErrorTypeAPI,
		Message:    "request rejected by backend",
		Details:    details,
		StatusCode: statusCode,
		StatusText: statusText,
		Body:       body,
	}
}

// NewMalformedResponseError creates a new malformed response error
func NewMalformedResponseError(message string, cause error, details map[string]interface{}) *AppError {
	return &AppError{
		Type:    ErrorTypeMalformed,
		Message: message,
		Cause:   cause,
		Details: details,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, details map[string]interface{}) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: details,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, details map[string]interface{}) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
		Details: details,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Cause:   cause,
	}
}

func hasType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// IsAuthenticationError checks if the error is an authentication error
func IsAuthenticationError(err error) bool {
	return hasType(err, ErrorTypeAuthentication)
}

// IsTransportError checks if the error is a transport error
func IsTransportError(err error) bool {
	return hasType(err, ErrorTypeTransport)
}

// IsAPIError checks if the error is an API error
func IsAPIError(err error) bool {
	return hasType(err, ErrorTypeAPI)
}

// IsMalformedResponseError checks if the error is a malformed response error
func IsMalformedResponseError(err error) bool {
	return hasType(err, ErrorTypeMalformed)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// StatusCode returns the backend status code carried by an API error, or 0
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}

// GetErrorDetails extracts details from an AppError
func GetErrorDetails(err error) map[string]interface{} {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Details
	}
	return nil
}
