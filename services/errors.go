package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeBackend       ErrorType = "backend"
	ErrorTypeCancelled     ErrorType = "cancelled"
	ErrorTypeInternal      ErrorType = "internal"
)

// Error codes. A code narrows a type; errors.Is matches on both.
const (
	CodeDanglingEndpoint     = "dangling_endpoint"
	CodeMissingDefault       = "missing_default"
	CodeUnknownTarget        = "unknown_target"
	CodeDuplicateAlias       = "duplicate_alias"
	CodeInvalidRule          = "invalid_rule"
	CodeInvalidConfig        = "invalid_config"
	CodeUnknownAlias         = "unknown_alias"
	CodeInvalidRequest       = "invalid_request"
	CodeStreamingUnsupported = "streaming_unsupported"
	CodeMissingToken         = "missing_token"
	CodeInvalidToken         = "invalid_token"
	CodeBackendUnavailable   = "backend_unavailable"
	CodeBackendProtocol      = "backend_protocol"
	CodeRequestCancelled     = "request_cancelled"
	CodeInternal             = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Code    string
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is. A target without a code matches any error of its type.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if e.Type != t.Type {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Wrap returns a copy of e carrying cause and its own details map, leaving e untouched.
// Use it to raise one of the package-level sentinels.
func (e *DomainError) Wrap(cause error) *DomainError {
	return &DomainError{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Err:     cause,
		Details: make(map[string]interface{}),
	}
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, code, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables. Never mutate these; raise them with Wrap.

var (
	// Configuration errors, fatal at load
	ErrDanglingEndpoint = NewDomainError(ErrorTypeConfiguration, CodeDanglingEndpoint, "inventory entry references an unknown endpoint", nil)
	ErrMissingDefault   = NewDomainError(ErrorTypeConfiguration, CodeMissingDefault, "routing policy has no default target", nil)
	ErrUnknownTarget    = NewDomainError(ErrorTypeConfiguration, CodeUnknownTarget, "routing target is not in the inventory", nil)
	ErrDuplicateAlias   = NewDomainError(ErrorTypeConfiguration, CodeDuplicateAlias, "alias is declared more than once", nil)
	ErrInvalidRule      = NewDomainError(ErrorTypeConfiguration, CodeInvalidRule, "invalid routing rule", nil)
	ErrInvalidConfig    = NewDomainError(ErrorTypeConfiguration, CodeInvalidConfig, "invalid routing configuration", nil)

	// Client errors
	ErrUnknownAlias         = NewDomainError(ErrorTypeValidation, CodeUnknownAlias, "unknown model alias", nil)
	ErrInvalidRequest       = NewDomainError(ErrorTypeValidation, CodeInvalidRequest, "invalid request", nil)
	ErrStreamingUnsupported = NewDomainError(ErrorTypeValidation, CodeStreamingUnsupported, "streaming responses are not supported", nil)

	// Authorization errors
	ErrMissingToken = NewDomainError(ErrorTypeUnauthorized, CodeMissingToken, "missing bearer token", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, CodeInvalidToken, "invalid bearer token", nil)

	// Backend errors
	ErrBackendUnavailable = NewDomainError(ErrorTypeBackend, CodeBackendUnavailable, "backend unavailable", nil)
	ErrBackendProtocol    = NewDomainError(ErrorTypeBackend, CodeBackendProtocol, "backend returned an unusable response", nil)

	// Cancellation
	ErrRequestCancelled = NewDomainError(ErrorTypeCancelled, CodeRequestCancelled, "request cancelled by client", nil)

	// Internal errors
	ErrInternal = NewDomainError(ErrorTypeInternal, CodeInternal, "internal server error", nil)
)

// Error type checking helper functions

func hasType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	return hasType(err, ErrorTypeConfiguration)
}

// IsValidationError checks if an error is a client (validation) error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return hasType(err, ErrorTypeUnauthorized)
}

// IsBackendError checks if an error came from an inference backend
func IsBackendError(err error) bool {
	return hasType(err, ErrorTypeBackend)
}

// IsCancelledError checks if an error is a client cancellation
func IsCancelledError(err error) bool {
	return hasType(err, ErrorTypeCancelled)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorCode returns the code of a domain error, or empty string if not a domain error
func GetErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetErrorMessage returns the message of a domain error without its cause.
func GetErrorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, CodeInternal, message, err)
}
