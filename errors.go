package sheetwise

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeProvider         = "PROVIDER_ERROR"
	ErrCodeProviderOutput   = "PROVIDER_OUTPUT_ERROR"
	ErrCodeAllSourcesFailed = "ALL_SOURCES_FAILED"
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeCancelled        = "EXECUTION_CANCELLED"
	ErrCodeTimeout          = "EXECUTION_TIMEOUT"
	ErrCodeCache            = "CACHE_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInProgress       = "IN_PROGRESS"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// Error is the error type returned across package boundaries.
type Error struct {
	Code    string // A machine-readable error code (e.g., ErrCodeAllSourcesFailed)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "resolve", "adapter")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, stage, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// Specific error constructors

func NewValidationError(stage, message string, cause error) *Error {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewProviderError(provider string, cause error) *Error {
	return NewError(ErrCodeProvider, "adapter", fmt.Sprintf("provider '%s' call failed", provider), cause)
}

func NewProviderOutputError(provider string, cause error) *Error {
	return NewError(ErrCodeProviderOutput, "adapter", fmt.Sprintf("provider '%s' returned unusable output", provider), cause)
}

// NewAllSourcesFailedError is the one fatal outcome of a resolution. causes
// holds the per-source failures in configuration order.
func NewAllSourcesFailedError(causes ...error) *Error {
	return NewError(ErrCodeAllSourcesFailed, "resolve", "all sources failed to respond", errors.Join(causes...))
}

func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *Error {
	msg := "interpretation cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" {
		msg = fmt.Sprintf("interpretation cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewTimeoutError(stage string, cause error) *Error {
	return NewError(ErrCodeTimeout, stage, "interpretation timed out", cause)
}

func NewCacheError(operation string, cause error) *Error {
	return NewError(ErrCodeCache, "cache", fmt.Sprintf("cache operation '%s' failed", operation), cause)
}

func NewNotFoundError(stage, what string) *Error {
	return NewError(ErrCodeNotFound, stage, fmt.Sprintf("%s not found", what), nil)
}

func NewInProgressError(stage string, state ProcessState) *Error {
	return NewError(ErrCodeInProgress, stage, fmt.Sprintf("interpretation is still in progress (current state: %s)", state), nil)
}

func NewInternalError(stage, message string, cause error) *Error {
	return NewError(ErrCodeInternal, stage, message, cause)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsAllSourcesFailed reports whether err is the resolver's fatal outcome.
func IsAllSourcesFailed(err error) bool {
	return CodeOf(err) == ErrCodeAllSourcesFailed
}

// IsNotFound reports whether err carries ErrCodeNotFound.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsInProgress reports whether err carries ErrCodeInProgress.
func IsInProgress(err error) bool {
	return CodeOf(err) == ErrCodeInProgress
}

// IsValidation reports whether err carries ErrCodeValidation.
func IsValidation(err error) bool {
	return CodeOf(err) == ErrCodeValidation
}
