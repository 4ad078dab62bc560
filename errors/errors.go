// Package errors provides unified error handling for tickstream.
// It implements structured error types with machine-readable codes,
// HTTP status mapping, and retryable detection.
package errors

import (
	"fmt"
	"net/http"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// --- Admission error constructors ---

// Unauthorized creates a new AppError for a bound request lacking a valid identity claim.
func Unauthorized(reason string) *AppError {
	if reason == "" {
		reason = "Authentication required."
	}
	return &AppError{
		Code: ErrCodeUnauthorized, Message: reason,
		HTTPStatus: http.StatusUnauthorized, Retryable: false,
	}
}

// Forbidden creates a new AppError for an identity that does not own the target resource.
func Forbidden(reason string) *AppError {
	if reason == "" {
		reason = "You don't have permission to access this resource."
	}
	return &AppError{
		Code: ErrCodeForbidden, Message: reason,
		HTTPStatus: http.StatusForbidden, Retryable: false,
	}
}

// NotFound creates a new AppError for a resource that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("The requested %s was not found.", resource),
		HTTPStatus: http.StatusNotFound, Retryable: false, Details: details,
	}
}

// CapacityExceeded creates a new AppError for a full connection registry.
// retryAfterSec is surfaced as a Retry-After hint by the HTTP layer.
func CapacityExceeded(retryAfterSec int) *AppError {
	return &AppError{
		Code: ErrCodeCapacityExceeded, Message: "Connection capacity exceeded. Please retry later.",
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"retry_after_sec": retryAfterSec},
	}
}

// --- Streaming error constructors ---

// SlowConsumer creates a new AppError for a connection evicted under backpressure.
func SlowConsumer(connectionID string) *AppError {
	return &AppError{
		Code: ErrCodeSlowConsumer, Message: "Connection evicted: outbound buffer saturated beyond grace period.",
		HTTPStatus: http.StatusServiceUnavailable, Retryable: false,
		Details: map[string]any{"connection_id": connectionID},
	}
}

// PartitionFetch creates a new AppError for a failed partition fetch during a poll cycle.
func PartitionFetch(partition string, cause error) *AppError {
	return &AppError{
		Code: ErrCodePartitionFetch, Message: fmt.Sprintf("Failed to fetch partition %s.", partition),
		HTTPStatus: http.StatusInternalServerError, Retryable: true,
		Details: map[string]any{"partition": partition}, Cause: cause,
	}
}

// WriteFailure creates a new AppError for a failed or timed-out transport write.
func WriteFailure(connectionID string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeWriteFailure, Message: "Outbound write failed.",
		HTTPStatus: http.StatusInternalServerError, Retryable: false,
		Details: map[string]any{"connection_id": connectionID}, Cause: cause,
	}
}

// --- General constructors ---

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false, Details: details,
	}
}

// Internal creates a new AppError for an internal server error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}

// DatabaseError creates a new AppError for a database error.
func DatabaseError(cause error) *AppError {
	return &AppError{
		Code: ErrCodeDatabaseError, Message: "A database error occurred.",
		HTTPStatus: http.StatusInternalServerError, Retryable: true, Cause: cause,
	}
}
