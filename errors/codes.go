package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Admission errors
const (
	// ErrCodeUnauthorized indicates a bound stream request without a valid identity claim.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeForbidden indicates the identity does not own the requested resource.
	ErrCodeForbidden ErrorCode = "FORBIDDEN"
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeCapacityExceeded indicates the connection registry is at its ceiling.
	ErrCodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
)

// Streaming errors (never surfaced to clients as HTTP statuses; in-stream
// failures terminate the stream and are visible only through logs/metrics)
const (
	// ErrCodeSlowConsumer indicates a connection exceeded the backpressure grace period.
	ErrCodeSlowConsumer ErrorCode = "SLOW_CONSUMER"
	// ErrCodePartitionFetch indicates a transient backing-store read failure in a poll cycle.
	ErrCodePartitionFetch ErrorCode = "PARTITION_FETCH_FAILURE"
	// ErrCodeWriteFailure indicates the outbound transport write failed or timed out.
	ErrCodeWriteFailure ErrorCode = "TRANSPORT_WRITE_FAILURE"
)

// Validation / internal errors
const (
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrCodeDatabaseError indicates a database error.
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeCapacityExceeded: true,
	ErrCodePartitionFetch:   true,
	ErrCodeDatabaseError:    true,
	ErrCodeWriteFailure:     false,
	ErrCodeSlowConsumer:     false,
	ErrCodeInternal:         false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
