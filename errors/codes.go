package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Construction errors
const (
	// ErrCodeConfiguration indicates an invalid primitive, route, strategy or pipeline definition.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Execution errors raised by resilience primitives
const (
	// ErrCodeTimeoutExceeded indicates a deadline (plus grace) passed with no fallback.
	ErrCodeTimeoutExceeded ErrorCode = "TIMEOUT_EXCEEDED"
	// ErrCodeRetriesExhausted indicates every retry attempt failed.
	ErrCodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
	// ErrCodeParallelFailed indicates one or more fan-out branches failed in collect-all mode.
	ErrCodeParallelFailed ErrorCode = "PARALLEL_FAILED"
	// ErrCodeCircuitOpen indicates a circuit breaker rejected the call.
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
	// ErrCodeRateLimited indicates a rate limiter rejected the call.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrCodeServiceUnavailable indicates a concurrency limit rejected the call.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Infrastructure errors
const (
	// ErrCodeStore indicates a backing store or strategy sink failed.
	ErrCodeStore ErrorCode = "STORE_ERROR"
	// ErrCodeInternal indicates an unexpected internal failure.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeTimeoutExceeded:    true,
	ErrCodeCircuitOpen:        true,
	ErrCodeRateLimited:        true,
	ErrCodeServiceUnavailable: true,
	ErrCodeStore:              true,
	ErrCodeRetriesExhausted:   false,
	ErrCodeConfiguration:      false,
	ErrCodeInternal:           false,
}

// IsRetryableCode returns true if the error code indicates a transient condition.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
