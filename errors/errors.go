package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// AppError is the structured error type raised by flowkit itself.
type AppError struct {
	// Code is the machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable description.
	Message string `json:"message"`
	// Retryable reports whether retrying the operation may succeed.
	Retryable bool `json:"retryable"`
	// Details carries structured context (operation, attempts, timeout...).
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error, reachable through Unwrap.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error { return e.Cause }

// Is matches another AppError by code, so sentinel-style comparisons work:
//
//	errors.Is(err, &AppError{Code: ErrCodeTimeoutExceeded})
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithCause sets the underlying cause.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges details into the error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail entry.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// Configuration creates an error for an invalid definition detected at construction.
func Configuration(reason string) *AppError {
	return &AppError{
		Code: ErrCodeConfiguration, Message: reason,
		Retryable: false,
	}
}

// Configurationf is Configuration with formatting.
func Configurationf(format string, args ...any) *AppError {
	return Configuration(fmt.Sprintf(format, args...))
}

// TimeoutExceeded creates an error for an operation abandoned at its deadline.
func TimeoutExceeded(operation string, timeout time.Duration) *AppError {
	return &AppError{
		Code: ErrCodeTimeoutExceeded, Message: fmt.Sprintf("%s did not complete within %s", operation, timeout),
		Retryable: true,
		Details:   map[string]any{"operation": operation, "timeout_ms": timeout.Milliseconds()},
		Cause:     ErrDeadline,
	}
}

// RetriesExhausted creates an error for an operation whose every attempt failed.
// The last attempt's error is carried as the cause.
func RetriesExhausted(operation string, attempts int, cause error) *AppError {
	return &AppError{
		Code: ErrCodeRetriesExhausted, Message: fmt.Sprintf("%s failed after %d attempts", operation, attempts),
		Retryable: false,
		Details:   map[string]any{"operation": operation, "attempts": attempts},
		Cause:     cause,
	}
}

// ParallelFailed creates an error for a collect-all fan-out with failed branches.
func ParallelFailed(failed, total int, cause error) *AppError {
	return &AppError{
		Code: ErrCodeParallelFailed, Message: fmt.Sprintf("%d of %d branches failed", failed, total),
		Retryable: false,
		Details:   map[string]any{"failed": failed, "total": total},
		Cause:     cause,
	}
}

// CircuitOpen creates an error for a call rejected by an open circuit breaker.
func CircuitOpen(name string) *AppError {
	return &AppError{
		Code: ErrCodeCircuitOpen, Message: fmt.Sprintf("circuit %q is open", name),
		Retryable: true,
		Details:   map[string]any{"breaker": name},
	}
}

// RateLimited creates an error for a call rejected by a rate limiter.
func RateLimited(name string) *AppError {
	return &AppError{
		Code: ErrCodeRateLimited, Message: fmt.Sprintf("rate limit exceeded for %q", name),
		Retryable: true,
		Details:   map[string]any{"limiter": name},
	}
}

// ServiceUnavailable creates an error for a call rejected by a concurrency limit.
func ServiceUnavailable(name, reason string) *AppError {
	return &AppError{
		Code: ErrCodeServiceUnavailable, Message: fmt.Sprintf("%s is unavailable: %s", name, reason),
		Retryable: true,
		Details:   map[string]any{"name": name},
	}
}

// StoreError creates an error for a failing backing store or sink.
func StoreError(store string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeStore, Message: fmt.Sprintf("%s store operation failed", store),
		Retryable: true,
		Details:   map[string]any{"store": store},
		Cause:     cause,
	}
}

// Internal creates an error for an unexpected failure.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "an unexpected error occurred",
		Retryable: false, Cause: cause,
	}
}

// ErrDeadline is the cause attached to TimeoutExceeded errors.
var ErrDeadline = stderrors.New("deadline exceeded")

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err (or anything it wraps) is an AppError with code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				if HasCode(e, code) {
					return true
				}
			}
			return false
		}
		err = stderrors.Unwrap(err)
	}
	return false
}
