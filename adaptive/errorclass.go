package adaptive

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	apperrors "github.com/kbukum/flowkit/errors"
)

// ErrorClass is a coarse error-type hint used in retry context keys.
type ErrorClass string

const (
	ErrorClassNone       ErrorClass = "none"
	ErrorClassTimeout    ErrorClass = "timeout"
	ErrorClassConnection ErrorClass = "connection"
	ErrorClassHTTP       ErrorClass = "http"
	ErrorClassRateLimit  ErrorClass = "rate_limit"
	ErrorClassOther      ErrorClass = "other"
)

// statusCoder is implemented by HTTP client errors that expose a status.
type statusCoder interface {
	StatusCode() int
}

// ClassifyError maps err onto an ErrorClass.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassNone
	}
	if errors.Is(err, context.DeadlineExceeded) || apperrors.HasCode(err, apperrors.ErrCodeTimeoutExceeded) {
		return ErrorClassTimeout
	}
	if apperrors.HasCode(err, apperrors.ErrCodeRateLimited) {
		return ErrorClassRateLimit
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return ErrorClassConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorClassConnection
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		if sc.StatusCode() == 429 {
			return ErrorClassRateLimit
		}
		return ErrorClassHTTP
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return ErrorClassTimeout
	case strings.Contains(msg, "connection"), strings.Contains(msg, "refused"), strings.Contains(msg, "unreachable"):
		return ErrorClassConnection
	case strings.Contains(msg, "too many requests"), strings.Contains(msg, "rate limit"):
		return ErrorClassRateLimit
	case strings.Contains(msg, "http"), strings.Contains(msg, "status"):
		return ErrorClassHTTP
	}
	return ErrorClassOther
}
