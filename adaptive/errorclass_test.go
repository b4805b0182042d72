package adaptive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	apperrors "github.com/kbukum/flowkit/errors"
)

type httpStatusError struct{ code int }

func (e httpStatusError) Error() string   { return fmt.Sprintf("unexpected response %d", e.code) }
func (e httpStatusError) StatusCode() int { return e.code }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassNone},
		{"deadline", context.DeadlineExceeded, ErrorClassTimeout},
		{"timeout exceeded", apperrors.TimeoutExceeded("op", time.Second), ErrorClassTimeout},
		{"rate limited", apperrors.RateLimited("api"), ErrorClassRateLimit},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), ErrorClassConnection},
		{"op error", &net.OpError{Op: "read", Err: errors.New("eof")}, ErrorClassConnection},
		{"http 503", httpStatusError{503}, ErrorClassHTTP},
		{"http 429", httpStatusError{429}, ErrorClassRateLimit},
		{"timeout message", errors.New("request timed out"), ErrorClassTimeout},
		{"connection message", errors.New("connection reset by peer"), ErrorClassConnection},
		{"other", errors.New("boom"), ErrorClassOther},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyError(tc.err); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
