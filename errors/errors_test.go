package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestAppError_New_Retryable(t *testing.T) {
	err := New(ErrCodeTimeoutExceeded, "timed out")
	if !err.Retryable {
		t.Error("TIMEOUT_EXCEEDED should be retryable")
	}
	err = New(ErrCodeConfiguration, "bad route")
	if err.Retryable {
		t.Error("CONFIGURATION_ERROR should not be retryable")
	}
}

func TestAppError_Configuration(t *testing.T) {
	err := Configurationf("route %q not found", "fast")
	if err.Code != ErrCodeConfiguration {
		t.Errorf("expected CONFIGURATION_ERROR, got %s", err.Code)
	}
	if !strings.Contains(err.Error(), `route "fast" not found`) {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestAppError_TimeoutExceeded(t *testing.T) {
	err := TimeoutExceeded("llm.call", 2*time.Second)
	if err.Details["timeout_ms"] != int64(2000) {
		t.Errorf("expected timeout_ms=2000, got %v", err.Details["timeout_ms"])
	}
	if !stderrors.Is(err, ErrDeadline) {
		t.Error("expected TimeoutExceeded to wrap ErrDeadline")
	}
}

func TestAppError_RetriesExhausted_CarriesCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := RetriesExhausted("fetch", 4, cause)
	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to reach the last cause")
	}
	if err.Details["attempts"] != 4 {
		t.Errorf("expected attempts=4, got %v", err.Details["attempts"])
	}
}

func TestAppError_IsMatchesCode(t *testing.T) {
	wrapped := fmt.Errorf("step 2: %w", TimeoutExceeded("op", time.Second))
	if !stderrors.Is(wrapped, &AppError{Code: ErrCodeTimeoutExceeded}) {
		t.Error("expected code-based match through wrapping")
	}
	if stderrors.Is(wrapped, &AppError{Code: ErrCodeRetriesExhausted}) {
		t.Error("expected no match for a different code")
	}
}

func TestAppError_WithDetails_Merge(t *testing.T) {
	err := Configuration("bad").WithDetail("field", "max_retries")
	err.WithDetails(map[string]any{"value": -1})
	if err.Details["field"] != "max_retries" || err.Details["value"] != -1 {
		t.Errorf("expected merged details, got %v", err.Details)
	}
}

func TestAsAppError(t *testing.T) {
	err := fmt.Errorf("outer: %w", CircuitOpen("payments"))
	appErr, ok := AsAppError(err)
	if !ok {
		t.Fatal("expected AsAppError to find the wrapped AppError")
	}
	if appErr.Code != ErrCodeCircuitOpen {
		t.Errorf("expected CIRCUIT_OPEN, got %s", appErr.Code)
	}
	if IsAppError(stderrors.New("plain")) {
		t.Error("plain errors are not AppErrors")
	}
}

func TestHasCode_ThroughJoin(t *testing.T) {
	joined := stderrors.Join(stderrors.New("a"), RateLimited("api"))
	if !HasCode(joined, ErrCodeRateLimited) {
		t.Error("expected HasCode to search joined errors")
	}
	if HasCode(joined, ErrCodeInternal) {
		t.Error("unexpected INTERNAL_ERROR match")
	}
	if HasCode(nil, ErrCodeInternal) {
		t.Error("nil error has no code")
	}
}

func TestIsRetryableCode(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{ErrCodeTimeoutExceeded, true},
		{ErrCodeCircuitOpen, true},
		{ErrCodeStore, true},
		{ErrCodeRetriesExhausted, false},
		{ErrCodeConfiguration, false},
		{ErrorCode("UNKNOWN"), false},
	}
	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			if got := IsRetryableCode(tc.code); got != tc.want {
				t.Errorf("IsRetryableCode(%s) = %v, want %v", tc.code, got, tc.want)
			}
		})
	}
}
