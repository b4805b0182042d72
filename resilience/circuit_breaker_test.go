package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/flow"
	"github.com/kbukum/flowkit/observability"
)

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "db", MaxFailures: 3, Timeout: time.Minute})

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errBoom })
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after 2 failures, got %s", cb.State())
	}
	_ = cb.Execute(func() error { return nil })
	if cb.Failures() != 0 {
		t.Errorf("success should reset consecutive failures, got %d", cb.Failures())
	}

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errBoom })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if called {
		t.Error("open circuit must not call fn")
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		Timeout:     10 * time.Second,
		Now:         clock.Now,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(func() error { return errBoom })
	clock.Advance(5 * time.Second)
	if cb.State() != StateOpen {
		t.Fatal("expected open before timeout")
	}

	clock.Advance(5 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("half-open should admit a trial call")
	}
	if cb.Allow() {
		t.Error("half-open should admit only HalfOpenMaxCalls trial calls")
	}
	cb.Record(nil)
	if cb.State() != StateClosed {
		t.Errorf("expected closed after a successful trial call, got %s", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second, Now: clock.Now})
	_ = cb.Execute(func() error { return errBoom })
	clock.Advance(time.Second)
	_ = cb.Execute(func() error { return errBoom })
	if cb.State() != StateOpen {
		t.Errorf("failed trial call should reopen, got %s", cb.State())
	}
}

func TestCircuitBreaker_FailureRateMode(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []bool // true = failure
		want     State
	}{
		{"below min samples", []bool{true, true, true}, StateClosed},
		{"rate at threshold stays closed", []bool{true, false, true, false}, StateClosed},
		{"rate above threshold opens", []bool{true, false, true, true}, StateOpen},
		{"old failures slide out", []bool{true, true, false, false, false, false, true}, StateClosed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cb := NewCircuitBreaker(CircuitBreakerConfig{
				FailureRateThreshold: 0.5,
				MinSamples:           4,
				WindowSize:           4,
				Timeout:              time.Minute,
			})
			for _, failed := range tc.outcomes {
				var err error
				if failed {
					err = errBoom
				}
				_ = cb.Execute(func() error { return err })
			}
			if cb.State() != tc.want {
				t.Errorf("expected %s, got %s (rate %.2f)", tc.want, cb.State(), cb.FailureRate())
			}
		})
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1})
	_ = cb.Execute(func() error { return errBoom })
	cb.Reset()
	if cb.State() != StateClosed || cb.Failures() != 0 {
		t.Errorf("expected clean closed breaker, got %s/%d", cb.State(), cb.Failures())
	}
}

func TestBreaker_RejectsWhileOpen(t *testing.T) {
	var calls atomic.Int32
	collector := observability.Nop()
	b, err := NewBreaker(failing[int, int]("payments", &calls, errBoom), CircuitBreakerConfig{
		MaxFailures: 2,
		Timeout:     time.Minute,
		Collector:   collector,
	})
	if err != nil {
		t.Fatal(err)
	}
	ec := flow.NewExecutionContext()
	for i := 0; i < 2; i++ {
		if _, err := b.Execute(context.Background(), i, ec); err != errBoom {
			t.Fatalf("expected inner error while closed, got %v", err)
		}
	}

	_, err = b.Execute(context.Background(), 3, ec)
	if !apperrors.HasCode(err, apperrors.ErrCodeCircuitOpen) {
		t.Errorf("expected CIRCUIT_OPEN, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("open breaker must not invoke inner, got %d calls", calls.Load())
	}
	if b.Name() != "payments" {
		t.Errorf("expected name from inner, got %q", b.Name())
	}

	h := b.CheckHealth(context.Background())
	if h.Status != observability.HealthStatusDegraded || h.Details["state"] != "open" {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestNewBreaker_RejectsBadThreshold(t *testing.T) {
	var calls atomic.Int32
	_, err := NewBreaker(failing[int, int]("x", &calls, errBoom), CircuitBreakerConfig{FailureRateThreshold: 1.5})
	if !apperrors.HasCode(err, apperrors.ErrCodeConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
