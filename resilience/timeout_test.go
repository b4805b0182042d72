package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/flow"
)

// sleeper returns a primitive that waits d (or until canceled) and echoes its input.
func sleeper(d time.Duration, canceled *atomic.Bool) flow.Primitive[string, string] {
	return flow.Func("sleeper", func(ctx context.Context, in string, _ *flow.ExecutionContext) (string, error) {
		select {
		case <-time.After(d):
			return in, nil
		case <-ctx.Done():
			if canceled != nil {
				canceled.Store(true)
			}
			return "", ctx.Err()
		}
	})
}

func TestTimeout_FastCompletion(t *testing.T) {
	to, err := NewTimeout(sleeper(0, nil), TimeoutConfig{Timeout: time.Second}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ec := flow.NewExecutionContext()
	out, rec, err := to.ExecuteWith(context.Background(), "hi", ec, 0)
	if err != nil || out != "hi" {
		t.Fatalf("expected hi, got %q (%v)", out, err)
	}
	if rec.TimedOut || rec.SoftOverrun {
		t.Errorf("unexpected record %+v", rec)
	}
	if _, ok := ec.Get(StateTimeoutCount); ok {
		t.Error("timeout_count should not be set on success")
	}
}

func TestTimeout_HardTimeoutWithoutFallback(t *testing.T) {
	var canceled atomic.Bool
	to, _ := NewTimeout(sleeper(time.Second, &canceled), TimeoutConfig{Timeout: 20 * time.Millisecond}, nil)
	ec := flow.NewExecutionContext()

	_, err := to.Execute(context.Background(), "hi", ec)
	if !apperrors.HasCode(err, apperrors.ErrCodeTimeoutExceeded) {
		t.Fatalf("expected TIMEOUT_EXCEEDED, got %v", err)
	}
	if v, _ := ec.Get(StateTimeoutCount); v != 1 {
		t.Errorf("expected timeout_count 1, got %v", v)
	}

	_, _ = to.Execute(context.Background(), "hi", ec)
	if v, _ := ec.Get(StateTimeoutCount); v != 2 {
		t.Errorf("expected timeout_count 2, got %v", v)
	}

	deadline := time.Now().Add(time.Second)
	for !canceled.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !canceled.Load() {
		t.Error("expected abandoned run to observe cancellation")
	}
	if st := to.Stats(); st.TimedOut != 2 || st.TimeoutRate() != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestTimeout_HardTimeoutRunsFallback(t *testing.T) {
	fb := flow.Func("cached", func(_ context.Context, in string, _ *flow.ExecutionContext) (string, error) {
		return "fallback:" + in, nil
	})
	to, _ := NewTimeout(sleeper(time.Second, nil), TimeoutConfig{Timeout: 10 * time.Millisecond}, fb)

	out, rec, err := to.ExecuteWith(context.Background(), "hi", flow.NewExecutionContext(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "fallback:hi" || !rec.UsedFallback || !rec.TimedOut {
		t.Errorf("expected fallback output, got %q %+v", out, rec)
	}
}

func TestTimeout_SoftOverrunWithinGrace(t *testing.T) {
	to, _ := NewTimeout(sleeper(40*time.Millisecond, nil), TimeoutConfig{
		Timeout: 10 * time.Millisecond,
		Grace:   2 * time.Second,
	}, nil)

	out, rec, err := to.ExecuteWith(context.Background(), "late", flow.NewExecutionContext(), 0)
	if err != nil || out != "late" {
		t.Fatalf("expected late result inside grace, got %q (%v)", out, err)
	}
	if !rec.SoftOverrun || rec.TimedOut {
		t.Errorf("expected soft overrun only, got %+v", rec)
	}
	if st := to.Stats(); st.SoftOverruns != 1 || st.Succeeded != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestTimeout_ErrorPassesThrough(t *testing.T) {
	var calls atomic.Int32
	to, _ := NewTimeout(failing[string, string]("bad", &calls, errBoom), TimeoutConfig{Timeout: time.Second}, nil)

	_, err := to.Execute(context.Background(), "", flow.NewExecutionContext())
	if !errors.Is(err, errBoom) || apperrors.IsAppError(err) {
		t.Errorf("expected inner error unchanged, got %v", err)
	}
	if st := to.Stats(); st.Failed != 1 || st.TimedOut != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestTimeout_ExecuteWithOverride(t *testing.T) {
	to, _ := NewTimeout(sleeper(50*time.Millisecond, nil), TimeoutConfig{Timeout: time.Second}, nil)
	_, rec, err := to.ExecuteWith(context.Background(), "", flow.NewExecutionContext(), 5*time.Millisecond)
	if !rec.TimedOut || err == nil {
		t.Errorf("expected override timeout to fire, got %+v (%v)", rec, err)
	}
}

func TestNewTimeout_Validation(t *testing.T) {
	if _, err := NewTimeout(sleeper(0, nil), TimeoutConfig{}, nil); !apperrors.HasCode(err, apperrors.ErrCodeConfiguration) {
		t.Errorf("expected configuration error for zero timeout, got %v", err)
	}
	if _, err := NewTimeout[string, string](nil, TimeoutConfig{Timeout: time.Second}, nil); err == nil {
		t.Error("expected error for nil primitive")
	}
}
