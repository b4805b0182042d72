package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/flow"
)

func TestBulkhead_AcquireRelease(t *testing.T) {
	bh := NewBulkhead(BulkheadConfig{Name: "io", MaxConcurrent: 2})
	r1, err := bh.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	r2, _ := bh.Acquire(context.Background())
	if bh.Available() != 0 || bh.InUse() != 2 {
		t.Errorf("expected full bulkhead, available=%d in_use=%d", bh.Available(), bh.InUse())
	}
	if _, err := bh.Acquire(context.Background()); !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("expected ErrBulkheadFull, got %v", err)
	}
	r1()
	r2()
	if bh.Available() != 2 {
		t.Errorf("expected slots released, got %d", bh.Available())
	}
}

func TestBulkhead_WaitTimesOut(t *testing.T) {
	var rejected string
	bh := NewBulkhead(BulkheadConfig{
		Name:          "io",
		MaxConcurrent: 1,
		MaxWait:       10 * time.Millisecond,
		OnReject:      func(name string) { rejected = name },
	})
	release, _ := bh.Acquire(context.Background())
	defer release()

	_, err := bh.Acquire(context.Background())
	if !errors.Is(err, ErrBulkheadTimeout) {
		t.Errorf("expected ErrBulkheadTimeout, got %v", err)
	}
	if rejected != "io" {
		t.Errorf("expected OnReject callback, got %q", rejected)
	}
}

func TestBulkheaded_RejectsWhenSaturated(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	slow := flow.Func("slow", func(_ context.Context, in int, _ *flow.ExecutionContext) (int, error) {
		close(entered)
		<-unblock
		return in, nil
	})
	b, err := NewBulkheaded(slow, BulkheadConfig{MaxConcurrent: 1})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := b.Execute(context.Background(), 1, flow.NewExecutionContext())
		done <- err
	}()
	<-entered

	_, err = b.Execute(context.Background(), 2, flow.NewExecutionContext())
	if !apperrors.HasCode(err, apperrors.ErrCodeServiceUnavailable) {
		t.Errorf("expected SERVICE_UNAVAILABLE, got %v", err)
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Errorf("first call should succeed, got %v", err)
	}
	if b.Bulkhead().InUse() != 0 {
		t.Error("slot should be released after completion")
	}
}
