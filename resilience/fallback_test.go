package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/kbukum/flowkit/flow"
)

func TestFallback_Properties(t *testing.T) {
	okFn := func(tag string) func(int32, string) (string, error) {
		return func(_ int32, in string) (string, error) { return tag + in, nil }
	}
	errPrimary := errors.New("primary down")
	errBackup := errors.New("backup down")

	tests := []struct {
		name          string
		primaryErr    error
		backupErr     error
		wantOut       string
		wantErr       error
		wantBackupRun int32
	}{
		{"primary succeeds", nil, nil, "p:x", nil, 0},
		{"primary fails backup succeeds", errPrimary, nil, "b:x", nil, 1},
		{"both fail returns primary error", errPrimary, errBackup, "", errPrimary, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var pCalls, bCalls atomic.Int32
			primary := counting("primary", &pCalls, okFn("p:"))
			if tc.primaryErr != nil {
				primary = failing[string, string]("primary", &pCalls, tc.primaryErr)
			}
			backup := counting("backup", &bCalls, okFn("b:"))
			if tc.backupErr != nil {
				backup = failing[string, string]("backup", &bCalls, tc.backupErr)
			}

			fb, err := NewFallback(primary, FallbackConfig{}, backup)
			if err != nil {
				t.Fatal(err)
			}
			ec := flow.NewExecutionContext()
			out, err := fb.Execute(context.Background(), "x", ec)
			if err != tc.wantErr {
				t.Errorf("expected error %v, got %v", tc.wantErr, err)
			}
			if out != tc.wantOut {
				t.Errorf("expected %q, got %q", tc.wantOut, out)
			}
			if bCalls.Load() != tc.wantBackupRun {
				t.Errorf("expected %d backup calls, got %d", tc.wantBackupRun, bCalls.Load())
			}
			if tc.wantErr != nil {
				v, ok := ec.Get(StateFallbackErrors)
				errs, _ := v.([]error)
				if !ok || len(errs) != 2 {
					t.Errorf("expected both errors recorded, got %v", v)
				}
			}
		})
	}
}

func TestFallback_ChainStopsAtFirstSuccess(t *testing.T) {
	var p, b1, b2, b3 atomic.Int32
	fb, _ := NewFallback(
		failing[int, int]("p", &p, errBoom),
		FallbackConfig{Name: "chain"},
		failing[int, int]("b1", &b1, errBoom),
		counting("b2", &b2, func(_ int32, in int) (int, error) { return in * 2, nil }),
		counting("b3", &b3, func(_ int32, in int) (int, error) { return in * 3, nil }),
	)
	out, err := fb.Execute(context.Background(), 21, flow.NewExecutionContext())
	if err != nil || out != 42 {
		t.Fatalf("expected 42, got %d (%v)", out, err)
	}
	if b3.Load() != 0 {
		t.Error("later fallbacks must not run after a success")
	}
}

func TestNewFallback_RequiresAlternative(t *testing.T) {
	var calls atomic.Int32
	if _, err := NewFallback(failing[int, int]("p", &calls, errBoom), FallbackConfig{}); err == nil {
		t.Error("expected error without fallbacks")
	}
}
