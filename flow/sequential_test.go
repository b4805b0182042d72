package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	apperrors "github.com/kbukum/flowkit/errors"
)

func appendStep(s string) Primitive[string, string] {
	return Func(s, func(_ context.Context, in string, _ *ExecutionContext) (string, error) {
		return in + s, nil
	})
}

func TestSequential_RunsInOrder(t *testing.T) {
	seq, err := NewSequential("abc", appendStep("a"), appendStep("b"), appendStep("c"))
	if err != nil {
		t.Fatal(err)
	}
	out, err := seq.Execute(context.Background(), ">", NewExecutionContext())
	if err != nil {
		t.Fatal(err)
	}
	if out != ">abc" {
		t.Errorf("expected >abc, got %q", out)
	}
}

func TestSequential_EmptyIsConfigurationError(t *testing.T) {
	_, err := NewSequential[string]("empty")
	if !apperrors.HasCode(err, apperrors.ErrCodeConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestSequential_FailureAbortsAndPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	var ranAfter bool
	fail := Func("fail", func(context.Context, string, *ExecutionContext) (string, error) {
		return "", boom
	})
	after := Func("after", func(_ context.Context, in string, _ *ExecutionContext) (string, error) {
		ranAfter = true
		return in, nil
	})

	seq, _ := NewSequential("s", appendStep("a"), fail, after)
	_, err := seq.Execute(context.Background(), "", NewExecutionContext())
	if err != boom {
		t.Errorf("expected the step error unchanged, got %v", err)
	}
	if ranAfter {
		t.Error("steps after a failure must not run")
	}
}

func TestSequential_FlatteningIsEquivalent(t *testing.T) {
	inputs := []string{"", "x", "hello"}
	for n := 1; n <= 4; n++ {
		var steps []Primitive[string, string]
		for i := 0; i < n; i++ {
			steps = append(steps, appendStep(string(rune('a'+i))))
		}

		flat, _ := NewSequential("flat", steps...)
		left, _ := NewSequential("left", steps[:n/2]...)
		var nested *Sequential[string]
		if left != nil {
			nested, _ = NewSequential("nested", append([]Primitive[string, string]{left}, steps[n/2:]...)...)
		} else {
			nested, _ = NewSequential("nested", steps...)
		}

		if nested.Len() != flat.Len() {
			t.Errorf("n=%d: expected %d flattened steps, got %d", n, flat.Len(), nested.Len())
		}
		for _, in := range inputs {
			a, _ := flat.Execute(context.Background(), in, NewExecutionContext())
			b, _ := nested.Execute(context.Background(), in, NewExecutionContext())
			if a != b {
				t.Errorf("n=%d in=%q: flat %q != nested %q", n, in, a, b)
			}
		}
	}
}

func TestSequential_Append(t *testing.T) {
	seq, _ := NewSequential("s", appendStep("a"))
	more, err := seq.Append(appendStep("b"))
	if err != nil {
		t.Fatal(err)
	}
	if seq.Len() != 1 || more.Len() != 2 {
		t.Errorf("Append should not mutate the receiver: %d %d", seq.Len(), more.Len())
	}
}

func TestSequential_StopsOnCanceledContext(t *testing.T) {
	seq, _ := NewSequential("s", appendStep("a"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := seq.Execute(ctx, "", NewExecutionContext()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestThen_Heterogeneous(t *testing.T) {
	length := Func("len", func(_ context.Context, s string, _ *ExecutionContext) (int, error) {
		return len(s), nil
	})
	double := Func("double", func(_ context.Context, n int, _ *ExecutionContext) (int, error) {
		return n * 2, nil
	})

	p := Then(length, double)
	if !strings.Contains(p.Name(), "len") {
		t.Errorf("unexpected name %q", p.Name())
	}
	out, err := p.Execute(context.Background(), "abcd", NewExecutionContext())
	if err != nil || out != 8 {
		t.Errorf("expected 8, got %d (%v)", out, err)
	}
}

func TestAdapt(t *testing.T) {
	inner := Func("upper", func(_ context.Context, s string, _ *ExecutionContext) (string, error) {
		return strings.ToUpper(s), nil
	})
	p := Adapt(inner, "adapted",
		func(_ context.Context, n int) (string, error) { return strings.Repeat("a", n), nil },
		func(s string) (int, error) { return len(s) + 100, nil },
	)
	out, err := p.Execute(context.Background(), 3, NewExecutionContext())
	if err != nil || out != 103 {
		t.Errorf("expected 103, got %d (%v)", out, err)
	}
}

func TestResult(t *testing.T) {
	ok := Attempt(context.Background(), appendStep("x"), "", NewExecutionContext())
	if ok.Failed() || ok.Value != "x" {
		t.Errorf("unexpected result %+v", ok)
	}

	boom := errors.New("boom")
	r := Fail[int](boom)
	if v, err := r.Unwrap(); v != 0 || err != boom {
		t.Errorf("unexpected unwrap %v %v", v, err)
	}
}
