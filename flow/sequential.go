package flow

import (
	"context"
	"slices"

	apperrors "github.com/kbukum/flowkit/errors"
)

// Sequential feeds its input through an ordered list of steps; the output of
// step i is the input of step i+1. Any failure aborts the remaining steps and
// is returned unchanged.
type Sequential[T any] struct {
	name  string
	steps []Primitive[T, T]
}

// NewSequential builds a Sequential. Nested Sequential steps are flattened,
// so chaining sequences behaves like one sequence over the concatenation.
func NewSequential[T any](name string, steps ...Primitive[T, T]) (*Sequential[T], error) {
	flat, err := flatten(steps)
	if err != nil {
		return nil, err
	}
	if len(flat) == 0 {
		return nil, apperrors.Configuration("sequential " + name + " requires at least one step")
	}
	if name == "" {
		name = "sequential"
	}
	return &Sequential[T]{name: name, steps: flat}, nil
}

func flatten[T any](steps []Primitive[T, T]) ([]Primitive[T, T], error) {
	flat := make([]Primitive[T, T], 0, len(steps))
	for i, s := range steps {
		switch v := s.(type) {
		case nil:
			return nil, apperrors.Configurationf("sequential step %d is nil", i)
		case *Sequential[T]:
			flat = append(flat, v.steps...)
		default:
			flat = append(flat, s)
		}
	}
	return flat, nil
}

// Append returns a new Sequential running s followed by next.
func (s *Sequential[T]) Append(next ...Primitive[T, T]) (*Sequential[T], error) {
	return NewSequential(s.name, append(slices.Clone(s.steps), next...)...)
}

func (s *Sequential[T]) Name() string { return s.name }

// Steps returns the flattened step list.
func (s *Sequential[T]) Steps() []Primitive[T, T] { return slices.Clone(s.steps) }

// Len returns the number of flattened steps.
func (s *Sequential[T]) Len() int { return len(s.steps) }

func (s *Sequential[T]) Execute(ctx context.Context, input T, ec *ExecutionContext) (T, error) {
	cur := input
	for _, step := range s.steps {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		out, err := step.Execute(ctx, cur, ec)
		if err != nil {
			var zero T
			return zero, err
		}
		cur = out
	}
	return cur, nil
}

// Then chains two primitives whose types differ.
func Then[A, B, C any](first Primitive[A, B], second Primitive[B, C]) Primitive[A, C] {
	return &then[A, B, C]{first: first, second: second}
}

type then[A, B, C any] struct {
	first  Primitive[A, B]
	second Primitive[B, C]
}

func (t *then[A, B, C]) Name() string { return t.first.Name() + " -> " + t.second.Name() }

func (t *then[A, B, C]) Execute(ctx context.Context, input A, ec *ExecutionContext) (C, error) {
	mid, err := t.first.Execute(ctx, input, ec)
	if err != nil {
		var zero C
		return zero, err
	}
	return t.second.Execute(ctx, mid, ec)
}
