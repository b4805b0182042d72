package flow

import "context"

// Result is the explicit success/failure value that Fallback and Saga
// branch on.
type Result[T any] struct {
	Value T
	Err   error
}

// Ok returns a successful Result.
func Ok[T any](v T) Result[T] { return Result[T]{Value: v} }

// Fail returns a failed Result.
func Fail[T any](err error) Result[T] { return Result[T]{Err: err} }

// Attempt executes p and captures its outcome.
func Attempt[I, O any](ctx context.Context, p Primitive[I, O], input I, ec *ExecutionContext) Result[O] {
	v, err := p.Execute(ctx, input, ec)
	if err != nil {
		return Fail[O](err)
	}
	return Ok(v)
}

// Failed reports whether the Result holds an error.
func (r Result[T]) Failed() bool { return r.Err != nil }

// Unwrap returns the value and error pair.
func (r Result[T]) Unwrap() (T, error) {
	if r.Err != nil {
		var zero T
		return zero, r.Err
	}
	return r.Value, nil
}
