package flow

import "context"

// Primitive is the single contract every workflow unit implements.
// Configuration is fixed at construction; per-call state lives in ec.
type Primitive[I, O any] interface {
	// Name identifies the primitive in logs, spans and metrics.
	Name() string
	// Execute runs the primitive. ec must not be nil.
	Execute(ctx context.Context, input I, ec *ExecutionContext) (O, error)
}

// ExecFunc is the function form of Primitive.Execute.
type ExecFunc[I, O any] func(ctx context.Context, input I, ec *ExecutionContext) (O, error)

// Func turns a function into a named Primitive.
func Func[I, O any](name string, fn ExecFunc[I, O]) Primitive[I, O] {
	return &funcPrimitive[I, O]{name: name, fn: fn}
}

type funcPrimitive[I, O any] struct {
	name string
	fn   ExecFunc[I, O]
}

func (f *funcPrimitive[I, O]) Name() string { return f.name }

func (f *funcPrimitive[I, O]) Execute(ctx context.Context, input I, ec *ExecutionContext) (O, error) {
	return f.fn(ctx, input, ec)
}

// Adapt wraps a Primitive with input/output type transformation, bridging a
// backend with types [BI, BO] to a pipeline stage with types [I, O].
func Adapt[I, O, BI, BO any](
	inner Primitive[BI, BO],
	name string,
	mapIn func(ctx context.Context, input I) (BI, error),
	mapOut func(output BO) (O, error),
) Primitive[I, O] {
	return &adapted[I, O, BI, BO]{inner: inner, name: name, mapIn: mapIn, mapOut: mapOut}
}

type adapted[I, O, BI, BO any] struct {
	inner  Primitive[BI, BO]
	name   string
	mapIn  func(ctx context.Context, input I) (BI, error)
	mapOut func(output BO) (O, error)
}

func (a *adapted[I, O, BI, BO]) Name() string { return a.name }

func (a *adapted[I, O, BI, BO]) Execute(ctx context.Context, input I, ec *ExecutionContext) (O, error) {
	var zero O

	in, err := a.mapIn(ctx, input)
	if err != nil {
		return zero, err
	}
	out, err := a.inner.Execute(ctx, in, ec)
	if err != nil {
		return zero, err
	}
	return a.mapOut(out)
}
