package flow

import (
	"context"
	"time"

	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
)

// Middleware wraps a Primitive with cross-cutting behavior.
type Middleware[I, O any] func(Primitive[I, O]) Primitive[I, O]

// Chain composes middlewares; the first is outermost.
//
// Chain(a, b, c)(p) is equivalent to a(b(c(p))).
func Chain[I, O any](middlewares ...Middleware[I, O]) Middleware[I, O] {
	return func(inner Primitive[I, O]) Primitive[I, O] {
		for i := len(middlewares) - 1; i >= 0; i-- {
			inner = middlewares[i](inner)
		}
		return inner
	}
}

// WithLogging logs each Execute call with its duration and outcome.
func WithLogging[I, O any](log *logger.Logger) Middleware[I, O] {
	log = logger.OrNop(log)
	return func(inner Primitive[I, O]) Primitive[I, O] {
		return &loggingPrimitive[I, O]{inner: inner, log: log}
	}
}

type loggingPrimitive[I, O any] struct {
	inner Primitive[I, O]
	log   *logger.Logger
}

func (l *loggingPrimitive[I, O]) Name() string { return l.inner.Name() }

func (l *loggingPrimitive[I, O]) Execute(ctx context.Context, input I, ec *ExecutionContext) (O, error) {
	start := time.Now()
	out, err := l.inner.Execute(ctx, input, ec)

	fields := logger.DurationFields("execute", time.Since(start))
	fields[logger.FieldPrimitive] = l.inner.Name()
	log := l.log.WithExecution(ec)
	if err != nil {
		log.Error("primitive failed", logger.MergeWithError(fields, err))
	} else {
		log.Debug("primitive ok", fields)
	}
	return out, err
}

// WithTracing opens a span named "flow.<primitive>" around each call.
func WithTracing[I, O any](c observability.Collector) Middleware[I, O] {
	c = observability.OrNop(c)
	return func(inner Primitive[I, O]) Primitive[I, O] {
		return &tracingPrimitive[I, O]{inner: inner, collector: c}
	}
}

type tracingPrimitive[I, O any] struct {
	inner     Primitive[I, O]
	collector observability.Collector
}

func (t *tracingPrimitive[I, O]) Name() string { return t.inner.Name() }

func (t *tracingPrimitive[I, O]) Execute(ctx context.Context, input I, ec *ExecutionContext) (O, error) {
	ctx, end := t.collector.StartSpan(ctx, "flow."+t.inner.Name(),
		observability.A(observability.AttrPrimitive, t.inner.Name()),
		observability.A(observability.AttrWorkflowID, ec.WorkflowID()),
	)
	out, err := t.inner.Execute(ctx, input, ec)
	end(err)
	return out, err
}

// WithMetrics records the flow.primitive.duration histogram per call.
func WithMetrics[I, O any](c observability.Collector) Middleware[I, O] {
	c = observability.OrNop(c)
	return func(inner Primitive[I, O]) Primitive[I, O] {
		return &metricsPrimitive[I, O]{inner: inner, collector: c}
	}
}

type metricsPrimitive[I, O any] struct {
	inner     Primitive[I, O]
	collector observability.Collector
}

func (m *metricsPrimitive[I, O]) Name() string { return m.inner.Name() }

func (m *metricsPrimitive[I, O]) Execute(ctx context.Context, input I, ec *ExecutionContext) (O, error) {
	start := time.Now()
	out, err := m.inner.Execute(ctx, input, ec)
	m.collector.Observe(ctx, observability.MetricPrimitiveDuration, time.Since(start).Seconds(),
		observability.A(observability.AttrPrimitive, m.inner.Name()),
		observability.A(observability.AttrStatus, observability.StatusOf(err)),
	)
	return out, err
}
