package resilience

import (
	"context"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/flow"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
)

// StateFallbackErrors holds the []error of a run where primary and every
// fallback failed, primary first.
const StateFallbackErrors = "fallback_errors"

// FallbackConfig configures a Fallback primitive.
type FallbackConfig struct {
	Name      string
	Logger    *logger.Logger
	Collector observability.Collector
}

// Fallback runs a primary primitive and, only if it fails, each fallback in
// order with the same input. When everything fails the primary's error is
// returned.
type Fallback[I, O any] struct {
	primary   flow.Primitive[I, O]
	fallbacks []flow.Primitive[I, O]
	cfg       FallbackConfig
	log       *logger.Logger
	collector observability.Collector
}

// NewFallback builds a Fallback with at least one fallback.
func NewFallback[I, O any](primary flow.Primitive[I, O], cfg FallbackConfig, fallbacks ...flow.Primitive[I, O]) (*Fallback[I, O], error) {
	if primary == nil {
		return nil, apperrors.Configuration("fallback requires a primary primitive")
	}
	if len(fallbacks) == 0 {
		return nil, apperrors.Configuration("fallback requires at least one fallback primitive")
	}
	for i, fb := range fallbacks {
		if fb == nil {
			return nil, apperrors.Configurationf("fallback %d is nil", i)
		}
	}
	if cfg.Name == "" {
		cfg.Name = "fallback"
	}
	return &Fallback[I, O]{
		primary:   primary,
		fallbacks: fallbacks,
		cfg:       cfg,
		log:       logger.OrNop(cfg.Logger).WithComponent(cfg.Name),
		collector: observability.OrNop(cfg.Collector),
	}, nil
}

func (f *Fallback[I, O]) Name() string { return f.cfg.Name }

func (f *Fallback[I, O]) Execute(ctx context.Context, input I, ec *flow.ExecutionContext) (O, error) {
	primary := flow.Attempt(ctx, f.primary, input, ec)
	if !primary.Failed() {
		return primary.Value, nil
	}

	log := f.log.WithExecution(ec)
	f.collector.Count(ctx, observability.MetricFallbackActivated, 1,
		observability.A(observability.AttrPrimitive, f.cfg.Name),
	)
	log.Warn("primary failed, activating fallback", logger.Fields(
		logger.FieldPrimitive, f.primary.Name(),
		logger.FieldError, primary.Err.Error(),
	))

	errs := []error{primary.Err}
	for _, fb := range f.fallbacks {
		res := flow.Attempt(ctx, fb, input, ec)
		if !res.Failed() {
			return res.Value, nil
		}
		errs = append(errs, res.Err)
		log.Debug("fallback failed", logger.Fields(
			logger.FieldPrimitive, fb.Name(),
			logger.FieldError, res.Err.Error(),
		))
	}

	ec.Set(StateFallbackErrors, errs)
	log.Error("primary and fallbacks failed", logger.Fields(
		"primary_error", primary.Err.Error(),
		"fallback_error", errs[len(errs)-1].Error(),
	))
	return primary.Unwrap()
}
