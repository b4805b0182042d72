package resilience

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/flow"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
)

// StateCompensationError holds the error of a compensation that failed.
const StateCompensationError = "saga_compensation_error"

// SagaConfig configures Saga and SagaChain.
type SagaConfig struct {
	Name      string
	Logger    *logger.Logger
	Collector observability.Collector
}

// Saga pairs a forward primitive with a compensating one. When forward
// fails, compensation runs exactly once with the same input and the forward
// error is returned, even if compensation fails too. Compensation should be
// idempotent.
type Saga[I, O, C any] struct {
	forward    flow.Primitive[I, O]
	compensate flow.Primitive[I, C]
	cfg        SagaConfig
	log        *logger.Logger
	collector  observability.Collector
}

// NewSaga builds a Saga.
func NewSaga[I, O, C any](forward flow.Primitive[I, O], compensate flow.Primitive[I, C], cfg SagaConfig) (*Saga[I, O, C], error) {
	if forward == nil || compensate == nil {
		return nil, apperrors.Configuration("saga requires forward and compensate primitives")
	}
	if cfg.Name == "" {
		cfg.Name = "saga"
	}
	return &Saga[I, O, C]{
		forward:    forward,
		compensate: compensate,
		cfg:        cfg,
		log:        logger.OrNop(cfg.Logger).WithComponent(cfg.Name),
		collector:  observability.OrNop(cfg.Collector),
	}, nil
}

func (s *Saga[I, O, C]) Name() string { return s.cfg.Name }

func (s *Saga[I, O, C]) Execute(ctx context.Context, input I, ec *flow.ExecutionContext) (O, error) {
	fwd := flow.Attempt(ctx, s.forward, input, ec)
	if !fwd.Failed() {
		return fwd.Value, nil
	}

	log := s.log.WithExecution(ec)
	log.Warn("forward failed, compensating", logger.Fields(
		logger.FieldPrimitive, s.forward.Name(),
		logger.FieldError, fwd.Err.Error(),
	))

	// Compensation survives cancellation of the forward run.
	comp := flow.Attempt(context.WithoutCancel(ctx), s.compensate, input, ec)
	recordCompensation(ctx, s.collector, s.cfg.Name, comp.Err)
	if comp.Failed() {
		ec.Set(StateCompensationError, comp.Err)
		log.Error("compensation failed", logger.Fields(
			logger.FieldPrimitive, s.compensate.Name(),
			logger.FieldError, comp.Err.Error(),
		))
	}
	return fwd.Unwrap()
}

func recordCompensation(ctx context.Context, c observability.Collector, name string, err error) {
	c.Count(ctx, observability.MetricSagaCompensations, 1,
		observability.A(observability.AttrPrimitive, name),
		observability.A(observability.AttrStatus, observability.StatusOf(err)),
	)
}

// SagaStep is one forward/compensate pair of a SagaChain. Compensate may be
// nil for steps with nothing to undo.
type SagaStep[T any] struct {
	Name       string
	Forward    flow.Primitive[T, T]
	Compensate flow.Primitive[T, T]
}

// SagaChain runs steps in order, each feeding the next. When step i fails,
// the compensations of steps i..0 run in reverse order, each with the input
// its step received, and the forward error is returned.
type SagaChain[T any] struct {
	steps     []SagaStep[T]
	cfg       SagaConfig
	log       *logger.Logger
	collector observability.Collector
}

// NewSagaChain builds a multi-step saga.
func NewSagaChain[T any](cfg SagaConfig, steps ...SagaStep[T]) (*SagaChain[T], error) {
	if len(steps) == 0 {
		return nil, apperrors.Configuration("saga chain requires at least one step")
	}
	for i, st := range steps {
		if st.Forward == nil {
			return nil, apperrors.Configurationf("saga step %d has no forward primitive", i)
		}
	}
	if cfg.Name == "" {
		cfg.Name = "saga_chain"
	}
	return &SagaChain[T]{
		steps:     steps,
		cfg:       cfg,
		log:       logger.OrNop(cfg.Logger).WithComponent(cfg.Name),
		collector: observability.OrNop(cfg.Collector),
	}, nil
}

func (s *SagaChain[T]) Name() string { return s.cfg.Name }

func (s *SagaChain[T]) Execute(ctx context.Context, input T, ec *flow.ExecutionContext) (T, error) {
	inputs := make([]T, 0, len(s.steps))
	cur := input
	for i, step := range s.steps {
		inputs = append(inputs, cur)
		res := flow.Attempt(ctx, step.Forward, cur, ec)
		if res.Failed() {
			s.log.WithExecution(ec).Warn("saga step failed, compensating", logger.Fields(
				"step", i,
				"step_name", step.Name,
				logger.FieldError, res.Err.Error(),
			))
			s.rollback(ctx, ec, inputs)
			return res.Unwrap()
		}
		cur = res.Value
	}
	return cur, nil
}

func (s *SagaChain[T]) rollback(ctx context.Context, ec *flow.ExecutionContext, inputs []T) {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(inputs) - 1; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		res := flow.Attempt(ctx, step.Compensate, inputs[i], ec)
		recordCompensation(ctx, s.collector, s.cfg.Name, res.Err)
		if res.Failed() {
			errs = append(errs, fmt.Errorf("compensation failed at step %d (%s): %w", i, step.Name, res.Err))
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		ec.Set(StateCompensationError, err)
		s.log.WithExecution(ec).Error("saga compensation failed", logger.Fields(
			logger.FieldError, err.Error(),
		))
	}
}
