package resilience

import (
	"context"
	"time"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/flow"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
)

// Bulkhead rejections; both match SERVICE_UNAVAILABLE through errors.Is.
var (
	ErrBulkheadFull    error = apperrors.ServiceUnavailable("bulkhead", "full")
	ErrBulkheadTimeout error = apperrors.ServiceUnavailable("bulkhead", "wait timeout")
)

// BulkheadConfig configures a bulkhead.
type BulkheadConfig struct {
	// Name identifies this bulkhead for metrics/logging.
	Name string
	// MaxConcurrent is the maximum number of concurrent calls.
	MaxConcurrent int
	// MaxWait is how long to wait for a slot. 0 means fail immediately.
	MaxWait time.Duration
	// OnReject is called when a request is rejected.
	OnReject func(name string)

	Logger    *logger.Logger
	Collector observability.Collector
}

// DefaultBulkheadConfig returns sensible defaults.
func DefaultBulkheadConfig(name string) BulkheadConfig {
	return BulkheadConfig{
		Name:          name,
		MaxConcurrent: 10,
	}
}

// Bulkhead limits concurrent calls with a semaphore.
type Bulkhead struct {
	config BulkheadConfig
	sem    chan struct{}
}

// NewBulkhead creates a new bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	return &Bulkhead{
		config: config,
		sem:    make(chan struct{}, config.MaxConcurrent),
	}
}

// Acquire takes a slot, waiting up to MaxWait. The returned release func
// must be called exactly once.
func (b *Bulkhead) Acquire(ctx context.Context) (release func(), err error) {
	if err := b.acquire(ctx); err != nil {
		if b.config.OnReject != nil {
			b.config.OnReject(b.config.Name)
		}
		return nil, err
	}
	return func() { <-b.sem }, nil
}

func (b *Bulkhead) acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	default:
	}

	if b.config.MaxWait <= 0 {
		return ErrBulkheadFull
	}

	timer := time.NewTimer(b.config.MaxWait)
	defer timer.Stop()

	select {
	case b.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrBulkheadTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Available returns the number of available slots.
func (b *Bulkhead) Available() int {
	return b.config.MaxConcurrent - len(b.sem)
}

// InUse returns the number of slots currently in use.
func (b *Bulkhead) InUse() int {
	return len(b.sem)
}

// Bulkheaded runs a wrapped primitive inside a Bulkhead.
type Bulkheaded[I, O any] struct {
	inner     flow.Primitive[I, O]
	bh        *Bulkhead
	log       *logger.Logger
	collector observability.Collector
}

// NewBulkheaded wraps inner with a concurrency limit.
func NewBulkheaded[I, O any](inner flow.Primitive[I, O], cfg BulkheadConfig) (*Bulkheaded[I, O], error) {
	if inner == nil {
		return nil, apperrors.Configuration("bulkhead requires a wrapped primitive")
	}
	if cfg.MaxConcurrent < 0 || cfg.MaxWait < 0 {
		return nil, apperrors.Configuration("bulkhead limits must not be negative")
	}
	if cfg.Name == "" {
		cfg.Name = inner.Name()
	}
	return &Bulkheaded[I, O]{
		inner:     inner,
		bh:        NewBulkhead(cfg),
		log:       logger.OrNop(cfg.Logger).WithComponent(cfg.Name),
		collector: observability.OrNop(cfg.Collector),
	}, nil
}

func (b *Bulkheaded[I, O]) Name() string { return b.bh.config.Name }

// Bulkhead exposes the underlying bulkhead.
func (b *Bulkheaded[I, O]) Bulkhead() *Bulkhead { return b.bh }

func (b *Bulkheaded[I, O]) Execute(ctx context.Context, input I, ec *flow.ExecutionContext) (O, error) {
	var zero O
	release, err := b.bh.Acquire(ctx)
	if err != nil {
		b.log.WithExecution(ec).Debug("bulkhead rejected", logger.Fields(logger.FieldError, err.Error()))
		b.collector.Count(ctx, observability.MetricBulkheadRejections, 1,
			observability.A(observability.AttrPrimitive, b.bh.config.Name),
		)
		return zero, err
	}
	defer release()
	return b.inner.Execute(ctx, input, ec)
}
