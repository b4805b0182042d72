package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/flow"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
	"github.com/kbukum/flowkit/validation"
)

// RetryPolicy holds the numeric retry parameters. Adaptive retry learns
// and swaps these per execution context.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries" json:"max_retries" mapstructure:"max_retries" validate:"gte=0"`
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay" mapstructure:"initial_delay" validate:"gte=0"`
	// Backoff is the multiplier applied per retry.
	Backoff float64 `yaml:"backoff" json:"backoff" mapstructure:"backoff" validate:"gte=1"`
	// MaxDelay caps every delay.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay" mapstructure:"max_delay" validate:"gtefield=InitialDelay"`
	// Jitter perturbs each delay by up to ±JitterFraction.
	Jitter         bool    `yaml:"jitter" json:"jitter" mapstructure:"jitter"`
	JitterFraction float64 `yaml:"jitter_fraction" json:"jitter_fraction" mapstructure:"jitter_fraction" validate:"gte=0,lte=1"`
}

// DefaultRetryPolicy returns sensible defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialDelay:   time.Second,
		Backoff:        2.0,
		MaxDelay:       60 * time.Second,
		Jitter:         true,
		JitterFraction: 0.1,
	}
}

// WithDefaults fills zero-valued fields.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	if p.Backoff == 0 {
		p.Backoff = 2.0
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = 60 * time.Second
		if p.InitialDelay > p.MaxDelay {
			p.MaxDelay = p.InitialDelay
		}
	}
	if p.Jitter && p.JitterFraction == 0 {
		p.JitterFraction = 0.1
	}
	return p
}

// RetryConfig configures a Retry primitive.
type RetryConfig struct {
	RetryPolicy `yaml:",inline" mapstructure:",squash"`

	// Name identifies the retry in logs and errors.
	Name string

	// RetryIf decides whether an error is worth retrying. Errors it rejects
	// are returned unchanged.
	RetryIf func(error) bool
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand returns a value in [0, 1) for jitter.
	Rand func() float64

	Logger    *logger.Logger
	Collector observability.Collector
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{RetryPolicy: DefaultRetryPolicy()}
}

func (c *RetryConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = "retry"
	}
	c.RetryPolicy = c.RetryPolicy.WithDefaults()
	if c.RetryIf == nil {
		c.RetryIf = DefaultRetryIf
	}
	if c.Sleep == nil {
		c.Sleep = SleepContext
	}
	if c.Rand == nil {
		c.Rand = rand.Float64
	}
}

// DefaultRetryIf retries everything except cancellation and flowkit errors
// marked non-retryable.
func DefaultRetryIf(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr.Retryable
	}
	return true
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Delay returns the backoff before retry number attempt (0-based):
// min(InitialDelay·Backoff^attempt, MaxDelay), perturbed by jitter and
// clamped to [0, MaxDelay].
func (p RetryPolicy) Delay(attempt int, rnd func() float64) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.Backoff, float64(attempt))
	if limit := float64(p.MaxDelay); p.MaxDelay > 0 && base > limit {
		base = limit
	}
	d := base
	if p.Jitter && p.JitterFraction > 0 && rnd != nil {
		d += (rnd()*2 - 1) * base * p.JitterFraction
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// RetryRecord describes how one retried execution went.
type RetryRecord struct {
	Attempts  int
	LastErr   error
	Exhausted bool
	Delays    []time.Duration
}

// FirstTry reports whether the first attempt succeeded.
func (r RetryRecord) FirstTry() bool { return r.Attempts == 1 && r.LastErr == nil }

// Do runs fn with retries. attempt is 0 for the first call. After the last
// retry fails it returns a RETRIES_EXHAUSTED error carrying the last cause.
func Do[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context, attempt int) (T, error)) (T, RetryRecord, error) {
	var zero T
	var rec RetryRecord
	cfg.applyDefaults()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			rec.LastErr = err
			return zero, rec, err
		}

		rec.Attempts++
		out, err := fn(ctx, attempt)
		if err == nil {
			rec.LastErr = nil
			return out, rec, nil
		}
		rec.LastErr = err

		if !cfg.RetryIf(err) {
			return zero, rec, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := cfg.Delay(attempt, cfg.Rand)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}
		rec.Delays = append(rec.Delays, delay)
		if serr := cfg.Sleep(ctx, delay); serr != nil {
			return zero, rec, serr
		}
	}

	rec.Exhausted = true
	return zero, rec, apperrors.RetriesExhausted(cfg.Name, rec.Attempts, rec.LastErr)
}

// RetryStats is a snapshot of retry counters.
type RetryStats struct {
	Executions        int64
	FirstTrySuccesses int64
	Attempts          int64
	Exhausted         int64
}

// FirstTryRate is the share of executions that succeeded without retrying.
func (s RetryStats) FirstTryRate() float64 {
	if s.Executions == 0 {
		return 0
	}
	return float64(s.FirstTrySuccesses) / float64(s.Executions)
}

// Retry re-executes a wrapped primitive with exponential backoff.
type Retry[I, O any] struct {
	inner     flow.Primitive[I, O]
	cfg       RetryConfig
	log       *logger.Logger
	collector observability.Collector

	executions atomic.Int64
	firstTry   atomic.Int64
	attempts   atomic.Int64
	exhausted  atomic.Int64
}

// NewRetry wraps inner with retries.
func NewRetry[I, O any](inner flow.Primitive[I, O], cfg RetryConfig) (*Retry[I, O], error) {
	if inner == nil {
		return nil, apperrors.Configuration("retry requires a wrapped primitive")
	}
	cfg.applyDefaults()
	if err := validation.Validate(cfg); err != nil {
		return nil, err
	}
	return &Retry[I, O]{
		inner:     inner,
		cfg:       cfg,
		log:       logger.OrNop(cfg.Logger).WithComponent(cfg.Name),
		collector: observability.OrNop(cfg.Collector),
	}, nil
}

func (r *Retry[I, O]) Name() string { return r.cfg.Name }

// Config returns the effective configuration.
func (r *Retry[I, O]) Config() RetryConfig { return r.cfg }

func (r *Retry[I, O]) Execute(ctx context.Context, input I, ec *flow.ExecutionContext) (O, error) {
	out, _, err := r.ExecuteRecorded(ctx, input, ec)
	return out, err
}

// ExecuteRecorded is Execute plus the attempt record.
func (r *Retry[I, O]) ExecuteRecorded(ctx context.Context, input I, ec *flow.ExecutionContext) (O, RetryRecord, error) {
	return r.ExecuteWithPolicy(ctx, input, ec, r.cfg.RetryPolicy)
}

// ExecuteWithPolicy runs one execution under policy instead of the
// configured one.
func (r *Retry[I, O]) ExecuteWithPolicy(ctx context.Context, input I, ec *flow.ExecutionContext, policy RetryPolicy) (O, RetryRecord, error) {
	cfg := r.cfg
	cfg.RetryPolicy = policy.WithDefaults()
	log := r.log.WithExecution(ec)
	userOnRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Debug("retrying", logger.Fields(
			logger.FieldAttempt, attempt,
			"delay", delay.String(),
			logger.FieldError, err.Error(),
		))
		if userOnRetry != nil {
			userOnRetry(attempt, err, delay)
		}
	}

	ctx, end := r.collector.StartSpan(ctx, "flow.retry", observability.A(observability.AttrPrimitive, r.cfg.Name))
	out, rec, err := Do(ctx, cfg, func(ctx context.Context, _ int) (O, error) {
		return r.inner.Execute(ctx, input, ec)
	})
	end(err)

	r.record(ctx, rec, log)
	return out, rec, err
}

func (r *Retry[I, O]) record(ctx context.Context, rec RetryRecord, log *logger.Logger) {
	r.executions.Add(1)
	r.attempts.Add(int64(rec.Attempts))
	if rec.FirstTry() {
		r.firstTry.Add(1)
	}
	attr := observability.A(observability.AttrPrimitive, r.cfg.Name)
	r.collector.Count(ctx, observability.MetricRetryAttempts, int64(rec.Attempts), attr)
	if rec.Exhausted {
		r.exhausted.Add(1)
		r.collector.Count(ctx, observability.MetricRetryExhausted, 1, attr)
		log.Warn("retries exhausted", logger.Fields(
			logger.FieldAttempt, rec.Attempts,
			logger.FieldError, rec.LastErr.Error(),
		))
	}
}

// Stats returns a snapshot of the retry counters.
func (r *Retry[I, O]) Stats() RetryStats {
	return RetryStats{
		Executions:        r.executions.Load(),
		FirstTrySuccesses: r.firstTry.Load(),
		Attempts:          r.attempts.Load(),
		Exhausted:         r.exhausted.Load(),
	}
}
