package resilience

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/flow"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
)

// ErrRateLimited matches (errors.Is) every RATE_LIMITED rejection.
var ErrRateLimited error = &apperrors.AppError{Code: apperrors.ErrCodeRateLimited, Message: "rate limit exceeded"}

// RateLimiterConfig configures a rate limiter.
type RateLimiterConfig struct {
	// Name identifies this rate limiter for metrics/logging.
	Name string
	// Rate is the number of requests allowed per second.
	Rate float64
	// Burst is the maximum burst size.
	Burst int
	// Wait makes RateLimited block for a token instead of rejecting.
	Wait bool
	// OnLimit is called when a request is rate limited.
	OnLimit func(name string)
	// Now is the limiter clock.
	Now func() time.Time

	Logger    *logger.Logger
	Collector observability.Collector
}

// DefaultRateLimiterConfig returns sensible defaults.
func DefaultRateLimiterConfig(name string) RateLimiterConfig {
	return RateLimiterConfig{
		Name:  name,
		Rate:  10.0,
		Burst: 20,
	}
}

// RateLimiter is a token bucket.
type RateLimiter struct {
	config RateLimiterConfig

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 10.0
	}
	if config.Burst <= 0 {
		config.Burst = max(int(config.Rate), 1)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &RateLimiter{
		config:     config,
		tokens:     float64(config.Burst),
		lastRefill: config.Now(),
	}
}

// Allow takes a token without blocking.
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN takes n tokens without blocking.
func (rl *RateLimiter) AllowN(n int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= float64(n) {
		rl.tokens -= float64(n)
		return true
	}
	if rl.config.OnLimit != nil {
		rl.config.OnLimit(rl.config.Name)
	}
	return false
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl.AllowN(1) {
		return nil
	}
	return SleepContext(ctx, rl.reserve(1))
}

func (rl *RateLimiter) refill() {
	now := rl.config.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.lastRefill = now

	rl.tokens += elapsed * rl.config.Rate
	if rl.tokens > float64(rl.config.Burst) {
		rl.tokens = float64(rl.config.Burst)
	}
}

// reserve takes n tokens, possibly going negative, and returns the wait.
func (rl *RateLimiter) reserve(n int) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= float64(n) {
		rl.tokens -= float64(n)
		return 0
	}
	needed := float64(n) - rl.tokens
	rl.tokens -= float64(n)
	return time.Duration(needed / rl.config.Rate * float64(time.Second))
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// RateLimited runs a wrapped primitive under a token bucket.
type RateLimited[I, O any] struct {
	inner     flow.Primitive[I, O]
	rl        *RateLimiter
	log       *logger.Logger
	collector observability.Collector
}

// NewRateLimited wraps inner with a rate limit.
func NewRateLimited[I, O any](inner flow.Primitive[I, O], cfg RateLimiterConfig) (*RateLimited[I, O], error) {
	if inner == nil {
		return nil, apperrors.Configuration("rate limiter requires a wrapped primitive")
	}
	if cfg.Rate < 0 || cfg.Burst < 0 {
		return nil, apperrors.Configuration("rate limiter rate and burst must not be negative")
	}
	if cfg.Name == "" {
		cfg.Name = inner.Name()
	}
	return &RateLimited[I, O]{
		inner:     inner,
		rl:        NewRateLimiter(cfg),
		log:       logger.OrNop(cfg.Logger).WithComponent(cfg.Name),
		collector: observability.OrNop(cfg.Collector),
	}, nil
}

func (r *RateLimited[I, O]) Name() string { return r.rl.config.Name }

// Limiter exposes the underlying token bucket.
func (r *RateLimited[I, O]) Limiter() *RateLimiter { return r.rl }

func (r *RateLimited[I, O]) Execute(ctx context.Context, input I, ec *flow.ExecutionContext) (O, error) {
	var zero O
	if r.rl.config.Wait {
		if err := r.rl.Wait(ctx); err != nil {
			return zero, err
		}
	} else if !r.rl.Allow() {
		r.log.WithExecution(ec).Debug("rate limited")
		r.collector.Count(ctx, observability.MetricRateLimited, 1,
			observability.A(observability.AttrPrimitive, r.rl.config.Name),
		)
		return zero, apperrors.RateLimited(r.rl.config.Name)
	}
	return r.inner.Execute(ctx, input, ec)
}
