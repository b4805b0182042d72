package adaptive

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/flow"
	"github.com/kbukum/flowkit/resilience"
)

// TimeoutParams are the parameters of a timeout strategy.
type TimeoutParams struct {
	Timeout time.Duration `json:"timeout" yaml:"timeout" validate:"gt=0"`
	// TargetPercentile is the latency percentile the timeout was derived from.
	TargetPercentile float64 `json:"target_percentile" yaml:"target_percentile" validate:"gte=0,lte=100"`
	// BufferFactor is the multiplier applied to the percentile latency.
	BufferFactor float64 `json:"buffer_factor" yaml:"buffer_factor" validate:"gte=0"`
}

// AdaptiveTimeoutConfig configures an AdaptiveTimeout.
type AdaptiveTimeoutConfig struct {
	Options `yaml:",inline" mapstructure:",squash"`

	Name string
	// Baseline is the timeout of the baseline strategy.
	Baseline time.Duration
	// Grace is passed through to the wrapped Timeout.
	Grace time.Duration

	// MinSamples is the number of latency samples needed before proposing.
	MinSamples int
	// SampleWindow bounds the latency samples kept per context.
	SampleWindow int
	// Materiality is the minimum relative change worth proposing.
	Materiality float64
	// MinTimeout and MaxTimeout clamp proposals. MaxTimeout defaults to ten
	// times the baseline.
	MinTimeout time.Duration
	MaxTimeout time.Duration

	// ContextKey maps an execution to its context. Defaults to the environment.
	ContextKey func(ec *flow.ExecutionContext) string
}

func (c *AdaptiveTimeoutConfig) applyDefaults() {
	c.Options = c.Options.WithDefaults()
	if c.Name == "" {
		c.Name = "adaptive_timeout"
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 50
	}
	if c.SampleWindow <= 0 {
		c.SampleWindow = 1000
	}
	c.SampleWindow = max(c.SampleWindow, c.MinSamples)
	if c.Materiality <= 0 {
		c.Materiality = 0.15
	}
	if c.MinTimeout <= 0 {
		c.MinTimeout = 10 * time.Millisecond
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = 10 * c.Baseline
	}
	if c.ContextKey == nil {
		c.ContextKey = resilience.EnvironmentKey
	}
}

type timeoutContext struct {
	samples    *sampleWindow
	executions int64
	timeouts   int64
}

// AdaptiveTimeout is a Timeout whose deadline is learned per environment from
// observed latency percentiles.
type AdaptiveTimeout[I, O any] struct {
	cfg     AdaptiveTimeoutConfig
	timeout *resilience.Timeout[I, O]
	engine  *Engine[TimeoutParams]

	mu       sync.Mutex
	contexts map[string]*timeoutContext
}

// NewAdaptiveTimeout wraps inner. fallback may be nil.
func NewAdaptiveTimeout[I, O any](inner flow.Primitive[I, O], cfg AdaptiveTimeoutConfig, fallback flow.Primitive[I, O]) (*AdaptiveTimeout[I, O], error) {
	cfg.applyDefaults()
	to, err := resilience.NewTimeout(inner, resilience.TimeoutConfig{
		Name:      cfg.Name,
		Timeout:   cfg.Baseline,
		Grace:     cfg.Grace,
		Logger:    cfg.Logger,
		Collector: cfg.Collector,
	}, fallback)
	if err != nil {
		return nil, err
	}

	a := &AdaptiveTimeout[I, O]{
		cfg:      cfg,
		timeout:  to,
		contexts: make(map[string]*timeoutContext),
	}
	a.engine, err = NewEngine(EngineConfig[TimeoutParams]{
		Options:             cfg.Options,
		Name:                cfg.Name,
		Kind:                "timeout",
		Baseline:            TimeoutParams{Timeout: cfg.Baseline},
		BaselineDescription: fmt.Sprintf("fixed %v timeout", cfg.Baseline),
	}, a)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *AdaptiveTimeout[I, O]) Name() string { return a.cfg.Name }

// Engine exposes the strategy engine.
func (a *AdaptiveTimeout[I, O]) Engine() *Engine[TimeoutParams] { return a.engine }

// Stats returns the wrapped Timeout's counters.
func (a *AdaptiveTimeout[I, O]) Stats() resilience.TimeoutStats { return a.timeout.Stats() }

func (a *AdaptiveTimeout[I, O]) Execute(ctx context.Context, input I, ec *flow.ExecutionContext) (O, error) {
	key := a.cfg.ContextKey(ec)
	sel := a.engine.Select(ctx, key)
	timeout := sel.Params().Timeout

	start := a.cfg.Now()
	out, rec, err := a.timeout.ExecuteWith(ctx, input, ec, timeout)
	a.observe(key, a.cfg.Now().Sub(start), rec.TimedOut)

	outcome := err
	if rec.TimedOut && outcome == nil {
		outcome = apperrors.TimeoutExceeded(a.cfg.Name, timeout)
	}
	a.engine.Complete(ctx, sel, outcome)
	return out, err
}

func (a *AdaptiveTimeout[I, O]) observe(key string, elapsed time.Duration, timedOut bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tc, ok := a.contexts[key]
	if !ok {
		tc = &timeoutContext{samples: newSampleWindow(a.cfg.SampleWindow)}
		a.contexts[key] = tc
	}
	tc.executions++
	if timedOut {
		tc.timeouts++
		return
	}
	tc.samples.add(elapsed)
}

// Latency returns the latency percentiles observed for contextKey.
func (a *AdaptiveTimeout[I, O]) Latency(contextKey string) LatencySummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	tc, ok := a.contexts[contextKey]
	if !ok {
		return LatencySummary{}
	}
	return Summarize(tc.samples.values())
}

// escalation picks the target percentile and buffer for an observed timeout rate.
func escalation(timeoutRate float64) (percentile, buffer float64) {
	switch {
	case timeoutRate < 0.01:
		return 95, 1.2
	case timeoutRate < 0.05:
		return 95, 1.5
	case timeoutRate < 0.10:
		return 99, 1.5
	default:
		return 99, 2.0
	}
}

// Propose sets timeout = percentile latency × buffer, escalating both as the
// observed timeout rate rises.
func (a *AdaptiveTimeout[I, O]) Propose(contextKey string, current *Strategy[TimeoutParams]) (Proposal[TimeoutParams], bool) {
	a.mu.Lock()
	tc, ok := a.contexts[contextKey]
	var samples []time.Duration
	var rate float64
	if ok {
		samples = tc.samples.values()
		rate = float64(tc.timeouts) / float64(tc.executions)
	}
	a.mu.Unlock()

	if len(samples) < a.cfg.MinSamples {
		return Proposal[TimeoutParams]{}, false
	}

	pct, buffer := escalation(rate)
	sum := Summarize(samples)
	target := sum.P95
	if pct == 99 {
		target = sum.P99
	}
	proposed := time.Duration(float64(target) * buffer)
	proposed = min(max(proposed, a.cfg.MinTimeout), a.cfg.MaxTimeout)

	cur := current.Params.Timeout
	if cur > 0 && math.Abs(float64(proposed-cur))/float64(cur) < a.cfg.Materiality {
		return Proposal[TimeoutParams]{}, false
	}
	return Proposal[TimeoutParams]{
		Description: fmt.Sprintf("p%.0f %v x%.1f at %.1f%% timeouts (p50 %v)", pct, target, buffer, rate*100, sum.P50),
		Params:      TimeoutParams{Timeout: proposed, TargetPercentile: pct, BufferFactor: buffer},
	}, true
}
