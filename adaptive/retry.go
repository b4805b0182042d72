package adaptive

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kbukum/flowkit/flow"
	"github.com/kbukum/flowkit/resilience"
)

// StateLastErrorClass holds the ErrorClass of the latest failed retry in a run.
const StateLastErrorClass = "retry_last_error_class"

// Time sensitivity values read from flow.MetaTimeSensitivity.
const (
	SensitivityHigh   = "high"
	SensitivityNormal = "normal"
	SensitivityLow    = "low"
)

// RetryContextKey is environment:priority:time_sensitivity:error_class. The
// error class comes from the error_hint metadata, else from the class of the
// last failure recorded in the run.
func RetryContextKey(ec *flow.ExecutionContext) string {
	class := ec.Meta(flow.MetaErrorHint)
	if class == "" {
		if v, ok := ec.Get(StateLastErrorClass); ok {
			class, _ = v.(string)
		}
	}
	return strings.Join([]string{
		resilience.EnvironmentKey(ec),
		metaOr(ec, flow.MetaPriority, "normal"),
		metaOr(ec, flow.MetaTimeSensitivity, SensitivityNormal),
		orDefault(class, string(ErrorClassNone)),
	}, ":")
}

func metaOr(ec *flow.ExecutionContext, key, def string) string {
	return orDefault(ec.Meta(key), def)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// retryKeyParts splits a RetryContextKey; missing parts are empty.
func retryKeyParts(key string) (sensitivity string, class ErrorClass) {
	parts := strings.Split(key, ":")
	if len(parts) == 4 {
		return parts[2], ErrorClass(parts[3])
	}
	return "", ""
}

// RetryPresets are the starting policies synthesized for contexts whose
// error class is known.
var RetryPresets = map[ErrorClass]resilience.RetryPolicy{
	ErrorClassTimeout: {
		MaxRetries: 2, InitialDelay: 2 * time.Second, Backoff: 2, MaxDelay: 30 * time.Second,
		Jitter: true, JitterFraction: 0.2,
	},
	ErrorClassConnection: {
		MaxRetries: 5, InitialDelay: 500 * time.Millisecond, Backoff: 2, MaxDelay: 30 * time.Second,
		Jitter: true, JitterFraction: 0.2,
	},
	ErrorClassHTTP: {
		MaxRetries: 3, InitialDelay: time.Second, Backoff: 2, MaxDelay: 30 * time.Second,
		Jitter: true, JitterFraction: 0.1,
	},
	ErrorClassRateLimit: {
		MaxRetries: 4, InitialDelay: 2 * time.Second, Backoff: 3, MaxDelay: 60 * time.Second,
		Jitter: true, JitterFraction: 0.3,
	},
}

// AdaptiveRetryConfig configures an AdaptiveRetry.
type AdaptiveRetryConfig struct {
	Options `yaml:",inline" mapstructure:",squash"`

	Name     string
	Baseline resilience.RetryPolicy

	// RetryIf, Sleep and Rand are passed through to the wrapped Retry.
	RetryIf func(error) bool
	Sleep   func(ctx context.Context, d time.Duration) error
	Rand    func() float64

	// MinSamples is the number of executions needed before proposing.
	MinSamples int
	// MaxRetriesCap bounds learned MaxRetries.
	MaxRetriesCap int
	// HighFirstTryRate triggers a reduction in attempts and delay.
	HighFirstTryRate float64
	// HighExhaustionRate triggers more attempts with softer backoff.
	HighExhaustionRate float64

	// ContextKey defaults to RetryContextKey.
	ContextKey func(ec *flow.ExecutionContext) string
}

func (c *AdaptiveRetryConfig) applyDefaults() {
	c.Options = c.Options.WithDefaults()
	if c.Name == "" {
		c.Name = "adaptive_retry"
	}
	if c.Baseline == (resilience.RetryPolicy{}) {
		c.Baseline = resilience.DefaultRetryPolicy()
	}
	c.Baseline = c.Baseline.WithDefaults()
	if c.MinSamples <= 0 {
		c.MinSamples = 20
	}
	if c.MaxRetriesCap <= 0 {
		c.MaxRetriesCap = 10
	}
	if c.HighFirstTryRate <= 0 {
		c.HighFirstTryRate = 0.95
	}
	if c.HighExhaustionRate <= 0 {
		c.HighExhaustionRate = 0.2
	}
	if c.ContextKey == nil {
		c.ContextKey = RetryContextKey
	}
}

type retryContext struct {
	executions int64
	firstTry   int64
	exhausted  int64
	attempts   int64
}

// AdaptiveRetry is a Retry whose policy is learned per
// environment × priority × time sensitivity × error class.
type AdaptiveRetry[I, O any] struct {
	cfg    AdaptiveRetryConfig
	retry  *resilience.Retry[I, O]
	engine *Engine[resilience.RetryPolicy]

	mu       sync.Mutex
	contexts map[string]*retryContext
}

// NewAdaptiveRetry wraps inner.
func NewAdaptiveRetry[I, O any](inner flow.Primitive[I, O], cfg AdaptiveRetryConfig) (*AdaptiveRetry[I, O], error) {
	cfg.applyDefaults()
	r, err := resilience.NewRetry(inner, resilience.RetryConfig{
		RetryPolicy: cfg.Baseline,
		Name:        cfg.Name,
		RetryIf:     cfg.RetryIf,
		Sleep:       cfg.Sleep,
		Rand:        cfg.Rand,
		Logger:      cfg.Logger,
		Collector:   cfg.Collector,
	})
	if err != nil {
		return nil, err
	}

	a := &AdaptiveRetry[I, O]{
		cfg:      cfg,
		retry:    r,
		contexts: make(map[string]*retryContext),
	}
	a.engine, err = NewEngine(EngineConfig[resilience.RetryPolicy]{
		Options:  cfg.Options,
		Name:     cfg.Name,
		Kind:     "retry",
		Baseline: cfg.Baseline,
	}, a)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *AdaptiveRetry[I, O]) Name() string { return a.cfg.Name }

// Engine exposes the strategy engine.
func (a *AdaptiveRetry[I, O]) Engine() *Engine[resilience.RetryPolicy] { return a.engine }

// Stats returns the wrapped Retry's counters.
func (a *AdaptiveRetry[I, O]) Stats() resilience.RetryStats { return a.retry.Stats() }

func (a *AdaptiveRetry[I, O]) Execute(ctx context.Context, input I, ec *flow.ExecutionContext) (O, error) {
	key := a.cfg.ContextKey(ec)
	sel := a.engine.Select(ctx, key)

	out, rec, err := a.retry.ExecuteWithPolicy(ctx, input, ec, sel.Params())
	a.observe(key, rec)
	if rec.LastErr != nil {
		ec.Set(StateLastErrorClass, string(ClassifyError(rec.LastErr)))
	}
	a.engine.Complete(ctx, sel, err)
	return out, err
}

func (a *AdaptiveRetry[I, O]) observe(key string, rec resilience.RetryRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rc, ok := a.contexts[key]
	if !ok {
		rc = &retryContext{}
		a.contexts[key] = rc
	}
	rc.executions++
	rc.attempts += int64(rec.Attempts)
	if rec.FirstTry() {
		rc.firstTry++
	}
	if rec.Exhausted {
		rc.exhausted++
	}
}

// Propose adjusts the current policy from the execution record of
// contextKey since the previous proposal:
//   - a learned context still on the baseline gets its error-class preset
//   - high first-try success removes an attempt and halves the initial delay
//   - high exhaustion adds an attempt and softens the backoff
//
// Time-sensitive contexts are then capped to short, shallow policies.
func (a *AdaptiveRetry[I, O]) Propose(contextKey string, current *Strategy[resilience.RetryPolicy]) (Proposal[resilience.RetryPolicy], bool) {
	a.mu.Lock()
	rc := a.contexts[contextKey]
	var st retryContext
	if rc != nil {
		st = *rc
	}
	a.mu.Unlock()

	if st.executions < int64(a.cfg.MinSamples) {
		return Proposal[resilience.RetryPolicy]{}, false
	}
	firstTryRate := float64(st.firstTry) / float64(st.executions)
	exhaustionRate := float64(st.exhausted) / float64(st.executions)
	sensitivity, class := retryKeyParts(contextKey)

	cur := current.Params
	next := cur
	var reason string
	preset, hasPreset := RetryPresets[class]
	switch {
	case current.Baseline && hasPreset:
		next = preset
		reason = string(class) + " preset"
	case firstTryRate >= a.cfg.HighFirstTryRate && cur.MaxRetries > 1:
		next.MaxRetries--
		next.InitialDelay /= 2
		reason = fmt.Sprintf("first-try success %.0f%%", firstTryRate*100)
	case exhaustionRate >= a.cfg.HighExhaustionRate && cur.MaxRetries < a.cfg.MaxRetriesCap:
		next.MaxRetries++
		next.Backoff = max(1.2, cur.Backoff*0.8)
		reason = fmt.Sprintf("exhaustion %.0f%%", exhaustionRate*100)
	}
	if sensitivity == SensitivityHigh {
		next = tightenForLatency(next)
		if reason == "" {
			reason = "time-sensitive"
		} else {
			reason += ", time-sensitive"
		}
	}
	next.MaxDelay = max(next.MaxDelay, next.InitialDelay)

	if next == cur {
		return Proposal[resilience.RetryPolicy]{}, false
	}

	a.mu.Lock()
	if rc != nil {
		*rc = retryContext{}
	}
	a.mu.Unlock()

	return Proposal[resilience.RetryPolicy]{
		Description: fmt.Sprintf("%s: %d retries from %v x%.2f", reason, next.MaxRetries, next.InitialDelay, next.Backoff),
		Params:      next,
	}, true
}

// tightenForLatency caps a policy for contexts that cannot wait long.
func tightenForLatency(p resilience.RetryPolicy) resilience.RetryPolicy {
	p.MaxRetries = min(p.MaxRetries, 2)
	p.InitialDelay = min(p.InitialDelay, 500*time.Millisecond)
	p.Backoff = min(p.Backoff, 1.5)
	p.MaxDelay = min(p.MaxDelay, 5*time.Second)
	return p
}
