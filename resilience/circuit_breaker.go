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

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows limited requests to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen matches (errors.Is) every CIRCUIT_OPEN rejection.
var ErrCircuitOpen error = &apperrors.AppError{Code: apperrors.ErrCodeCircuitOpen, Message: "circuit breaker is open"}

// CircuitBreakerConfig configures a circuit breaker.
//
// Two trip rules are supported. With FailureRateThreshold zero the breaker
// opens after MaxFailures consecutive failures. With FailureRateThreshold set
// it opens when the failure rate over the last WindowSize outcomes exceeds
// the threshold, once at least MinSamples outcomes were seen.
type CircuitBreakerConfig struct {
	// Name identifies this circuit breaker for metrics/logging.
	Name string
	// MaxFailures is the number of consecutive failures before opening.
	MaxFailures int
	// FailureRateThreshold in (0, 1] switches to failure-rate mode.
	FailureRateThreshold float64
	// MinSamples is the minimum window fill before the rate is evaluated.
	MinSamples int
	// WindowSize is the number of recent outcomes the rate is computed over.
	WindowSize int
	// Timeout is how long to wait before transitioning from open to half-open.
	Timeout time.Duration
	// HalfOpenMaxCalls is the number of calls allowed in half-open state.
	HalfOpenMaxCalls int
	// OnStateChange is called when state changes.
	OnStateChange func(name string, from, to State)
	// Now is the breaker clock.
	Now func() time.Time

	Logger    *logger.Logger
	Collector observability.Collector
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker fails fast while a dependency is unhealthy.
//
// States:
//   - Closed: Normal operation, requests pass through
//   - Open: Dependency is unhealthy, requests fail immediately
//   - Half-Open: Testing if it recovered, limited requests allowed
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu              sync.RWMutex
	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
	halfOpenCalls   int

	window     []bool
	windowNext int
	windowLen  int
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 1
	}
	if config.FailureRateThreshold > 0 {
		if config.WindowSize <= 0 {
			config.WindowSize = 20
		}
		if config.MinSamples <= 0 || config.MinSamples > config.WindowSize {
			config.MinSamples = config.WindowSize
		}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	cb := &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
	if config.FailureRateThreshold > 0 {
		cb.window = make([]bool, config.WindowSize)
	}
	return cb
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.config.Name }

// Execute runs fn through the breaker. Returns a CIRCUIT_OPEN error if the
// circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return apperrors.CircuitOpen(cb.config.Name)
	}
	err := fn()
	cb.Record(err)
	return err
}

// Allow reports whether a request may proceed, consuming a half-open slot
// when in half-open state. Every allowed request must be followed by Record.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.config.HalfOpenMaxCalls {
			cb.halfOpenCalls++
			return true
		}
		return false
	default:
		return false
	}
}

// Record reports the outcome of an allowed request.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.toState(StateClosed)
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenCalls = 0
	cb.clearWindow()
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// FailureRate returns the failure rate over the window (rate mode only).
func (cb *CircuitBreaker) FailureRate() float64 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.windowRate()
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.currentState() {
	case StateClosed:
		cb.failures = 0
		cb.push(false)
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.HalfOpenMaxCalls {
			cb.toState(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.lastFailureTime = cb.config.Now()

	switch cb.currentState() {
	case StateClosed:
		if cb.window != nil {
			cb.push(true)
			if cb.windowLen >= cb.config.MinSamples && cb.windowRate() > cb.config.FailureRateThreshold {
				cb.toState(StateOpen)
			}
			return
		}
		if cb.failures >= cb.config.MaxFailures {
			cb.toState(StateOpen)
		}
	case StateHalfOpen:
		cb.toState(StateOpen)
	}
}

func (cb *CircuitBreaker) push(failed bool) {
	if cb.window == nil {
		return
	}
	cb.window[cb.windowNext] = failed
	cb.windowNext = (cb.windowNext + 1) % len(cb.window)
	if cb.windowLen < len(cb.window) {
		cb.windowLen++
	}
}

func (cb *CircuitBreaker) windowRate() float64 {
	if cb.windowLen == 0 {
		return 0
	}
	failed := 0
	for i := 0; i < cb.windowLen; i++ {
		if cb.window[i] {
			failed++
		}
	}
	return float64(failed) / float64(cb.windowLen)
}

func (cb *CircuitBreaker) clearWindow() {
	clear(cb.window)
	cb.windowNext = 0
	cb.windowLen = 0
}

// currentState returns the current state, handling timeout transitions.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && cb.config.Now().Sub(cb.lastFailureTime) >= cb.config.Timeout {
		cb.toState(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) toState(to State) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to

	switch to {
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
		cb.halfOpenCalls = 0
		cb.clearWindow()
	case StateHalfOpen, StateOpen:
		cb.halfOpenCalls = 0
		cb.successes = 0
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

// Breaker guards a wrapped primitive with a CircuitBreaker.
type Breaker[I, O any] struct {
	inner     flow.Primitive[I, O]
	cb        *CircuitBreaker
	log       *logger.Logger
	collector observability.Collector
}

// NewBreaker wraps inner with a circuit breaker built from cfg.
func NewBreaker[I, O any](inner flow.Primitive[I, O], cfg CircuitBreakerConfig) (*Breaker[I, O], error) {
	if inner == nil {
		return nil, apperrors.Configuration("breaker requires a wrapped primitive")
	}
	if cfg.FailureRateThreshold < 0 || cfg.FailureRateThreshold > 1 {
		return nil, apperrors.Configuration("breaker failure rate threshold must be within [0, 1]")
	}
	if cfg.Name == "" {
		cfg.Name = inner.Name()
	}
	log := logger.OrNop(cfg.Logger).WithComponent(cfg.Name)
	userHook := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to State) {
		log.Warn("circuit state changed", logger.Fields("from", from.String(), "to", to.String()))
		if userHook != nil {
			userHook(name, from, to)
		}
	}
	return &Breaker[I, O]{
		inner:     inner,
		cb:        NewCircuitBreaker(cfg),
		log:       log,
		collector: observability.OrNop(cfg.Collector),
	}, nil
}

func (b *Breaker[I, O]) Name() string { return b.cb.Name() }

// CircuitBreaker exposes the underlying breaker.
func (b *Breaker[I, O]) CircuitBreaker() *CircuitBreaker { return b.cb }

func (b *Breaker[I, O]) Execute(ctx context.Context, input I, ec *flow.ExecutionContext) (O, error) {
	var zero O
	if !b.cb.Allow() {
		b.collector.Count(ctx, observability.MetricBreakerRejections, 1,
			observability.A(observability.AttrPrimitive, b.cb.Name()),
		)
		return zero, apperrors.CircuitOpen(b.cb.Name())
	}
	out, err := b.inner.Execute(ctx, input, ec)
	b.cb.Record(err)
	return out, err
}

// CheckHealth reports degraded while the circuit is not closed.
func (b *Breaker[I, O]) CheckHealth(context.Context) observability.Health {
	state := b.cb.State()
	h := observability.Health{
		Name:    b.cb.Name(),
		Status:  observability.HealthStatusUp,
		Details: map[string]string{"state": state.String()},
	}
	if state != StateClosed {
		h.Status = observability.HealthStatusDegraded
		h.Message = "circuit " + state.String()
	}
	return h
}
