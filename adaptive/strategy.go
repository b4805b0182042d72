package adaptive

import (
	"encoding/json"
	"path"
	"strings"
	"time"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
	"github.com/kbukum/flowkit/resilience"
)

// BaselinePattern matches every context key.
const BaselinePattern = "*"

// Strategy is a named parameter set scoped to a context pattern. Params are
// immutable; only the attached metrics change.
type Strategy[P any] struct {
	Name        string
	Description string
	// Pattern is an exact context key or a path.Match wildcard.
	Pattern   string
	Params    P
	Baseline  bool
	CreatedAt time.Time

	metrics *StrategyMetrics
	breaker *resilience.CircuitBreaker
	// probation is the number of executions left before promotion.
	probation int
	// parent is the strategy a probation candidate is measured against. It is
	// replaced on promotion only when it has the same pattern.
	parent *Strategy[P]
}

// Metrics returns a snapshot of the strategy's metrics.
func (s *Strategy[P]) Metrics() MetricsSnapshot { return s.metrics.Snapshot() }

// matches reports whether the strategy applies to key, and how specific the
// match is. Exact matches rank above every wildcard.
func (s *Strategy[P]) matches(key string) (int, bool) {
	if s.Pattern == key {
		return len(key) + 1<<16, true
	}
	if !strings.ContainsAny(s.Pattern, "*?[") {
		return 0, false
	}
	ok, err := path.Match(s.Pattern, key)
	if err != nil || !ok {
		return 0, false
	}
	return len(s.Pattern) - strings.Count(s.Pattern, "*") - strings.Count(s.Pattern, "?"), true
}

// StrategyInfo is a read-only view of a pooled strategy.
type StrategyInfo[P any] struct {
	Name        string
	Description string
	Pattern     string
	Params      P
	Baseline    bool
	Probation   int
	Breaker     string
	CreatedAt   time.Time
	Metrics     MetricsSnapshot
}

// Proposal is a learner's suggestion for a context.
type Proposal[P any] struct {
	// Name is assigned by the engine when empty.
	Name        string
	Description string
	// Pattern defaults to ContextKey.
	Pattern    string
	ContextKey string
	Params     P
	ProposedAt time.Time
}

// Learner turns execution metrics into strategy proposals. current is the
// strategy that served the latest execution for contextKey.
type Learner[P any] interface {
	Propose(contextKey string, current *Strategy[P]) (Proposal[P], bool)
}

// LearnerFunc adapts a function to Learner.
type LearnerFunc[P any] func(contextKey string, current *Strategy[P]) (Proposal[P], bool)

func (f LearnerFunc[P]) Propose(contextKey string, current *Strategy[P]) (Proposal[P], bool) {
	return f(contextKey, current)
}

// Options are the engine settings shared by every adaptive primitive.
type Options struct {
	Mode Mode `yaml:"mode" json:"mode" mapstructure:"mode"`
	// MaxStrategies bounds the pool, baseline included.
	MaxStrategies int `yaml:"max_strategies" json:"max_strategies" mapstructure:"max_strategies" validate:"gte=1"`
	// ValidationWindow is the probation length in Validate mode.
	ValidationWindow int `yaml:"validation_window" json:"validation_window" mapstructure:"validation_window" validate:"gte=1"`
	// BreakerThreshold is the rolling failure rate that forces the baseline.
	BreakerThreshold float64 `yaml:"breaker_threshold" json:"breaker_threshold" mapstructure:"breaker_threshold" validate:"gt=0,lte=1"`
	// BreakerMinSamples is the window fill required before the breaker can trip.
	BreakerMinSamples int `yaml:"breaker_min_samples" json:"breaker_min_samples" mapstructure:"breaker_min_samples" validate:"gte=1"`
	// BreakerWindow is the number of recent outcomes the failure rate covers.
	BreakerWindow int `yaml:"breaker_window" json:"breaker_window" mapstructure:"breaker_window" validate:"gte=1"`
	// BreakerCooldown is how long a tripped strategy stays bypassed before a trial call.
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" json:"breaker_cooldown" mapstructure:"breaker_cooldown" validate:"gt=0"`
	// LearnCooldown is the minimum time between proposals for one context key.
	LearnCooldown time.Duration `yaml:"learn_cooldown" json:"learn_cooldown" mapstructure:"learn_cooldown" validate:"gte=0"`
	// ValidationTolerance is how much lower than its parent's success rate a
	// probation strategy may score and still be promoted.
	ValidationTolerance float64 `yaml:"validation_tolerance" json:"validation_tolerance" mapstructure:"validation_tolerance" validate:"gte=0,lte=1"`

	// Sink receives proposals, promotions and retirements. Optional.
	Sink Sink `yaml:"-" json:"-" mapstructure:"-"`
	// Now is the engine clock.
	Now func() time.Time `yaml:"-" json:"-" mapstructure:"-"`

	Logger    *logger.Logger         `yaml:"-" json:"-" mapstructure:"-"`
	Collector observability.Collector `yaml:"-" json:"-" mapstructure:"-"`
}

// DefaultOptions returns Observe mode with a pool of ten strategies.
func DefaultOptions() Options {
	return Options{
		Mode:                Observe,
		MaxStrategies:       10,
		ValidationWindow:    20,
		BreakerThreshold:    0.5,
		BreakerMinSamples:   10,
		BreakerWindow:       20,
		BreakerCooldown:     time.Minute,
		LearnCooldown:       time.Minute,
		ValidationTolerance: 0.05,
	}
}

// WithDefaults fills zero-valued fields; Mode and LearnCooldown are kept as given.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.MaxStrategies == 0 {
		o.MaxStrategies = d.MaxStrategies
	}
	if o.ValidationWindow == 0 {
		o.ValidationWindow = d.ValidationWindow
	}
	if o.BreakerThreshold == 0 {
		o.BreakerThreshold = d.BreakerThreshold
	}
	if o.BreakerMinSamples == 0 {
		o.BreakerMinSamples = d.BreakerMinSamples
	}
	if o.BreakerWindow == 0 {
		o.BreakerWindow = d.BreakerWindow
	}
	if o.BreakerCooldown == 0 {
		o.BreakerCooldown = d.BreakerCooldown
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func encodeParams[P any](p P) (map[string]any, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeParams[P any](m map[string]any) (P, error) {
	var p P
	b, err := json.Marshal(m)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, apperrors.Configurationf("strategy params: %v", err)
	}
	return p, nil
}
