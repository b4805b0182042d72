package adaptive

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kbukum/flowkit/flow"
	"github.com/kbukum/flowkit/resilience"
)

// AdaptiveCacheConfig configures an AdaptiveCache.
type AdaptiveCacheConfig[I any] struct {
	Options `yaml:",inline" mapstructure:",squash"`

	Name     string
	Baseline resilience.CachePolicy

	// Key and Store are passed through to the wrapped Cache.
	Key   resilience.KeyFunc[I]
	Store resilience.Store

	// MinSamples is the number of lookups since the last proposal needed
	// before proposing.
	MinSamples int
	// Materiality is the minimum relative TTL change worth proposing.
	Materiality float64
	// MinTTL and MaxTTL clamp proposals.
	MinTTL time.Duration
	MaxTTL time.Duration

	// ContextKey buckets both cache statistics and strategies. Defaults to
	// the environment.
	ContextKey func(ec *flow.ExecutionContext) string
}

func (c *AdaptiveCacheConfig[I]) applyDefaults() {
	c.Options = c.Options.WithDefaults()
	if c.Name == "" {
		c.Name = "adaptive_cache"
	}
	defaults := resilience.DefaultCachePolicy()
	if c.Baseline.TTL == 0 {
		c.Baseline.TTL = defaults.TTL
	}
	if c.Baseline.MaxEntries == 0 {
		c.Baseline.MaxEntries = defaults.MaxEntries
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 20
	}
	if c.Materiality <= 0 {
		c.Materiality = 0.2
	}
	if c.MinTTL <= 0 {
		c.MinTTL = time.Second
	}
	if c.MaxTTL <= 0 {
		c.MaxTTL = 24 * time.Hour
	}
	if c.ContextKey == nil {
		c.ContextKey = resilience.EnvironmentKey
	}
}

// AdaptiveCache is a Cache whose TTL is learned per context from hit rate
// and hit age.
type AdaptiveCache[I, O any] struct {
	cfg    AdaptiveCacheConfig[I]
	cache  *resilience.Cache[I, O]
	engine *Engine[resilience.CachePolicy]

	mu    sync.Mutex
	marks map[string]resilience.CacheStats
}

// NewAdaptiveCache wraps inner.
func NewAdaptiveCache[I, O any](inner flow.Primitive[I, O], cfg AdaptiveCacheConfig[I]) (*AdaptiveCache[I, O], error) {
	cfg.applyDefaults()
	c, err := resilience.NewCache(inner, resilience.CacheConfig[I]{
		CachePolicy: cfg.Baseline,
		Name:        cfg.Name,
		Key:         cfg.Key,
		ContextKey:  cfg.ContextKey,
		Store:       cfg.Store,
		Now:         cfg.Now,
		Logger:      cfg.Logger,
		Collector:   cfg.Collector,
	})
	if err != nil {
		return nil, err
	}

	a := &AdaptiveCache[I, O]{
		cfg:   cfg,
		cache: c,
		marks: make(map[string]resilience.CacheStats),
	}
	a.engine, err = NewEngine(EngineConfig[resilience.CachePolicy]{
		Options:  cfg.Options,
		Name:     cfg.Name,
		Kind:     "cache",
		Baseline: cfg.Baseline,
	}, a)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *AdaptiveCache[I, O]) Name() string { return a.cfg.Name }

// Engine exposes the strategy engine.
func (a *AdaptiveCache[I, O]) Engine() *Engine[resilience.CachePolicy] { return a.engine }

// Stats aggregates the wrapped cache's statistics.
func (a *AdaptiveCache[I, O]) Stats() resilience.CacheStats { return a.cache.Stats() }

// StatsFor returns the wrapped cache's statistics for one context.
func (a *AdaptiveCache[I, O]) StatsFor(contextKey string) resilience.CacheStats {
	return a.cache.StatsFor(contextKey)
}

func (a *AdaptiveCache[I, O]) Execute(ctx context.Context, input I, ec *flow.ExecutionContext) (O, error) {
	sel := a.engine.Select(ctx, a.cfg.ContextKey(ec))
	out, _, err := a.cache.ExecuteWithPolicy(ctx, input, ec, sel.Params())
	a.engine.Complete(ctx, sel, err)
	return out, err
}

// Propose compares the average hit age with the current TTL over the lookups
// since the previous proposal:
//   - hit rate below 10%: halve the TTL
//   - hit rate of 70% or more with hits in the first 30% of the TTL: shrink
//     towards twice the average hit age
//   - hit rate between 30% and 70% with hits in the last 30% of the TTL: grow
//     the TTL by half
func (a *AdaptiveCache[I, O]) Propose(contextKey string, current *Strategy[resilience.CachePolicy]) (Proposal[resilience.CachePolicy], bool) {
	st := a.cache.StatsFor(contextKey)
	a.mu.Lock()
	mark := a.marks[contextKey]
	a.mu.Unlock()

	hits := st.Hits - mark.Hits
	lookups := hits + st.Misses - mark.Misses
	if lookups < int64(a.cfg.MinSamples) {
		return Proposal[resilience.CachePolicy]{}, false
	}
	hitRate := float64(hits) / float64(lookups)
	var avgAge time.Duration
	if hits > 0 {
		avgAge = (st.TotalHitAge - mark.TotalHitAge) / time.Duration(hits)
	}

	ttl := current.Params.TTL
	ratio := float64(avgAge) / float64(ttl)
	var next time.Duration
	var reason string
	switch {
	case hitRate < 0.1:
		next = ttl / 2
		reason = "very low hit rate"
	case hitRate >= 0.7 && ratio < 0.3:
		next = max(2*avgAge, ttl/2)
		reason = "hits arrive early"
	case hitRate >= 0.3 && hitRate < 0.7 && ratio > 0.7:
		next = ttl + ttl/2
		reason = "hits cluster near expiry"
	default:
		return Proposal[resilience.CachePolicy]{}, false
	}
	next = min(max(next, a.cfg.MinTTL), a.cfg.MaxTTL)
	if math.Abs(float64(next-ttl))/float64(ttl) < a.cfg.Materiality {
		return Proposal[resilience.CachePolicy]{}, false
	}

	a.mu.Lock()
	a.marks[contextKey] = st
	a.mu.Unlock()

	return Proposal[resilience.CachePolicy]{
		Description: fmt.Sprintf("%s: ttl %v -> %v (hit rate %.0f%%, avg hit age %v)", reason, ttl, next, hitRate*100, avgAge),
		Params:      resilience.CachePolicy{TTL: next, MaxEntries: current.Params.MaxEntries},
	}, true
}
