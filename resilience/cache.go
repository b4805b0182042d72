package resilience

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/flow"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
	"github.com/kbukum/flowkit/validation"
)

// CachePolicy holds the parameters adaptive caching learns per context.
type CachePolicy struct {
	TTL        time.Duration `yaml:"ttl" json:"ttl" mapstructure:"ttl" validate:"gt=0"`
	MaxEntries int           `yaml:"max_entries" json:"max_entries" mapstructure:"max_entries" validate:"gt=0"`
}

// DefaultCachePolicy returns a one hour TTL with 1000 entries.
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{TTL: time.Hour, MaxEntries: 1000}
}

// KeyFunc derives a cache key from input and context.
type KeyFunc[I any] func(input I, ec *flow.ExecutionContext) (string, error)

// CacheConfig configures a Cache primitive.
type CacheConfig[I any] struct {
	CachePolicy `yaml:",inline" mapstructure:",squash"`

	Name string
	// Key derives the entry key. Defaults to HashKey.
	Key KeyFunc[I]
	// ContextKey buckets statistics. Defaults to the environment metadata.
	ContextKey func(ec *flow.ExecutionContext) string
	// Store is an optional durable tier consulted on in-memory misses.
	Store Store
	// Now is the clock used for entry ages.
	Now func() time.Time

	Logger    *logger.Logger
	Collector observability.Collector
}

// HashKey is the default KeyFunc: sha256 over the environment tag and the
// JSON encoding of input (its %v form when it cannot be encoded).
func HashKey[I any](input I, ec *flow.ExecutionContext) (string, error) {
	h := sha256.New()
	h.Write([]byte(EnvironmentKey(ec)))
	h.Write([]byte(":"))
	if b, err := json.Marshal(input); err == nil {
		h.Write(b)
	} else {
		fmt.Fprintf(h, "%v", input)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// EnvironmentKey returns the environment metadata tag or "default".
func EnvironmentKey(ec *flow.ExecutionContext) string {
	if env := ec.Meta(flow.MetaEnvironment); env != "" {
		return env
	}
	return "default"
}

// CacheRecord describes one cache lookup.
type CacheRecord struct {
	Key        string
	ContextKey string
	Hit        bool
	// Age is the entry age on a hit.
	Age time.Duration
	// Latency is the wrapped call's duration on a miss.
	Latency time.Duration
}

// CacheStats are hit/miss counters for one context key, or all of them.
type CacheStats struct {
	Hits         int64
	Misses       int64
	Entries      int
	TotalHitAge  time.Duration
	SavedLatency time.Duration

	missLatency time.Duration
	missCount   int64
}

// HitRate is hits / (hits + misses).
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// AvgHitAge is the mean entry age at hit time.
func (s CacheStats) AvgHitAge() time.Duration {
	if s.Hits == 0 {
		return 0
	}
	return s.TotalHitAge / time.Duration(s.Hits)
}

// SavedCalls is the number of wrapped calls avoided.
func (s CacheStats) SavedCalls() int64 { return s.Hits }

func (s CacheStats) avgMissLatency() time.Duration {
	if s.missCount == 0 {
		return 0
	}
	return s.missLatency / time.Duration(s.missCount)
}

type cacheEntry[O any] struct {
	value      O
	writtenAt  time.Time
	contextKey string
}

// storedEntry is the envelope written to the durable Store.
type storedEntry struct {
	Value      json.RawMessage `json:"value"`
	WrittenAt  time.Time       `json:"written_at"`
	ContextKey string          `json:"context_key"`
}

// Cache memoizes a wrapped primitive. Entry age is always compared against
// the TTL of the policy in force for the current call, not the one at write
// time. Failed calls are not cached.
type Cache[I, O any] struct {
	inner     flow.Primitive[I, O]
	cfg       CacheConfig[I]
	log       *logger.Logger
	collector observability.Collector

	mu      sync.Mutex
	entries map[string]*cacheEntry[O]
	stats   map[string]*CacheStats
}

// NewCache wraps inner with a cache.
func NewCache[I, O any](inner flow.Primitive[I, O], cfg CacheConfig[I]) (*Cache[I, O], error) {
	if inner == nil {
		return nil, apperrors.Configuration("cache requires a wrapped primitive")
	}
	defaults := DefaultCachePolicy()
	if cfg.TTL == 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = defaults.MaxEntries
	}
	if err := validation.Validate(cfg.CachePolicy); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "cache"
	}
	if cfg.Key == nil {
		cfg.Key = HashKey[I]
	}
	if cfg.ContextKey == nil {
		cfg.ContextKey = EnvironmentKey
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache[I, O]{
		inner:     inner,
		cfg:       cfg,
		log:       logger.OrNop(cfg.Logger).WithComponent(cfg.Name),
		collector: observability.OrNop(cfg.Collector),
		entries:   make(map[string]*cacheEntry[O]),
		stats:     make(map[string]*CacheStats),
	}, nil
}

func (c *Cache[I, O]) Name() string { return c.cfg.Name }

// Policy returns the configured policy.
func (c *Cache[I, O]) Policy() CachePolicy { return c.cfg.CachePolicy }

func (c *Cache[I, O]) Execute(ctx context.Context, input I, ec *flow.ExecutionContext) (O, error) {
	out, _, err := c.ExecuteWithPolicy(ctx, input, ec, c.cfg.CachePolicy)
	return out, err
}

// ExecuteWithPolicy runs one lookup under policy instead of the configured one.
func (c *Cache[I, O]) ExecuteWithPolicy(ctx context.Context, input I, ec *flow.ExecutionContext, policy CachePolicy) (O, CacheRecord, error) {
	var zero O
	if policy.TTL <= 0 {
		policy.TTL = c.cfg.TTL
	}
	if policy.MaxEntries <= 0 {
		policy.MaxEntries = c.cfg.MaxEntries
	}

	rec := CacheRecord{ContextKey: c.cfg.ContextKey(ec)}
	log := c.log.WithExecution(ec)
	key, err := c.cfg.Key(input, ec)
	if err != nil {
		log.Warn("cache key derivation failed, bypassing", logger.Fields(logger.FieldError, err.Error()))
		out, err := c.inner.Execute(ctx, input, ec)
		return out, rec, err
	}
	rec.Key = key
	now := c.cfg.Now()

	if v, age, ok := c.lookup(key, now, policy.TTL); ok {
		return c.hit(ctx, log, rec, v, age)
	}
	if v, age, ok := c.loadDurable(ctx, log, key, now, policy); ok {
		return c.hit(ctx, log, rec, v, age)
	}

	start := time.Now()
	out, err := c.inner.Execute(ctx, input, ec)
	rec.Latency = time.Since(start)

	c.mu.Lock()
	st := c.statsLocked(rec.ContextKey)
	st.Misses++
	if err == nil {
		st.missLatency += rec.Latency
		st.missCount++
		c.storeLocked(key, &cacheEntry[O]{value: out, writtenAt: now, contextKey: rec.ContextKey}, policy.MaxEntries)
	}
	entries := len(c.entries)
	c.mu.Unlock()

	attr := observability.A(observability.AttrContextKey, rec.ContextKey)
	c.collector.Count(ctx, observability.MetricCacheMisses, 1, attr)
	c.collector.Gauge(ctx, observability.MetricCacheEntries, float64(entries),
		observability.A(observability.AttrPrimitive, c.cfg.Name),
	)
	log.Debug("cache miss", logger.Fields(logger.FieldContextKey, rec.ContextKey))

	if err != nil {
		return zero, rec, err
	}
	c.writeDurable(ctx, log, key, out, now, rec.ContextKey, policy.TTL)
	return out, rec, nil
}

func (c *Cache[I, O]) hit(ctx context.Context, log *logger.Logger, rec CacheRecord, v O, age time.Duration) (O, CacheRecord, error) {
	rec.Hit = true
	rec.Age = age

	c.mu.Lock()
	st := c.statsLocked(rec.ContextKey)
	st.Hits++
	st.TotalHitAge += age
	st.SavedLatency += st.avgMissLatency()
	c.mu.Unlock()

	c.collector.Count(ctx, observability.MetricCacheHits, 1,
		observability.A(observability.AttrContextKey, rec.ContextKey),
	)
	log.Debug("cache hit", logger.Fields(
		logger.FieldContextKey, rec.ContextKey,
		"age_ms", age.Milliseconds(),
	))
	return v, rec, nil
}

func (c *Cache[I, O]) lookup(key string, now time.Time, ttl time.Duration) (O, time.Duration, bool) {
	var zero O
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return zero, 0, false
	}
	// Staleness depends on the caller's TTL; a shorter policy must not evict
	// an entry that is still fresh for others. Capacity eviction removes it.
	age := now.Sub(e.writtenAt)
	if age >= ttl {
		return zero, 0, false
	}
	return e.value, age, true
}

func (c *Cache[I, O]) storeLocked(key string, e *cacheEntry[O], maxEntries int) {
	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= maxEntries {
			c.evictOldestLocked()
		}
	}
	c.entries[key] = e
}

func (c *Cache[I, O]) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.writtenAt.Before(oldest) {
			oldestKey, oldest, first = k, e.writtenAt, false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

func (c *Cache[I, O]) loadDurable(ctx context.Context, log *logger.Logger, key string, now time.Time, policy CachePolicy) (O, time.Duration, bool) {
	var zero O
	if c.cfg.Store == nil {
		return zero, 0, false
	}
	raw, ok, err := c.cfg.Store.Get(ctx, key)
	if err != nil {
		log.Warn("cache store read failed", logger.Fields(logger.FieldError, err.Error()))
		return zero, 0, false
	}
	if !ok {
		return zero, 0, false
	}

	var env storedEntry
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn("cache store entry unreadable", logger.Fields(logger.FieldError, err.Error()))
		return zero, 0, false
	}
	age := now.Sub(env.WrittenAt)
	if age >= policy.TTL {
		return zero, 0, false
	}
	var v O
	if err := json.Unmarshal(env.Value, &v); err != nil {
		log.Warn("cache store value unreadable", logger.Fields(logger.FieldError, err.Error()))
		return zero, 0, false
	}

	c.mu.Lock()
	c.storeLocked(key, &cacheEntry[O]{value: v, writtenAt: env.WrittenAt, contextKey: env.ContextKey}, policy.MaxEntries)
	c.mu.Unlock()
	return v, age, true
}

func (c *Cache[I, O]) writeDurable(ctx context.Context, log *logger.Logger, key string, v O, now time.Time, contextKey string, ttl time.Duration) {
	if c.cfg.Store == nil {
		return
	}
	value, err := json.Marshal(v)
	if err != nil {
		log.Warn("cache value not encodable, skipping store", logger.Fields(logger.FieldError, err.Error()))
		return
	}
	raw, err := json.Marshal(storedEntry{Value: value, WrittenAt: now, ContextKey: contextKey})
	if err != nil {
		return
	}
	if err := c.cfg.Store.Set(ctx, key, raw, ttl); err != nil {
		log.Warn("cache store write failed", logger.Fields(logger.FieldError, err.Error()))
	}
}

func (c *Cache[I, O]) statsLocked(contextKey string) *CacheStats {
	st, ok := c.stats[contextKey]
	if !ok {
		st = &CacheStats{}
		c.stats[contextKey] = st
	}
	return st
}

// Stats aggregates statistics across every context key.
func (c *Cache[I, O]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total CacheStats
	for _, st := range c.stats {
		total.Hits += st.Hits
		total.Misses += st.Misses
		total.TotalHitAge += st.TotalHitAge
		total.SavedLatency += st.SavedLatency
		total.missLatency += st.missLatency
		total.missCount += st.missCount
	}
	total.Entries = len(c.entries)
	return total
}

// StatsFor returns statistics for one context key.
func (c *Cache[I, O]) StatsFor(contextKey string) CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out CacheStats
	if st, ok := c.stats[contextKey]; ok {
		out = *st
	}
	for _, e := range c.entries {
		if e.contextKey == contextKey {
			out.Entries++
		}
	}
	return out
}

// Len returns the number of in-memory entries.
func (c *Cache[I, O]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops every in-memory entry. Statistics are kept.
func (c *Cache[I, O]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}
