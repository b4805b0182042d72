package observability

import "context"

// Metric names emitted by flowkit primitives.
const (
	MetricPrimitiveDuration  = "flow.primitive.duration"
	MetricRetryAttempts      = "flow.retry.attempts"
	MetricRetryExhausted     = "flow.retry.exhausted"
	MetricTimeoutExceeded    = "flow.timeout.exceeded"
	MetricTimeoutSoftOverrun = "flow.timeout.soft_overrun"
	MetricFallbackActivated  = "flow.fallback.activated"
	MetricSagaCompensations  = "flow.saga.compensations"
	MetricCacheHits          = "flow.cache.hits"
	MetricCacheMisses        = "flow.cache.misses"
	MetricCacheEntries       = "flow.cache.entries"
	MetricBreakerRejections  = "flow.breaker.rejections"
	MetricBulkheadRejections = "flow.bulkhead.rejections"
	MetricRateLimited        = "flow.ratelimit.rejections"
	MetricAdaptiveProposals  = "flow.adaptive.proposals"
	MetricAdaptivePromotions = "flow.adaptive.promotions"
	MetricAdaptiveEvictions  = "flow.adaptive.evictions"
	MetricAdaptiveTrips      = "flow.adaptive.breaker_trips"
)

// Common attribute keys.
const (
	AttrPrimitive  = "primitive"
	AttrStatus     = "status"
	AttrStrategy   = "strategy"
	AttrContextKey = "context_key"
	AttrRoute      = "route"
	AttrWorkflowID = "workflow.id"
)

// Attr is a string-valued telemetry attribute.
type Attr struct {
	Key   string
	Value string
}

// A builds an Attr.
func A(key, value string) Attr {
	return Attr{Key: key, Value: value}
}

// EndFunc finishes a span; a non-nil error marks it failed.
type EndFunc func(err error)

// Collector receives spans and measurements from primitives.
// Implementations must be safe for concurrent use.
type Collector interface {
	// StartSpan opens a span and returns the derived context and its finisher.
	StartSpan(ctx context.Context, name string, attrs ...Attr) (context.Context, EndFunc)
	// Count adds delta to a monotonic counter.
	Count(ctx context.Context, name string, delta int64, attrs ...Attr)
	// Observe records a histogram sample.
	Observe(ctx context.Context, name string, value float64, attrs ...Attr)
	// Gauge records the current value of a gauge.
	Gauge(ctx context.Context, name string, value float64, attrs ...Attr)
}

type nopCollector struct{}

// Nop returns a Collector that records nothing.
func Nop() Collector { return nopCollector{} }

// OrNop returns c, or Nop() when c is nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return Nop()
	}
	return c
}

func (nopCollector) StartSpan(ctx context.Context, _ string, _ ...Attr) (context.Context, EndFunc) {
	return ctx, func(error) {}
}
func (nopCollector) Count(context.Context, string, int64, ...Attr)     {}
func (nopCollector) Observe(context.Context, string, float64, ...Attr) {}
func (nopCollector) Gauge(context.Context, string, float64, ...Attr)   {}

// StatusOf maps an error to the status attribute value used by every metric.
func StatusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
