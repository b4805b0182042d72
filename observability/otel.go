package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/kbukum/flowkit"

// OTelCollector records spans and metrics through OpenTelemetry.
// Instruments are created lazily the first time a metric name is used.
type OTelCollector struct {
	tracer trace.Tracer
	meter  metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64Gauge
}

// NewOTelCollector creates a collector on the given tracer and meter.
func NewOTelCollector(tracer trace.Tracer, meter metric.Meter) *OTelCollector {
	return &OTelCollector{
		tracer:     tracer,
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

// NewGlobalOTelCollector creates a collector on the globally registered providers.
func NewGlobalOTelCollector() *OTelCollector {
	return NewOTelCollector(otel.Tracer(instrumentationName), otel.Meter(instrumentationName))
}

var _ Collector = (*OTelCollector)(nil)

// StartSpan starts an OpenTelemetry span.
func (c *OTelCollector) StartSpan(ctx context.Context, name string, attrs ...Attr) (context.Context, EndFunc) {
	ctx, span := c.tracer.Start(ctx, name, trace.WithAttributes(toAttributes(attrs)...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Count adds to an Int64Counter.
func (c *OTelCollector) Count(ctx context.Context, name string, delta int64, attrs ...Attr) {
	counter, ok := c.counter(name)
	if !ok {
		return
	}
	counter.Add(ctx, delta, metric.WithAttributes(toAttributes(attrs)...))
}

// Observe records into a Float64Histogram.
func (c *OTelCollector) Observe(ctx context.Context, name string, value float64, attrs ...Attr) {
	hist, ok := c.histogram(name)
	if !ok {
		return
	}
	hist.Record(ctx, value, metric.WithAttributes(toAttributes(attrs)...))
}

// Gauge records into a Float64Gauge.
func (c *OTelCollector) Gauge(ctx context.Context, name string, value float64, attrs ...Attr) {
	gauge, ok := c.gauge(name)
	if !ok {
		return
	}
	gauge.Record(ctx, value, metric.WithAttributes(toAttributes(attrs)...))
}

func (c *OTelCollector) counter(name string) (metric.Int64Counter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if inst, ok := c.counters[name]; ok {
		return inst, true
	}
	inst, err := c.meter.Int64Counter(name)
	if err != nil {
		return nil, false
	}
	c.counters[name] = inst
	return inst, true
}

func (c *OTelCollector) histogram(name string) (metric.Float64Histogram, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if inst, ok := c.histograms[name]; ok {
		return inst, true
	}
	inst, err := c.meter.Float64Histogram(name, metric.WithUnit("s"))
	if err != nil {
		return nil, false
	}
	c.histograms[name] = inst
	return inst, true
}

func (c *OTelCollector) gauge(name string) (metric.Float64Gauge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if inst, ok := c.gauges[name]; ok {
		return inst, true
	}
	inst, err := c.meter.Float64Gauge(name)
	if err != nil {
		return nil, false
	}
	c.gauges[name] = inst
	return inst, true
}

func toAttributes(attrs []Attr) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		kvs = append(kvs, attribute.String(a.Key, a.Value))
	}
	return kvs
}
