package observability

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector records metrics into Prometheus vectors. It does not
// produce spans. Label names for a metric are fixed by its first use; later
// calls fill missing labels with "" and drop unknown ones.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string

	mu         sync.Mutex
	counters   map[string]*promVec[*prometheus.CounterVec]
	histograms map[string]*promVec[*prometheus.HistogramVec]
	gauges     map[string]*promVec[*prometheus.GaugeVec]
}

type promVec[V any] struct {
	vec    V
	labels []string
}

// NewPrometheusCollector creates a collector registering on reg.
func NewPrometheusCollector(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusCollector{
		reg:        reg,
		namespace:  namespace,
		counters:   make(map[string]*promVec[*prometheus.CounterVec]),
		histograms: make(map[string]*promVec[*prometheus.HistogramVec]),
		gauges:     make(map[string]*promVec[*prometheus.GaugeVec]),
	}
}

var _ Collector = (*PrometheusCollector)(nil)

// StartSpan is a no-op; Prometheus has no tracing.
func (c *PrometheusCollector) StartSpan(ctx context.Context, _ string, _ ...Attr) (context.Context, EndFunc) {
	return ctx, func(error) {}
}

// Count adds to a CounterVec named "<namespace>_<name>_total".
func (c *PrometheusCollector) Count(_ context.Context, name string, delta int64, attrs ...Attr) {
	if delta < 0 {
		return
	}
	c.mu.Lock()
	pv, ok := c.counters[name]
	if !ok {
		labels := labelNames(attrs)
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      metricName(name) + "_total",
			Help:      "flowkit counter " + name,
		}, labels)
		vec = registerOrExisting(c.reg, vec)
		pv = &promVec[*prometheus.CounterVec]{vec: vec, labels: labels}
		c.counters[name] = pv
	}
	c.mu.Unlock()

	if m, err := pv.vec.GetMetricWith(labelValues(pv.labels, attrs)); err == nil {
		m.Add(float64(delta))
	}
}

// Observe records into a HistogramVec with the default buckets.
func (c *PrometheusCollector) Observe(_ context.Context, name string, value float64, attrs ...Attr) {
	c.mu.Lock()
	pv, ok := c.histograms[name]
	if !ok {
		labels := labelNames(attrs)
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      metricName(name),
			Help:      "flowkit histogram " + name,
			Buckets:   prometheus.DefBuckets,
		}, labels)
		vec = registerOrExisting(c.reg, vec)
		pv = &promVec[*prometheus.HistogramVec]{vec: vec, labels: labels}
		c.histograms[name] = pv
	}
	c.mu.Unlock()

	if m, err := pv.vec.GetMetricWith(labelValues(pv.labels, attrs)); err == nil {
		m.Observe(value)
	}
}

// Gauge sets a GaugeVec value.
func (c *PrometheusCollector) Gauge(_ context.Context, name string, value float64, attrs ...Attr) {
	c.mu.Lock()
	pv, ok := c.gauges[name]
	if !ok {
		labels := labelNames(attrs)
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      metricName(name),
			Help:      "flowkit gauge " + name,
		}, labels)
		vec = registerOrExisting(c.reg, vec)
		pv = &promVec[*prometheus.GaugeVec]{vec: vec, labels: labels}
		c.gauges[name] = pv
	}
	c.mu.Unlock()

	if m, err := pv.vec.GetMetricWith(labelValues(pv.labels, attrs)); err == nil {
		m.Set(value)
	}
}

// registerOrExisting registers vec, returning the already registered
// collector when an identical one exists.
func registerOrExisting[V prometheus.Collector](reg prometheus.Registerer, vec V) V {
	if err := reg.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(V); ok {
				return existing
			}
		}
	}
	return vec
}

func metricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func labelNames(attrs []Attr) []string {
	names := make([]string, 0, len(attrs))
	for _, a := range attrs {
		names = append(names, metricName(a.Key))
	}
	sort.Strings(names)
	return names
}

func labelValues(names []string, attrs []Attr) prometheus.Labels {
	labels := make(prometheus.Labels, len(names))
	for _, n := range names {
		labels[n] = ""
	}
	for _, a := range attrs {
		key := metricName(a.Key)
		if _, ok := labels[key]; ok {
			labels[key] = a.Value
		}
	}
	return labels
}
