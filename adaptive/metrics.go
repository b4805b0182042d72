package adaptive

import (
	"sync"
	"time"
)

// StrategyMetrics accumulates the outcomes of executions that used one
// strategy: lifetime totals plus a rolling window of recent outcomes.
type StrategyMetrics struct {
	mu           sync.Mutex
	successes    int64
	failures     int64
	totalLatency time.Duration
	lastUsed     time.Time

	window []bool // true = failure
	next   int
	filled int
}

func newStrategyMetrics(window int) *StrategyMetrics {
	if window <= 0 {
		window = 20
	}
	return &StrategyMetrics{window: make([]bool, window)}
}

// Record adds one outcome.
func (m *StrategyMetrics) Record(success bool, latency time.Duration, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.successes++
	} else {
		m.failures++
	}
	m.totalLatency += latency
	m.lastUsed = at

	m.window[m.next] = !success
	m.next = (m.next + 1) % len(m.window)
	if m.filled < len(m.window) {
		m.filled++
	}
}

// Snapshot returns the current derived values.
func (m *StrategyMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := MetricsSnapshot{
		Successes: m.successes,
		Failures:  m.failures,
		LastUsed:  m.lastUsed,
	}
	s.Executions = m.successes + m.failures
	if s.Executions > 0 {
		s.SuccessRate = float64(m.successes) / float64(s.Executions)
		s.AvgLatency = m.totalLatency / time.Duration(s.Executions)
	}
	if m.filled > 0 {
		failed := 0
		for i := 0; i < m.filled; i++ {
			if m.window[i] {
				failed++
			}
		}
		s.RollingFailureRate = float64(failed) / float64(m.filled)
	}
	return s
}

// MetricsSnapshot is a point-in-time copy of StrategyMetrics.
type MetricsSnapshot struct {
	Executions         int64         `json:"executions" yaml:"executions"`
	Successes          int64         `json:"successes" yaml:"successes"`
	Failures           int64         `json:"failures" yaml:"failures"`
	SuccessRate        float64       `json:"success_rate" yaml:"success_rate"`
	RollingFailureRate float64       `json:"rolling_failure_rate" yaml:"rolling_failure_rate"`
	AvgLatency         time.Duration `json:"avg_latency" yaml:"avg_latency"`
	LastUsed           time.Time     `json:"last_used" yaml:"last_used"`
}
