package adaptive

import (
	"slices"
	"time"
)

// Percentile returns the p-th percentile (0-100) of samples using linear
// interpolation between closest ranks. It returns 0 for no samples.
func Percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []time.Duration, p float64) time.Duration {
	p = min(max(p, 0), 100)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + time.Duration(frac*float64(sorted[lo+1]-sorted[lo]))
}

// LatencySummary holds the percentiles learners look at.
type LatencySummary struct {
	Count int
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}

// Summarize computes p50/p95/p99 over samples.
func Summarize(samples []time.Duration) LatencySummary {
	if len(samples) == 0 {
		return LatencySummary{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	return LatencySummary{
		Count: len(sorted),
		P50:   percentileSorted(sorted, 50),
		P95:   percentileSorted(sorted, 95),
		P99:   percentileSorted(sorted, 99),
	}
}

// sampleWindow keeps the most recent latency samples.
type sampleWindow struct {
	buf  []time.Duration
	next int
	n    int
}

func newSampleWindow(size int) *sampleWindow {
	return &sampleWindow{buf: make([]time.Duration, size)}
}

func (w *sampleWindow) add(d time.Duration) {
	w.buf[w.next] = d
	w.next = (w.next + 1) % len(w.buf)
	if w.n < len(w.buf) {
		w.n++
	}
}

func (w *sampleWindow) values() []time.Duration {
	return slices.Clone(w.buf[:w.n])
}
