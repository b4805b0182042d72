package adaptive

import (
	"testing"
	"time"
)

func ms(vals ...int) []time.Duration {
	out := make([]time.Duration, len(vals))
	for i, v := range vals {
		out[i] = time.Duration(v) * time.Millisecond
	}
	return out
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name    string
		samples []time.Duration
		p       float64
		want    time.Duration
	}{
		{"empty", nil, 95, 0},
		{"single", ms(42), 99, 42 * time.Millisecond},
		{"median odd", ms(30, 10, 20), 50, 20 * time.Millisecond},
		{"interpolated", ms(10, 20), 50, 15 * time.Millisecond},
		{"max", ms(5, 1, 9), 100, 9 * time.Millisecond},
		{"min", ms(5, 1, 9), 0, time.Millisecond},
		{"clamped above", ms(5, 1, 9), 150, 9 * time.Millisecond},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Percentile(tc.samples, tc.p); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestPercentile_DoesNotReorderInput(t *testing.T) {
	in := ms(3, 1, 2)
	_ = Percentile(in, 50)
	if in[0] != 3*time.Millisecond {
		t.Error("input slice was sorted in place")
	}
}

func TestSummarize(t *testing.T) {
	var samples []time.Duration
	for i := 1; i <= 101; i++ {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	s := Summarize(samples)
	if s.Count != 101 || s.P50 != 51*time.Millisecond || s.P95 != 96*time.Millisecond || s.P99 != 100*time.Millisecond {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestSampleWindow_KeepsMostRecent(t *testing.T) {
	w := newSampleWindow(3)
	for i := 1; i <= 5; i++ {
		w.add(time.Duration(i))
	}
	vals := w.values()
	if len(vals) != 3 {
		t.Fatalf("expected 3 values, got %d", len(vals))
	}
	sum := time.Duration(0)
	for _, v := range vals {
		sum += v
	}
	if sum != 12 {
		t.Errorf("expected samples 3,4,5, got %v", vals)
	}
}
