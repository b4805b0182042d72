package adaptive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kbukum/flowkit/resilience"
)

func TestFileSink_MissingFileLoadsEmpty(t *testing.T) {
	sink := NewFileSink(filepath.Join(t.TempDir(), "strategies.yaml"))
	recs, err := sink.Load(context.Background(), "any")
	if err != nil || len(recs) != 0 {
		t.Errorf("expected no records, got %v (%v)", recs, err)
	}
}

func TestFileSink_RestoresAcrossEngines(t *testing.T) {
	ctx := context.Background()
	sink := NewFileSink(filepath.Join(t.TempDir(), "strategies.yaml"))
	policy := resilience.RetryPolicy{
		MaxRetries: 5, InitialDelay: 500 * time.Millisecond, Backoff: 2, MaxDelay: 30 * time.Second,
		Jitter: true, JitterFraction: 0.2,
	}

	newEngine := func() *Engine[resilience.RetryPolicy] {
		e, err := NewEngine(EngineConfig[resilience.RetryPolicy]{
			Options:  Options{Mode: Active, Sink: sink},
			Name:     "api_retry",
			Kind:     "retry",
			Baseline: resilience.DefaultRetryPolicy(),
		}, nil)
		if err != nil {
			t.Fatal(err)
		}
		return e
	}

	first := newEngine()
	if _, err := first.Register(ctx, Proposal[resilience.RetryPolicy]{
		Name: "prod-connection", Pattern: "prod:*:*:connection", Params: policy, Description: "connection preset",
	}); err != nil {
		t.Fatal(err)
	}

	second := newEngine()
	n, err := second.Restore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 restored strategy, got %d", n)
	}
	got := second.Select(ctx, "prod:high:normal:connection").Params()
	if got != policy {
		t.Errorf("expected %+v after round trip, got %+v", policy, got)
	}
	info := second.Strategies()[1]
	if info.Name != "prod-connection" || info.Description != "connection preset" {
		t.Errorf("unexpected restored strategy %+v", info)
	}
}

func TestLatestByName(t *testing.T) {
	recs := []StrategyRecord{
		{Name: "a", Status: StatusProbation},
		{Name: "b", Status: StatusActive},
		{Name: "a", Status: StatusActive},
	}
	got := latestByName(recs)
	if len(got) != 2 || got[0].Name != "a" || got[0].Status != StatusActive || got[1].Name != "b" {
		t.Errorf("unexpected %+v", got)
	}
}
