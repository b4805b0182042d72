package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kbukum/flowkit/adaptive"
	"github.com/kbukum/flowkit/resilience"
)

func TestStrategySink_SaveAndLoad(t *testing.T) {
	client, mini := newTestClient(t)
	sink := NewStrategySink(client)
	ctx := context.Background()

	for _, rec := range []adaptive.StrategyRecord{
		{Engine: "api", Kind: "timeout", Name: "a", Status: adaptive.StatusActive},
		{Engine: "db", Kind: "retry", Name: "b", Status: adaptive.StatusProposed},
		{Engine: "api", Kind: "timeout", Name: "a", Status: adaptive.StatusRetired},
	} {
		if err := sink.Save(ctx, rec); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	recs, err := sink.Load(ctx, "api")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Status != adaptive.StatusActive || recs[1].Status != adaptive.StatusRetired {
		t.Errorf("unexpected records %+v", recs)
	}
	if !mini.Exists("test:strategies:db") {
		t.Error("expected one list per engine")
	}
}

func TestStrategySink_TrimsHistory(t *testing.T) {
	client, mini := newTestClient(t)
	sink := NewStrategySink(client)
	sink.History = 2
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"a", "b", "c", "c"} {
		sink.Save(ctx, adaptive.StrategyRecord{Engine: "api", Name: name, RecordedAt: base.Add(time.Duration(i) * time.Second)})
	}
	list, err := mini.List("test:strategies:api")
	if err != nil || len(list) != 2 {
		t.Fatalf("expected history trimmed to 2, got %d (%v)", len(list), err)
	}
	recs, _ := sink.Load(ctx, "api")
	var names []string
	for _, r := range recs {
		names = append(names, r.Name)
	}
	if len(names) != 4 || names[0] != "a" || names[1] != "b" || names[2] != "c" || names[3] != "c" {
		t.Errorf("expected a, b, c, c, got %v", names)
	}
}

func TestStrategySink_KeepsLatestRecordPastTrim(t *testing.T) {
	tests := []struct {
		name   string
		others int
	}{
		{"active record still in history", 1},
		{"active record trimmed from history", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t)
			sink := NewStrategySink(client)
			sink.History = 2
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			active := adaptive.StrategyRecord{
				Engine: "api", Name: "prod-timeout", Pattern: "prod",
				Status: adaptive.StatusActive, RecordedAt: base,
			}
			if err := sink.Save(ctx, active); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			for i := range tt.others {
				rec := adaptive.StrategyRecord{
					Engine: "api", Name: fmt.Sprintf("other-%d", i),
					Status: adaptive.StatusRejected, RecordedAt: base.Add(time.Duration(i+1) * time.Minute),
				}
				if err := sink.Save(ctx, rec); err != nil {
					t.Fatalf("Save failed: %v", err)
				}
			}

			recs, err := sink.Load(ctx, "api")
			if err != nil {
				t.Fatal(err)
			}
			if len(recs) != tt.others+1 {
				t.Fatalf("expected %d records, got %d", tt.others+1, len(recs))
			}
			if got := recs[0]; got.Name != active.Name || got.Status != adaptive.StatusActive {
				t.Errorf("expected the active record first, got %+v", got)
			}
		})
	}
}

func TestStrategySink_RestoresEngine(t *testing.T) {
	client, _ := newTestClient(t)
	sink := NewStrategySink(client)
	ctx := context.Background()

	newEngine := func() *adaptive.Engine[resilience.CachePolicy] {
		e, err := adaptive.NewEngine(adaptive.EngineConfig[resilience.CachePolicy]{
			Options:  adaptive.Options{Mode: adaptive.Active, Sink: sink},
			Name:     "profiles",
			Kind:     "cache",
			Baseline: resilience.DefaultCachePolicy(),
		}, nil)
		if err != nil {
			t.Fatal(err)
		}
		return e
	}

	policy := resilience.CachePolicy{TTL: 5 * time.Minute, MaxEntries: 200}
	if _, err := newEngine().Register(ctx, adaptive.Proposal[resilience.CachePolicy]{
		Pattern: "prod", Params: policy,
	}); err != nil {
		t.Fatal(err)
	}

	restored := newEngine()
	if n, err := restored.Restore(ctx); err != nil || n != 1 {
		t.Fatalf("expected 1 restored strategy, got %d (%v)", n, err)
	}
	if got := restored.Select(ctx, "prod").Params(); got != policy {
		t.Errorf("expected %+v, got %+v", policy, got)
	}
}
