package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/flow"
)

func echo(calls *atomic.Int32) flow.Primitive[string, string] {
	return counting("lookup", calls, func(_ int32, in string) (string, error) { return "v:" + in, nil })
}

func TestCache_TTLScenario(t *testing.T) {
	var calls atomic.Int32
	clock := newFakeClock()
	c, err := NewCache(echo(&calls), CacheConfig[string]{
		CachePolicy: CachePolicy{TTL: 60 * time.Second, MaxEntries: 10},
		Now:         clock.Now,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	ec := flow.NewExecutionContext()

	if _, rec, _ := c.ExecuteWithPolicy(ctx, "user-1", ec, CachePolicy{}); rec.Hit {
		t.Fatal("first call must miss")
	}

	clock.Advance(10 * time.Second)
	out, rec, _ := c.ExecuteWithPolicy(ctx, "user-1", ec, CachePolicy{})
	if !rec.Hit || out != "v:user-1" || rec.Age != 10*time.Second {
		t.Errorf("expected hit aged 10s, got %+v %q", rec, out)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 invocation after hit, got %d", calls.Load())
	}

	clock.Advance(51 * time.Second)
	if _, rec, _ := c.ExecuteWithPolicy(ctx, "user-1", ec, CachePolicy{}); rec.Hit {
		t.Error("entry older than ttl must miss")
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 invocations after expiry, got %d", calls.Load())
	}
}

func TestCache_PolicyTTLAppliesAtReadTime(t *testing.T) {
	var calls atomic.Int32
	clock := newFakeClock()
	c, _ := NewCache(echo(&calls), CacheConfig[string]{
		CachePolicy: CachePolicy{TTL: time.Minute, MaxEntries: 10},
		Now:         clock.Now,
	})
	ctx := context.Background()
	ec := flow.NewExecutionContext()

	_, _ = c.Execute(ctx, "k", ec)
	clock.Advance(30 * time.Second)

	if _, rec, _ := c.ExecuteWithPolicy(ctx, "k", ec, CachePolicy{TTL: 20 * time.Second}); rec.Hit {
		t.Error("30s entry must miss under a 20s policy")
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 invocations, got %d", calls.Load())
	}
}

func TestCache_StaleUnderShortTTLStillServesLongTTL(t *testing.T) {
	var calls atomic.Int32
	clock := newFakeClock()
	// Succeeds once, then fails, so a stale read cannot refresh the entry.
	inner := counting("lookup", &calls, func(n int32, in string) (string, error) {
		if n > 1 {
			return "", errBoom
		}
		return "v:" + in, nil
	})
	c, _ := NewCache(inner, CacheConfig[string]{
		CachePolicy: CachePolicy{TTL: time.Hour, MaxEntries: 10},
		Key:         func(in string, _ *flow.ExecutionContext) (string, error) { return in, nil },
		Now:         clock.Now,
	})
	ctx := context.Background()

	prod := flow.NewExecutionContext(flow.WithMetadata(map[string]string{flow.MetaEnvironment: "prod"}))
	dev := flow.NewExecutionContext(flow.WithMetadata(map[string]string{flow.MetaEnvironment: "dev"}))

	if _, _, err := c.ExecuteWithPolicy(ctx, "k", dev, CachePolicy{TTL: time.Hour}); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	clock.Advance(30 * time.Second)

	tests := []struct {
		name    string
		ec      *flow.ExecutionContext
		ttl     time.Duration
		wantHit bool
	}{
		{"short ttl misses", prod, 10 * time.Second, false},
		{"long ttl still hits", dev, time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, rec, _ := c.ExecuteWithPolicy(ctx, "k", tt.ec, CachePolicy{TTL: tt.ttl})
			if rec.Hit != tt.wantHit {
				t.Fatalf("expected hit=%v, got %+v", tt.wantHit, rec)
			}
			if tt.wantHit && (out != "v:k" || rec.Age != 30*time.Second) {
				t.Errorf("expected v:k aged 30s, got %q %v", out, rec.Age)
			}
		})
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 invocations, got %d", calls.Load())
	}
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	var calls atomic.Int32
	clock := newFakeClock()
	c, _ := NewCache(echo(&calls), CacheConfig[string]{
		CachePolicy: CachePolicy{TTL: time.Hour, MaxEntries: 2},
		Now:         clock.Now,
	})
	ctx := context.Background()
	ec := flow.NewExecutionContext()

	for _, k := range []string{"a", "b", "c"} {
		_, _ = c.Execute(ctx, k, ec)
		clock.Advance(time.Second)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if _, rec, _ := c.ExecuteWithPolicy(ctx, "b", ec, CachePolicy{}); !rec.Hit {
		t.Error("b should survive eviction")
	}
	if _, rec, _ := c.ExecuteWithPolicy(ctx, "a", ec, CachePolicy{}); rec.Hit {
		t.Error("a was oldest and should be evicted")
	}
}

func TestCache_FailuresNotCached(t *testing.T) {
	var calls atomic.Int32
	c, _ := NewCache(failing[string, string]("down", &calls, errBoom), CacheConfig[string]{})
	ec := flow.NewExecutionContext()
	for i := 0; i < 3; i++ {
		if _, err := c.Execute(context.Background(), "k", ec); err != errBoom {
			t.Fatalf("expected errBoom, got %v", err)
		}
	}
	if calls.Load() != 3 || c.Len() != 0 {
		t.Errorf("failed calls must not be cached: calls=%d len=%d", calls.Load(), c.Len())
	}
}

func TestCache_KeyErrorBypasses(t *testing.T) {
	var calls atomic.Int32
	c, _ := NewCache(echo(&calls), CacheConfig[string]{
		Key: func(string, *flow.ExecutionContext) (string, error) { return "", errors.New("no key") },
	})
	ec := flow.NewExecutionContext()
	_, _ = c.Execute(context.Background(), "k", ec)
	_, _ = c.Execute(context.Background(), "k", ec)
	if calls.Load() != 2 {
		t.Errorf("expected bypass on key error, got %d calls", calls.Load())
	}
}

func TestCache_StatsPerEnvironment(t *testing.T) {
	var calls atomic.Int32
	c, _ := NewCache(echo(&calls), CacheConfig[string]{})
	ctx := context.Background()
	prod := flow.NewExecutionContext(flow.WithMetadata(map[string]string{flow.MetaEnvironment: "prod"}))
	dev := flow.NewExecutionContext(flow.WithMetadata(map[string]string{flow.MetaEnvironment: "dev"}))

	_, _ = c.Execute(ctx, "k", prod)
	_, _ = c.Execute(ctx, "k", prod)
	_, _ = c.Execute(ctx, "k", prod)
	_, _ = c.Execute(ctx, "k", dev)

	if st := c.StatsFor("prod"); st.Hits != 2 || st.Misses != 1 || st.Entries != 1 {
		t.Errorf("unexpected prod stats %+v", st)
	}
	if st := c.StatsFor("dev"); st.Hits != 0 || st.Misses != 1 {
		t.Errorf("environments must not share entries: %+v", st)
	}
	total := c.Stats()
	if total.Hits != 2 || total.Misses != 2 || total.HitRate() != 0.5 || total.SavedCalls() != 2 {
		t.Errorf("unexpected total stats %+v", total)
	}
}

func TestCache_DurableStoreSharedAcrossInstances(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	cfg := CacheConfig[string]{
		CachePolicy: CachePolicy{TTL: time.Minute, MaxEntries: 10},
		Store:       store,
		Now:         clock.Now,
	}
	var first, second atomic.Int32
	a, _ := NewCache(echo(&first), cfg)
	b, _ := NewCache(echo(&second), cfg)
	ec := flow.NewExecutionContext()

	_, _ = a.Execute(context.Background(), "shared", ec)
	clock.Advance(5 * time.Second)

	out, rec, err := b.ExecuteWithPolicy(context.Background(), "shared", ec, CachePolicy{})
	if err != nil || !rec.Hit || out != "v:shared" {
		t.Fatalf("expected durable hit, got %+v %q (%v)", rec, out, err)
	}
	if rec.Age != 5*time.Second {
		t.Errorf("expected age carried from store, got %v", rec.Age)
	}
	if second.Load() != 0 {
		t.Errorf("second instance should not invoke, got %d", second.Load())
	}
	if b.Len() != 1 {
		t.Error("durable hit should be promoted to memory")
	}

	clock.Advance(time.Minute)
	if _, ok, _ := store.Get(context.Background(), rec.Key); ok {
		t.Error("store entry should expire with the ttl")
	}
}

func TestHashKey_IncludesEnvironment(t *testing.T) {
	prod := flow.NewExecutionContext(flow.WithMetadata(map[string]string{flow.MetaEnvironment: "prod"}))
	plain := flow.NewExecutionContext()
	k1, _ := HashKey(map[string]int{"a": 1}, prod)
	k2, _ := HashKey(map[string]int{"a": 1}, plain)
	k3, _ := HashKey(map[string]int{"a": 1}, prod)
	if k1 == k2 {
		t.Error("keys must differ across environments")
	}
	if k1 != k3 {
		t.Error("keys must be deterministic")
	}
	if _, err := HashKey(make(chan int), plain); err != nil {
		t.Errorf("unencodable input should still hash: %v", err)
	}
}

func TestNewCache_Validation(t *testing.T) {
	var calls atomic.Int32
	_, err := NewCache(echo(&calls), CacheConfig[string]{CachePolicy: CachePolicy{TTL: -time.Second}})
	if !apperrors.HasCode(err, apperrors.ErrCodeConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
