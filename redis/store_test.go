package redis

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/flowkit/flow"
	"github.com/kbukum/flowkit/resilience"
)

func TestCacheStore_ExpiresWithTTL(t *testing.T) {
	client, mini := newTestClient(t)
	store := NewCacheStore(client, "profiles")
	ctx := context.Background()

	if err := store.Set(ctx, "k1", []byte("v1"), 2*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !mini.Exists("test:profiles:k1") {
		t.Fatal("expected namespaced key in redis")
	}
	if got, ok, _ := store.Get(ctx, "k1"); !ok || string(got) != "v1" {
		t.Fatalf("expected v1 before expiry, got %q", got)
	}

	mini.FastForward(3 * time.Second)
	if _, ok, err := store.Get(ctx, "k1"); ok || err != nil {
		t.Errorf("expected miss after expiry, got ok=%v err=%v", ok, err)
	}
}

func TestCacheStore_Delete(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewCacheStore(client, "")
	ctx := context.Background()

	store.Set(ctx, "k1", []byte("v1"), 0)
	if err := store.Delete(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.Get(ctx, "k1"); ok {
		t.Error("expected key removed")
	}
}

func TestCacheStore_SharesResultsAcrossCaches(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewCacheStore(client, "lookup")

	var calls atomic.Int32
	inner := flow.Func("lookup", func(_ context.Context, in string, _ *flow.ExecutionContext) (string, error) {
		calls.Add(1)
		return strings.ToUpper(in), nil
	})
	newCache := func() *resilience.Cache[string, string] {
		c, err := resilience.NewCache(inner, resilience.CacheConfig[string]{
			CachePolicy: resilience.CachePolicy{TTL: time.Minute, MaxEntries: 10},
			Store:       store,
		})
		if err != nil {
			t.Fatal(err)
		}
		return c
	}

	ctx := context.Background()
	ec := flow.NewExecutionContext()
	if _, err := newCache().Execute(ctx, "abc", ec); err != nil {
		t.Fatal(err)
	}
	out, rec, err := newCache().ExecuteWithPolicy(ctx, "abc", ec, resilience.CachePolicy{})
	if err != nil || !rec.Hit || out != "ABC" {
		t.Fatalf("expected redis-backed hit, got %+v %q (%v)", rec, out, err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected inner called once, got %d", n)
	}
}
