package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/flowkit/flow"
)

var errBoom = errors.New("boom")

// counting returns a primitive that records its invocations and delegates to fn.
func counting[I, O any](name string, calls *atomic.Int32, fn func(n int32, in I) (O, error)) flow.Primitive[I, O] {
	return flow.Func(name, func(_ context.Context, in I, _ *flow.ExecutionContext) (O, error) {
		return fn(calls.Add(1), in)
	})
}

func failing[I, O any](name string, calls *atomic.Int32, err error) flow.Primitive[I, O] {
	return counting(name, calls, func(int32, I) (O, error) {
		var zero O
		return zero, err
	})
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
