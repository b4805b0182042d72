package resilience

import (
	"context"
	"sync/atomic"
	"time"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/flow"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
	"github.com/kbukum/flowkit/validation"
)

// StateTimeoutCount is the state counter incremented on every abandoned run.
const StateTimeoutCount = "timeout_count"

// TimeoutConfig configures a Timeout primitive.
type TimeoutConfig struct {
	Name string
	// Timeout is the soft deadline; finishing later is logged as an overrun.
	Timeout time.Duration `validate:"gt=0"`
	// Grace extends the hard deadline to Timeout+Grace.
	Grace time.Duration `validate:"gte=0"`

	Logger    *logger.Logger
	Collector observability.Collector
}

// TimeoutRecord describes one deadline race.
type TimeoutRecord struct {
	Elapsed      time.Duration
	TimedOut     bool
	SoftOverrun  bool
	UsedFallback bool
}

// TimeoutStats is a snapshot of timeout counters.
type TimeoutStats struct {
	Total        int64
	Succeeded    int64
	Failed       int64
	TimedOut     int64
	SoftOverruns int64
}

// SuccessRate is the share of executions that finished before the hard deadline.
func (s TimeoutStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Total-s.TimedOut) / float64(s.Total)
}

// TimeoutRate is the share of executions abandoned at the hard deadline.
func (s TimeoutStats) TimeoutRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.TimedOut) / float64(s.Total)
}

// Timeout races a wrapped primitive against a deadline. Past Timeout+Grace
// the run is abandoned (its context is canceled), the timeout_count state
// counter is incremented, and the fallback runs or TIMEOUT_EXCEEDED is
// returned. Errors of the wrapped primitive pass through unchanged.
type Timeout[I, O any] struct {
	inner     flow.Primitive[I, O]
	fallback  flow.Primitive[I, O]
	cfg       TimeoutConfig
	log       *logger.Logger
	collector observability.Collector

	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
	overruns  atomic.Int64
}

// NewTimeout wraps inner with a deadline. fallback may be nil.
func NewTimeout[I, O any](inner flow.Primitive[I, O], cfg TimeoutConfig, fallback flow.Primitive[I, O]) (*Timeout[I, O], error) {
	if inner == nil {
		return nil, apperrors.Configuration("timeout requires a wrapped primitive")
	}
	if err := validation.Validate(cfg); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "timeout"
	}
	return &Timeout[I, O]{
		inner:     inner,
		fallback:  fallback,
		cfg:       cfg,
		log:       logger.OrNop(cfg.Logger).WithComponent(cfg.Name),
		collector: observability.OrNop(cfg.Collector),
	}, nil
}

func (t *Timeout[I, O]) Name() string { return t.cfg.Name }

// Config returns the effective configuration.
func (t *Timeout[I, O]) Config() TimeoutConfig { return t.cfg }

func (t *Timeout[I, O]) Execute(ctx context.Context, input I, ec *flow.ExecutionContext) (O, error) {
	out, _, err := t.ExecuteWith(ctx, input, ec, t.cfg.Timeout)
	return out, err
}

// ExecuteWith runs one execution with timeout in place of the configured one.
func (t *Timeout[I, O]) ExecuteWith(ctx context.Context, input I, ec *flow.ExecutionContext, timeout time.Duration) (O, TimeoutRecord, error) {
	var zero O
	var rec TimeoutRecord
	if timeout <= 0 {
		timeout = t.cfg.Timeout
	}
	attr := observability.A(observability.AttrPrimitive, t.cfg.Name)
	log := t.log.WithExecution(ec)

	ctx, end := t.collector.StartSpan(ctx, "flow.timeout", attr)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan flow.Result[O], 1)
	start := time.Now()
	go func() {
		done <- flow.Attempt(runCtx, t.inner, input, ec)
	}()

	hard := time.NewTimer(timeout + t.cfg.Grace)
	defer hard.Stop()

	t.total.Add(1)
	select {
	case res := <-done:
		rec.Elapsed = time.Since(start)
		if rec.Elapsed > timeout {
			rec.SoftOverrun = true
			t.overruns.Add(1)
			t.collector.Count(ctx, observability.MetricTimeoutSoftOverrun, 1, attr)
			log.Warn("completed after soft timeout", logger.Fields(
				"timeout_ms", timeout.Milliseconds(),
				logger.FieldDuration, rec.Elapsed.Milliseconds(),
			))
		}
		if res.Failed() {
			t.failed.Add(1)
		} else {
			t.succeeded.Add(1)
		}
		end(res.Err)
		out, err := res.Unwrap()
		return out, rec, err

	case <-hard.C:
		cancel()
		rec.Elapsed = time.Since(start)
		rec.TimedOut = true
		t.timedOut.Add(1)
		n := ec.Incr(StateTimeoutCount)
		t.collector.Count(ctx, observability.MetricTimeoutExceeded, 1, attr)
		log.Warn("timeout exceeded", logger.Fields(
			"timeout_ms", timeout.Milliseconds(),
			"grace_ms", t.cfg.Grace.Milliseconds(),
			"timeouts", n,
		))

		err := error(apperrors.TimeoutExceeded(t.cfg.Name, timeout))
		end(err)
		if t.fallback == nil {
			return zero, rec, err
		}
		rec.UsedFallback = true
		out, ferr := t.fallback.Execute(ctx, input, ec)
		return out, rec, ferr

	case <-ctx.Done():
		rec.Elapsed = time.Since(start)
		t.failed.Add(1)
		end(ctx.Err())
		return zero, rec, ctx.Err()
	}
}

// Stats returns a snapshot of the timeout counters.
func (t *Timeout[I, O]) Stats() TimeoutStats {
	return TimeoutStats{
		Total:        t.total.Load(),
		Succeeded:    t.succeeded.Load(),
		Failed:       t.failed.Load(),
		TimedOut:     t.timedOut.Load(),
		SoftOverruns: t.overruns.Load(),
	}
}
