package adaptive

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	apperrors "github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
	"github.com/kbukum/flowkit/resilience"
	"github.com/kbukum/flowkit/validation"
)

const maxRecordedProposals = 100

// EngineConfig configures an Engine.
type EngineConfig[P any] struct {
	Options `yaml:",inline" mapstructure:",squash"`

	// Name identifies the engine in logs, metrics and sink records.
	Name string `validate:"required"`
	// Kind is the wrapped primitive kind ("cache", "retry", "timeout").
	Kind string `validate:"required"`
	// Baseline holds the parameters of the never-evicted baseline strategy.
	Baseline P
	// BaselineDescription documents the baseline in snapshots and records.
	BaselineDescription string
}

// Selection is the strategy chosen for one execution. Pass it back to
// Complete once the execution finishes.
type Selection[P any] struct {
	Strategy   *Strategy[P]
	ContextKey string
	// Forced is set when an open breaker sent the execution to the baseline.
	Forced bool

	guarded *Strategy[P]
	start   time.Time
}

// Params returns the parameters to execute with.
func (s Selection[P]) Params() P { return s.Strategy.Params }

// Engine selects, measures and learns strategies for one adaptive primitive.
type Engine[P any] struct {
	cfg       EngineConfig[P]
	learner   Learner[P]
	log       *logger.Logger
	collector observability.Collector

	mu           sync.Mutex
	baseline     *Strategy[P]
	strategies   []*Strategy[P]
	proposals    []Proposal[P]
	lastProposal map[string]time.Time
	seq          int
}

// NewEngine creates an engine around learner. learner may be nil when the
// engine is only used for selection.
func NewEngine[P any](cfg EngineConfig[P], learner Learner[P]) (*Engine[P], error) {
	cfg.Options = cfg.Options.WithDefaults()
	if err := validation.Validate(cfg); err != nil {
		return nil, err
	}
	if cfg.BaselineDescription == "" {
		cfg.BaselineDescription = "baseline " + cfg.Kind + " parameters"
	}
	e := &Engine[P]{
		cfg:          cfg,
		learner:      learner,
		log:          logger.OrNop(cfg.Logger).WithComponent(cfg.Name),
		collector:    observability.OrNop(cfg.Collector),
		lastProposal: make(map[string]time.Time),
	}
	e.baseline = &Strategy[P]{
		Name:        cfg.Name + "-baseline",
		Description: cfg.BaselineDescription,
		Pattern:     BaselinePattern,
		Params:      cfg.Baseline,
		Baseline:    true,
		CreatedAt:   cfg.Now(),
		metrics:     newStrategyMetrics(cfg.BreakerWindow),
	}
	return e, nil
}

func (e *Engine[P]) Name() string { return e.cfg.Name }

// Mode returns the learning mode.
func (e *Engine[P]) Mode() Mode { return e.cfg.Mode }

// Baseline returns the baseline strategy.
func (e *Engine[P]) Baseline() *Strategy[P] { return e.baseline }

// Select picks the strategy for contextKey: the exact pattern match, else the
// most specific wildcard match, else the baseline. A learned strategy whose
// breaker is open is bypassed in favour of the baseline.
func (e *Engine[P]) Select(ctx context.Context, contextKey string) Selection[P] {
	e.mu.Lock()
	chosen := e.matchLocked(contextKey)
	e.mu.Unlock()

	sel := Selection[P]{Strategy: chosen, ContextKey: contextKey, start: e.cfg.Now()}
	if chosen.Baseline {
		return sel
	}
	if !chosen.breaker.Allow() {
		sel.Strategy = e.baseline
		sel.Forced = true
		e.log.Debug("strategy breaker open, using baseline", logger.Fields(
			logger.FieldStrategy, chosen.Name,
			logger.FieldContextKey, contextKey,
		))
		return sel
	}
	sel.guarded = chosen
	return sel
}

func (e *Engine[P]) matchLocked(key string) *Strategy[P] {
	best := e.baseline
	bestScore := -1
	// Newest first so a probation candidate shadows the strategy it replaces.
	for i := len(e.strategies) - 1; i >= 0; i-- {
		s := e.strategies[i]
		if score, ok := s.matches(key); ok && score > bestScore {
			best, bestScore = s, score
		}
	}
	return best
}

// Complete records the outcome of an execution that used sel and, unless
// learning is disabled, consults the learner.
func (e *Engine[P]) Complete(ctx context.Context, sel Selection[P], err error) {
	now := e.cfg.Now()
	sel.Strategy.metrics.Record(err == nil, now.Sub(sel.start), now)
	if sel.guarded != nil {
		sel.guarded.breaker.Record(err)
		e.advanceProbation(ctx, sel.guarded)
	}
	if e.cfg.Mode != Disabled && e.learner != nil {
		e.learn(ctx, sel.ContextKey, sel.Strategy)
	}
}

func (e *Engine[P]) advanceProbation(ctx context.Context, s *Strategy[P]) {
	e.mu.Lock()
	if s.probation == 0 {
		e.mu.Unlock()
		return
	}
	s.probation--
	if s.probation > 0 {
		e.mu.Unlock()
		return
	}

	snap := s.metrics.Snapshot()
	parentRate := 0.0
	if s.parent != nil {
		if ps := s.parent.metrics.Snapshot(); ps.Executions > 0 {
			parentRate = ps.SuccessRate
		}
	}
	passed := snap.RollingFailureRate < e.cfg.BreakerThreshold &&
		snap.SuccessRate >= parentRate-e.cfg.ValidationTolerance

	var records []StrategyRecord
	if passed {
		// A wildcard parent only served as the comparison; it keeps serving
		// the contexts this candidate does not cover.
		if p := s.parent; p != nil && !p.Baseline && p.Pattern == s.Pattern {
			e.removeLocked(p)
			records = append(records, e.recordLocked(p, StatusRetired))
		}
		s.parent = nil
		records = append(records, e.recordLocked(s, StatusActive))
	} else {
		e.removeLocked(s)
		records = append(records, e.recordLocked(s, StatusRejected))
	}
	e.mu.Unlock()

	attr := observability.A(observability.AttrStrategy, s.Name)
	fields := logger.Fields(
		logger.FieldStrategy, s.Name,
		"success_rate", snap.SuccessRate,
		"parent_success_rate", parentRate,
	)
	if passed {
		e.collector.Count(ctx, observability.MetricAdaptivePromotions, 1, attr)
		e.log.Info("strategy promoted after validation", fields)
	} else {
		e.log.Warn("strategy rejected after validation", fields)
	}
	e.save(ctx, records...)
}

func (e *Engine[P]) learn(ctx context.Context, key string, current *Strategy[P]) {
	now := e.cfg.Now()
	e.mu.Lock()
	if last, ok := e.lastProposal[key]; ok && now.Sub(last) < e.cfg.LearnCooldown {
		e.mu.Unlock()
		return
	}
	for _, s := range e.strategies {
		if s.probation > 0 && s.Pattern == key {
			e.mu.Unlock()
			return
		}
	}
	e.mu.Unlock()

	prop, ok := e.learner.Propose(key, current)
	if !ok {
		return
	}

	e.mu.Lock()
	e.lastProposal[key] = now
	prop.ContextKey = key
	prop.ProposedAt = now
	if prop.Pattern == "" {
		prop.Pattern = key
	}
	if prop.Name == "" {
		e.seq++
		prop.Name = fmt.Sprintf("%s-%s-%d", e.cfg.Name, sanitize(key), e.seq)
	}
	e.mu.Unlock()

	attr := observability.A(observability.AttrStrategy, prop.Name)
	e.collector.Count(ctx, observability.MetricAdaptiveProposals, 1, attr)

	switch e.cfg.Mode {
	case Observe:
		e.mu.Lock()
		e.proposals = append(e.proposals, prop)
		if len(e.proposals) > maxRecordedProposals {
			e.proposals = slices.Delete(e.proposals, 0, len(e.proposals)-maxRecordedProposals)
		}
		e.mu.Unlock()
		e.log.Info("strategy proposed", logger.Fields(
			logger.FieldStrategy, prop.Name,
			logger.FieldContextKey, key,
			"description", prop.Description,
		))
		if rec, err := e.proposalRecord(prop); err == nil {
			e.save(ctx, rec)
		}
	case Validate:
		if _, err := e.admit(ctx, prop, e.cfg.ValidationWindow); err != nil {
			e.log.Warn("proposal dropped", logger.Fields(logger.FieldStrategy, prop.Name, logger.FieldError, err.Error()))
		}
	case Active:
		if _, err := e.admit(ctx, prop, 0); err != nil {
			e.log.Warn("proposal dropped", logger.Fields(logger.FieldStrategy, prop.Name, logger.FieldError, err.Error()))
			return
		}
		e.collector.Count(ctx, observability.MetricAdaptivePromotions, 1, attr)
	}
}

// Register adds a strategy directly, bypassing the learner. It replaces any
// learned strategy with the same pattern.
func (e *Engine[P]) Register(ctx context.Context, prop Proposal[P]) (*Strategy[P], error) {
	if prop.Pattern == "" {
		prop.Pattern = prop.ContextKey
	}
	if prop.Name == "" {
		e.mu.Lock()
		e.seq++
		prop.Name = fmt.Sprintf("%s-%s-%d", e.cfg.Name, sanitize(prop.Pattern), e.seq)
		e.mu.Unlock()
	}
	if prop.ProposedAt.IsZero() {
		prop.ProposedAt = e.cfg.Now()
	}
	return e.admit(ctx, prop, 0)
}

// admit puts a strategy into the pool. With probation > 0 the strategy it
// replaces stays pooled until the probation ends.
func (e *Engine[P]) admit(ctx context.Context, prop Proposal[P], probation int) (*Strategy[P], error) {
	if prop.Pattern == "" || prop.Pattern == BaselinePattern {
		return nil, apperrors.Configurationf("strategy %q needs a pattern other than %q", prop.Name, BaselinePattern)
	}
	if e.cfg.MaxStrategies < 2 {
		return nil, apperrors.Configuration("strategy pool has no room beside the baseline")
	}

	s := &Strategy[P]{
		Name:        prop.Name,
		Description: prop.Description,
		Pattern:     prop.Pattern,
		Params:      prop.Params,
		CreatedAt:   prop.ProposedAt,
		metrics:     newStrategyMetrics(e.cfg.BreakerWindow),
		probation:   probation,
	}
	s.breaker = e.newBreaker(s)

	var records []StrategyRecord
	e.mu.Lock()
	for _, existing := range e.strategies {
		if existing.Name == s.Name {
			e.mu.Unlock()
			return nil, apperrors.Configurationf("strategy %q already registered", s.Name)
		}
	}
	if prev := e.exactLocked(s.Pattern); prev != nil {
		if probation > 0 {
			s.parent = prev
		} else {
			e.removeLocked(prev)
			records = append(records, e.recordLocked(prev, StatusRetired))
		}
	} else if probation > 0 {
		s.parent = e.matchLocked(s.Pattern)
	}

	var evicted *Strategy[P]
	if 1+len(e.strategies) >= e.cfg.MaxStrategies {
		evicted = e.worstLocked(s.parent)
		if evicted == nil {
			e.mu.Unlock()
			return nil, apperrors.Configuration("strategy pool is full")
		}
		e.removeLocked(evicted)
		records = append(records, e.recordLocked(evicted, StatusRetired))
	}
	e.strategies = append(e.strategies, s)
	status := StatusActive
	if probation > 0 {
		status = StatusProbation
	}
	records = append(records, e.recordLocked(s, status))
	e.mu.Unlock()

	if evicted != nil {
		e.collector.Count(ctx, observability.MetricAdaptiveEvictions, 1,
			observability.A(observability.AttrStrategy, evicted.Name),
		)
		e.log.Info("strategy evicted", logger.Fields(logger.FieldStrategy, evicted.Name))
	}
	e.log.Info("strategy admitted", logger.Fields(
		logger.FieldStrategy, s.Name,
		logger.FieldContextKey, s.Pattern,
		"status", status,
		"description", s.Description,
	))
	e.save(ctx, records...)
	return s, nil
}

func (e *Engine[P]) newBreaker(s *Strategy[P]) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:                 s.Name,
		FailureRateThreshold: e.cfg.BreakerThreshold,
		MinSamples:           e.cfg.BreakerMinSamples,
		WindowSize:           e.cfg.BreakerWindow,
		Timeout:              e.cfg.BreakerCooldown,
		HalfOpenMaxCalls:     1,
		Now:                  e.cfg.Now,
		OnStateChange: func(name string, from, to resilience.State) {
			fields := logger.Fields(logger.FieldStrategy, name, "from", from.String(), "to", to.String())
			if to == resilience.StateOpen {
				e.collector.Count(context.Background(), observability.MetricAdaptiveTrips, 1,
					observability.A(observability.AttrStrategy, name),
				)
				e.log.Warn("strategy breaker tripped, falling back to baseline", fields)
				return
			}
			e.log.Info("strategy breaker state changed", fields)
		},
	})
}

func (e *Engine[P]) exactLocked(pattern string) *Strategy[P] {
	for i := len(e.strategies) - 1; i >= 0; i-- {
		if e.strategies[i].Pattern == pattern {
			return e.strategies[i]
		}
	}
	return nil
}

// worstLocked picks the eviction victim: lowest success rate, then fewest
// executions, then least recently used. keep and probation strategies are
// never chosen.
func (e *Engine[P]) worstLocked(keep *Strategy[P]) *Strategy[P] {
	var worst *Strategy[P]
	var worstSnap MetricsSnapshot
	for _, s := range e.strategies {
		if s == keep || s.probation > 0 {
			continue
		}
		snap := s.metrics.Snapshot()
		if snap.Executions == 0 {
			snap.SuccessRate = 1
		}
		if worst == nil || worse(snap, worstSnap) {
			worst, worstSnap = s, snap
		}
	}
	return worst
}

func worse(a, b MetricsSnapshot) bool {
	if a.SuccessRate != b.SuccessRate {
		return a.SuccessRate < b.SuccessRate
	}
	if a.Executions != b.Executions {
		return a.Executions < b.Executions
	}
	return a.LastUsed.Before(b.LastUsed)
}

func (e *Engine[P]) removeLocked(s *Strategy[P]) {
	e.strategies = slices.DeleteFunc(e.strategies, func(x *Strategy[P]) bool { return x == s })
}

func (e *Engine[P]) recordLocked(s *Strategy[P], status string) StrategyRecord {
	params, err := encodeParams(s.Params)
	if err != nil {
		e.log.Warn("strategy params not encodable", logger.Fields(logger.FieldStrategy, s.Name, logger.FieldError, err.Error()))
	}
	return StrategyRecord{
		Engine:      e.cfg.Name,
		Kind:        e.cfg.Kind,
		Name:        s.Name,
		Description: s.Description,
		Pattern:     s.Pattern,
		Status:      status,
		Params:      params,
		Metrics:     s.metrics.Snapshot(),
		RecordedAt:  e.cfg.Now(),
	}
}

func (e *Engine[P]) proposalRecord(p Proposal[P]) (StrategyRecord, error) {
	params, err := encodeParams(p.Params)
	if err != nil {
		return StrategyRecord{}, err
	}
	return StrategyRecord{
		Engine:      e.cfg.Name,
		Kind:        e.cfg.Kind,
		Name:        p.Name,
		Description: p.Description,
		Pattern:     p.Pattern,
		Status:      StatusProposed,
		Params:      params,
		RecordedAt:  p.ProposedAt,
	}, nil
}

func (e *Engine[P]) save(ctx context.Context, recs ...StrategyRecord) {
	if e.cfg.Sink == nil {
		return
	}
	for _, rec := range recs {
		if err := e.cfg.Sink.Save(ctx, rec); err != nil {
			e.log.Warn("strategy sink write failed", logger.Fields(
				logger.FieldStrategy, rec.Name,
				logger.FieldError, err.Error(),
			))
		}
	}
}

// Restore loads active strategies persisted by earlier runs into the pool.
// Strategies beyond the pool bound are skipped. It returns how many were
// restored.
func (e *Engine[P]) Restore(ctx context.Context) (int, error) {
	if e.cfg.Sink == nil {
		return 0, nil
	}
	recs, err := e.cfg.Sink.Load(ctx, e.cfg.Name)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, rec := range latestByName(recs) {
		if rec.Status != StatusActive {
			continue
		}
		e.mu.Lock()
		full := 1+len(e.strategies) >= e.cfg.MaxStrategies
		e.mu.Unlock()
		if full {
			e.log.Warn("strategy pool full, skipping restore", logger.Fields(logger.FieldStrategy, rec.Name))
			continue
		}
		params, err := decodeParams[P](rec.Params)
		if err != nil {
			e.log.Warn("persisted strategy unreadable", logger.Fields(logger.FieldStrategy, rec.Name, logger.FieldError, err.Error()))
			continue
		}
		s := &Strategy[P]{
			Name:        rec.Name,
			Description: rec.Description,
			Pattern:     rec.Pattern,
			Params:      params,
			CreatedAt:   rec.RecordedAt,
			metrics:     newStrategyMetrics(e.cfg.BreakerWindow),
		}
		if s.Pattern == "" || s.Pattern == BaselinePattern {
			continue
		}
		s.breaker = e.newBreaker(s)
		e.mu.Lock()
		if prev := e.exactLocked(s.Pattern); prev != nil {
			e.removeLocked(prev)
		}
		e.strategies = append(e.strategies, s)
		e.mu.Unlock()
		restored++
	}
	if restored > 0 {
		e.log.Info("strategies restored", logger.Fields("count", restored))
	}
	return restored, nil
}

// Strategies returns a snapshot of the pool, baseline first.
func (e *Engine[P]) Strategies() []StrategyInfo[P] {
	e.mu.Lock()
	pool := append([]*Strategy[P]{e.baseline}, e.strategies...)
	probation := make([]int, len(pool))
	for i, s := range pool {
		probation[i] = s.probation
	}
	e.mu.Unlock()

	out := make([]StrategyInfo[P], len(pool))
	for i, s := range pool {
		info := StrategyInfo[P]{
			Name:        s.Name,
			Description: s.Description,
			Pattern:     s.Pattern,
			Params:      s.Params,
			Baseline:    s.Baseline,
			Probation:   probation[i],
			Breaker:     resilience.StateClosed.String(),
			CreatedAt:   s.CreatedAt,
			Metrics:     s.metrics.Snapshot(),
		}
		if s.breaker != nil {
			info.Breaker = s.breaker.State().String()
		}
		out[i] = info
	}
	return out
}

// Proposals returns the proposals recorded in Observe mode, oldest first.
func (e *Engine[P]) Proposals() []Proposal[P] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.proposals)
}

// CheckHealth reports degraded while any strategy breaker is not closed.
func (e *Engine[P]) CheckHealth(context.Context) observability.Health {
	e.mu.Lock()
	pool := slices.Clone(e.strategies)
	e.mu.Unlock()

	var open []string
	for _, s := range pool {
		if s.breaker.State() != resilience.StateClosed {
			open = append(open, s.Name)
		}
	}
	h := observability.Health{
		Name:   e.cfg.Name,
		Status: observability.HealthStatusUp,
		Details: map[string]string{
			"mode":       e.cfg.Mode.String(),
			"strategies": fmt.Sprint(len(pool) + 1),
		},
	}
	if len(open) > 0 {
		h.Status = observability.HealthStatusDegraded
		h.Message = "breaker open for " + strings.Join(open, ", ")
	}
	return h
}

func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, key)
}
