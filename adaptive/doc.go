// Package adaptive learns resilience parameters per execution context.
//
// An Engine owns a bounded pool of strategies for one wrapped primitive: an
// immutable baseline plus learned strategies scoped to context patterns. Each
// execution selects the best-matching strategy, runs the wrapped resilience
// primitive with its parameters, records the outcome on the strategy's
// metrics and lets a kind-specific Learner propose a replacement.
//
// The learning Mode controls what happens to proposals:
//
//	Disabled  learners are never consulted
//	Observe   proposals are recorded (and sent to the Sink) but not applied
//	Validate  proposals enter the pool on probation and are promoted or
//	          rejected after ValidationWindow executions
//	Active    proposals are eligible immediately
//
// Every learned strategy is guarded by a failure-rate circuit breaker; while
// it is open the context falls back to the baseline.
//
// AdaptiveCache, AdaptiveRetry and AdaptiveTimeout wrap resilience.Cache,
// resilience.Retry and resilience.Timeout respectively.
package adaptive
