// Package flow defines the Primitive contract and the composition operators
// that build pipelines out of primitives.
//
// Every unit of work implements one method:
//
//	Execute(ctx context.Context, input I, ec *flow.ExecutionContext) (O, error)
//
// ExecutionContext carries the workflow and correlation ids of one run, an
// insertion-ordered state map for signaling between primitives, metadata tags
// (environment, priority, time sensitivity) read by the adaptive layer, and an
// advisory checkpoint list.
//
// # Composition
//
//	clean := flow.Func("clean", cleanFn)
//	enrich := flow.Func("enrich", enrichFn)
//	seq, err := flow.NewSequential("prepare", clean, enrich)
//
//	fan, err := flow.NewParallel(flow.ParallelConfig[Doc]{Mode: flow.CollectAll}, summarize, classify)
//
//	router, err := flow.NewRouter(flow.RouterConfig{DefaultKey: "general"}, byLanguage,
//	    map[string]flow.Primitive[Doc, Doc]{"general": general, "legal": legal})
//
// Failures of wrapped primitives pass through Sequential, Router and
// fail-fast Parallel unchanged, so callers can match them with errors.Is.
//
// # Middleware
//
//	p = flow.Chain(
//	    flow.WithLogging[Doc, Doc](log),
//	    flow.WithTracing[Doc, Doc](collector),
//	    flow.WithMetrics[Doc, Doc](collector),
//	)(p)
package flow
