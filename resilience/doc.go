// Package resilience provides failure-handling primitives that wrap any
// flow.Primitive.
//
// This package includes:
//   - Retry: re-executes with exponential backoff and jitter
//   - Timeout: races a deadline (plus grace) and falls back or fails
//   - Fallback: tries alternatives, surfacing the primary's error if all fail
//   - Saga / SagaChain: compensates forward work on failure
//   - Cache: memoizes results with TTL, bounded size and an optional durable Store
//   - Breaker, Bulkheaded, RateLimited: circuit breaking, concurrency and rate limits
//
// Wrappers compose like any other primitive:
//
//	call := flow.Func("llm", callModel)
//	timed, _ := resilience.NewTimeout(call, resilience.TimeoutConfig{Timeout: 2 * time.Second}, nil)
//	retried, _ := resilience.NewRetry[Prompt, Answer](timed, resilience.DefaultRetryConfig())
//	cached, _ := resilience.NewCache[Prompt, Answer](retried, resilience.CacheConfig[Prompt]{
//	    CachePolicy: resilience.CachePolicy{TTL: time.Minute, MaxEntries: 500},
//	    Store:       redisStore,
//	})
//
// Retry and Timeout raise RETRIES_EXHAUSTED and TIMEOUT_EXCEEDED errors that
// wrap the underlying cause. Every other failure passes through unchanged.
package resilience
