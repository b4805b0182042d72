// Package redis provides Redis-backed durability for flowkit: a client with
// health reporting, a resilience.Store for caches and an adaptive.Sink for
// learned strategies.
//
// # Cache backing store
//
// CacheStore puts a durable tier behind resilience.Cache. Entries expire in
// Redis after the TTL in force when they were written, while reads still
// apply the caller's current TTL:
//
//	client, err := redis.New(redis.Config{Enabled: true, Addr: "localhost:6379"}, log)
//	cache, err := resilience.NewCache(fetch, resilience.CacheConfig[string]{
//	    Name:  "profiles",
//	    Store: redis.NewCacheStore(client, "profiles"),
//	})
//
// # Strategy persistence
//
// StrategySink keeps a bounded JSON list per engine so Engine.Restore can
// reload active strategies after a restart:
//
//	engine, err := adaptive.NewEngine(adaptive.EngineConfig[P]{
//	    Options: adaptive.Options{Sink: redis.NewStrategySink(client)},
//	    ...
//	}, learner)
package redis
