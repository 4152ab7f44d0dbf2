// Package cache provides enrichment-result caching with a Redis backend.
//
// Enrichment spends REST quota on every repository and organization it
// visits. The cache keeps those derived counts for a day so an
// interrupted crawl resumed the same day does not re-spend quota on
// entities it already enriched.
//
// Features:
//
// - Deterministic, versioned key generation (ghinv:v1:...)
// - Automatic TTL management via the entry's Expires field
// - Nil-safe: without a Redis client every Get misses and Set is a no-op
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{Kind: cache.KindRepository, Owner: "acme", Name: "web-app"}
//
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// Fetched fresh - store for the rest of the day
//		entry, _ = cache.NewEntry(derived, cache.DefaultTTL)
//		_ = manager.Set(ctx, key, entry)
//	}
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - ghinv_cache_hits_total{kind} - Cache hits by entity kind
//   - ghinv_cache_misses_total{kind} - Cache misses by entity kind
//   - ghinv_cache_errors_total{operation} - Cache operation errors
package cache
