package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by entity kind
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghinv_cache_hits_total",
			Help: "Total number of enrichment cache hits",
		},
		[]string{"kind"}, // "repo", "org"
	)

	// CacheMisses tracks cache misses by entity kind
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghinv_cache_misses_total",
			Help: "Total number of enrichment cache misses",
		},
		[]string{"kind"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghinv_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
