package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by namespace role
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"role"},
	)

	// CacheMisses tracks cache misses by namespace role
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"role"},
	)

	// CacheEvictions tracks evicted entries by role and reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_evictions_total",
			Help: "Total number of evicted cache entries",
		},
		[]string{"role", "reason"}, // reason: "count", "age"
	)

	// CacheNamespaceEntries tracks entry counts per namespace
	CacheNamespaceEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_cache_namespace_entries",
			Help: "Current number of entries per cache namespace",
		},
		[]string{"namespace"},
	)

	// CacheNamespaceBytes tracks stored bytes per namespace
	CacheNamespaceBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_cache_namespace_bytes",
			Help: "Current size of each cache namespace in bytes",
		},
		[]string{"namespace"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "put", "match", "delete", "evict"
	)
)
