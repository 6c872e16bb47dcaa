package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOperations tracks record store operations by kind and collection
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_store_operations_total",
			Help: "Record store operations by operation and collection",
		},
		[]string{"operation", "collection"},
	)

	// ReadCacheHits tracks in-process read cache hits
	ReadCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_store_read_cache_hits_total",
			Help: "Record reads served from the in-process cache",
		},
	)

	// ReadCacheMisses tracks in-process read cache misses
	ReadCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_store_read_cache_misses_total",
			Help: "Record reads that had to hit SQLite",
		},
	)

	// StoreSweepRemoved tracks records removed by the TTL sweep
	StoreSweepRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_store_sweep_removed_total",
			Help: "Records removed by the periodic TTL sweep",
		},
	)
)
