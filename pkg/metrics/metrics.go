// Package metrics provides the centralized Prometheus metrics registry for
// the offline gateway. All metrics are defined in their respective packages
// (cache, policy, strategy, store, queue, remote, connectivity, lifecycle)
// to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the gateway.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - gateway_cache_hits_total{role} (Counter): Cache hits by namespace role
//   - gateway_cache_misses_total{role} (Counter): Cache misses by namespace role
//   - gateway_cache_evictions_total{role, reason} (Counter): Evictions by role and reason (count, age)
//   - gateway_cache_namespace_entries{namespace} (Gauge): Entries per namespace
//   - gateway_cache_namespace_bytes{namespace} (Gauge): Approximate bytes per namespace
//   - gateway_cache_errors_total{operation} (Counter): Cache operation errors
//
// Classifier Metrics (pkg/policy):
//   - gateway_classifier_decisions_total{policy, role} (Counter): Routing decisions
//
// Strategy Metrics (pkg/strategy):
//   - gateway_strategy_results_total{policy, source} (Counter): Responses by policy and source
//   - gateway_revalidation_failures_total (Counter): Failed background revalidations
//
// Record Store Metrics (pkg/store):
//   - gateway_store_operations_total{operation, collection} (Counter): Store operations
//   - gateway_store_read_cache_hits_total (Counter): Reads served from the in-process cache
//   - gateway_store_read_cache_misses_total (Counter): Reads that hit SQLite
//   - gateway_store_sweep_removed_total (Counter): Records removed by TTL sweeps
//
// Write Queue Metrics (pkg/queue):
//   - gateway_queue_enqueued_total{endpoint} (Counter): Writes accepted into the queue
//   - gateway_queue_delivered_total{endpoint} (Counter): Writes confirmed delivered
//   - gateway_queue_drain_aborts_total{endpoint} (Counter): Drains stopped by a failure
//   - gateway_queue_depth{endpoint} (Gauge): Pending writes per endpoint
//
// Remote Client Metrics (pkg/remote):
//   - gateway_remote_requests_total{endpoint, status} (Counter): Upstream requests
//   - gateway_remote_request_duration_seconds{endpoint} (Histogram): Upstream latency
//   - gateway_remote_errors_total{class} (Counter): Errors by class (client, server, network)
//   - gateway_remote_retries_total{error_class} (Counter): Retry attempts
//   - gateway_remote_retry_backoff_seconds{error_class} (Histogram): Backoff durations
//   - gateway_remote_retry_exhausted_total{error_class} (Counter): Exhausted retries
//
// Connectivity Metrics (pkg/connectivity):
//   - gateway_connectivity_online (Gauge): 1 online, 0 offline
//   - gateway_connectivity_transitions_total{to} (Counter): State transitions
//   - gateway_connectivity_recovery_callbacks_total (Counter): Recovery callbacks fired
//
// Sync Metrics (pkg/syncer):
//   - gateway_sync_pulls_total{collection, result} (Counter): Pull attempts
//   - gateway_sync_records_applied_total{collection, kind} (Counter): Upserts by kind
//   - gateway_sync_pushes_total{collection, result} (Counter): Push attempts
//
// Lifecycle Metrics (pkg/lifecycle):
//   - gateway_lifecycle_events_total{event, result} (Counter): Lifecycle events
//   - gateway_control_messages_total{type, result} (Counter): Control messages
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(gateway_cache_hits_total[5m])) /
//   (sum(rate(gateway_cache_hits_total[5m])) + sum(rate(gateway_cache_misses_total[5m])))
//
//   # Offline Time Share
//   avg_over_time(gateway_connectivity_online[1h])
//
//   # Queue Backlog
//   sum(gateway_queue_depth)
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(gateway_remote_request_duration_seconds_bucket[5m]))
