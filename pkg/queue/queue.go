// Package queue replays writes that were accepted while the upstream was
// unreachable. Pending writes live in the record store's write_queue table so
// they survive restarts; delivery order per endpoint is creation order, and a
// drain stops at the first failure so later writes never overtake a failed
// earlier one.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shopfront/offline-gateway/pkg/connectivity"
	"github.com/shopfront/offline-gateway/pkg/store"
)

var (
	queueEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_queue_enqueued_total",
		Help: "Writes accepted into the offline queue by endpoint",
	}, []string{"endpoint"})

	queueDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_queue_delivered_total",
		Help: "Queued writes confirmed delivered by endpoint",
	}, []string{"endpoint"})

	queueDrainAborts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_queue_drain_aborts_total",
		Help: "Drains stopped early by a delivery failure, by endpoint",
	}, []string{"endpoint"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_queue_depth",
		Help: "Pending writes per endpoint",
	}, []string{"endpoint"})
)

// recoveryTag names the one-shot connectivity registration; enqueueing while
// offline coalesces onto this single tag.
const recoveryTag = "drain-pending-writes"

// Deliverer replays a single queued write. Satisfied by *remote.Client.
type Deliverer interface {
	Deliver(ctx context.Context, endpoint string, payload json.RawMessage) error
}

// DrainResult summarizes one drain pass over an endpoint's queue.
type DrainResult struct {
	Endpoint  string
	Delivered int
	Remaining int
}

// Queue coordinates durable storage and replay of offline writes.
type Queue struct {
	store     *store.Store
	deliverer Deliverer
	tracker   *connectivity.Tracker
	logger    zerolog.Logger
}

// New creates a queue. tracker may be nil when automatic drain-on-reconnect
// is not wanted (tests, one-shot tools).
func New(s *store.Store, d Deliverer, tracker *connectivity.Tracker) *Queue {
	if s == nil {
		panic("queue: store is required")
	}
	if d == nil {
		panic("queue: deliverer is required")
	}
	return &Queue{
		store:     s,
		deliverer: d,
		tracker:   tracker,
		logger:    log.With().Str("component", "write-queue").Logger(),
	}
}

// Enqueue persists a write for later delivery and returns its queue id.
// When a tracker is attached, a one-shot drain of all queued endpoints is
// registered for the next reconnect; repeated enqueues coalesce.
func (q *Queue) Enqueue(ctx context.Context, endpoint string, payload json.RawMessage) (int64, error) {
	id, err := q.store.EnqueueWrite(ctx, endpoint, payload)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}

	queueEnqueuedTotal.WithLabelValues(endpoint).Inc()
	q.updateDepthGauge(ctx, endpoint)
	q.logger.Info().
		Str("endpoint", endpoint).
		Int64("id", id).
		Msg("Write queued for later delivery")

	if q.tracker != nil {
		q.tracker.Register(recoveryTag, func(ctx context.Context) {
			if _, err := q.DrainAll(ctx); err != nil {
				q.logger.Warn().Err(err).Msg("Drain after reconnect incomplete")
			}
		})
	}

	return id, nil
}

// Depth returns the number of pending writes for endpoint.
func (q *Queue) Depth(ctx context.Context, endpoint string) (int, error) {
	return q.store.QueueDepth(ctx, endpoint)
}

// Drain replays endpoint's pending writes in creation order. Each confirmed
// delivery deletes its row immediately, so a failure mid-drain loses no
// progress: delivered writes stay gone, undelivered writes stay queued.
// The first failure stops the drain and is returned alongside the partial
// result.
func (q *Queue) Drain(ctx context.Context, endpoint string) (DrainResult, error) {
	result := DrainResult{Endpoint: endpoint}

	writes, err := q.store.PendingWrites(ctx, endpoint)
	if err != nil {
		return result, fmt.Errorf("drain %s: %w", endpoint, err)
	}
	result.Remaining = len(writes)

	for _, w := range writes {
		if err := q.deliverer.Deliver(ctx, w.Endpoint, w.Payload); err != nil {
			queueDrainAborts.WithLabelValues(endpoint).Inc()
			q.updateDepthGauge(ctx, endpoint)
			q.logger.Warn().
				Err(err).
				Str("endpoint", endpoint).
				Int64("id", w.ID).
				Int("delivered", result.Delivered).
				Int("remaining", result.Remaining).
				Msg("Drain stopped at first delivery failure")
			return result, fmt.Errorf("drain %s at write %d: %w", endpoint, w.ID, err)
		}

		if err := q.store.DeleteWrite(ctx, w.ID); err != nil {
			return result, fmt.Errorf("drain %s: confirm write %d: %w", endpoint, w.ID, err)
		}
		result.Delivered++
		result.Remaining--
		queueDeliveredTotal.WithLabelValues(endpoint).Inc()
	}

	q.updateDepthGauge(ctx, endpoint)
	if result.Delivered > 0 {
		q.logger.Info().
			Str("endpoint", endpoint).
			Int("delivered", result.Delivered).
			Msg("Queue drained")
	}
	return result, nil
}

// DrainAll drains every endpoint that has pending writes. A failure on one
// endpoint stops that endpoint's drain but the remaining endpoints are still
// attempted; the first error is returned.
func (q *Queue) DrainAll(ctx context.Context) ([]DrainResult, error) {
	endpoints, err := q.store.QueuedEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("drain all: %w", err)
	}

	var results []DrainResult
	var firstErr error
	for _, endpoint := range endpoints {
		result, err := q.Drain(ctx, endpoint)
		results = append(results, result)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return results, firstErr
}

func (q *Queue) updateDepthGauge(ctx context.Context, endpoint string) {
	depth, err := q.store.QueueDepth(ctx, endpoint)
	if err != nil {
		return
	}
	queueDepth.WithLabelValues(endpoint).Set(float64(depth))
}
