// Package connectivity tracks whether the upstream API is reachable and
// fires one-shot recovery callbacks when it comes back.
//
// The tracker is fed by the remote client: every successful exchange calls
// ReportSuccess, every network-level failure calls ReportFailure. Components
// that have work parked behind an outage (the write queue, the sync engine)
// register a tagged callback; registering the same tag twice coalesces into
// one pending callback, and all pending callbacks fire exactly once on the
// next offline-to-online transition.
package connectivity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	connectivityState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_connectivity_online",
		Help: "1 when the upstream is considered reachable, 0 when offline",
	})

	connectivityTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_connectivity_transitions_total",
		Help: "Connectivity state transitions by resulting state",
	}, []string{"to"})

	recoveryCallbacksFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_connectivity_recovery_callbacks_total",
		Help: "One-shot recovery callbacks fired on reconnect",
	})
)

// RecoveryFunc runs when connectivity returns after an outage.
type RecoveryFunc func(ctx context.Context)

// Tracker holds the process-local connectivity state.
type Tracker struct {
	mu            sync.Mutex
	online        bool
	since         time.Time
	failures      int
	registrations map[string]RecoveryFunc
	logger        zerolog.Logger
}

// NewTracker creates a tracker that starts out online; the first failed
// exchange flips it offline.
func NewTracker(logger zerolog.Logger) *Tracker {
	connectivityState.Set(1)
	return &Tracker{
		online:        true,
		since:         time.Now(),
		registrations: make(map[string]RecoveryFunc),
		logger:        logger,
	}
}

// ReportSuccess records a successful remote exchange. On an offline-to-online
// transition it fires all pending recovery callbacks, in tag order, before
// returning.
func (t *Tracker) ReportSuccess(ctx context.Context) {
	t.mu.Lock()
	t.failures = 0
	if t.online {
		t.mu.Unlock()
		return
	}

	t.online = true
	t.since = time.Now()
	pending := t.registrations
	t.registrations = make(map[string]RecoveryFunc)
	t.mu.Unlock()

	connectivityState.Set(1)
	connectivityTransitions.WithLabelValues(string(StateOnline)).Inc()
	t.logger.Info().
		Int("pending_callbacks", len(pending)).
		Msg("Upstream reachable again")

	tags := make([]string, 0, len(pending))
	for tag := range pending {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		t.logger.Debug().Str("tag", tag).Msg("Firing recovery callback")
		recoveryCallbacksFired.Inc()
		pending[tag](ctx)
	}
}

// ReportFailure records a network-level failure of a remote exchange.
func (t *Tracker) ReportFailure(err error) {
	t.mu.Lock()
	t.failures++
	failures := t.failures
	wasOnline := t.online
	if wasOnline {
		t.online = false
		t.since = time.Now()
	}
	t.mu.Unlock()

	if !wasOnline {
		return
	}

	connectivityState.Set(0)
	connectivityTransitions.WithLabelValues(string(StateOffline)).Inc()
	t.logger.Warn().
		Err(err).
		Int("consecutive_failures", failures).
		Msg("Upstream unreachable, entering offline state")
}

// Register queues fn to run once on the next offline-to-online transition.
// Registering an already-pending tag replaces its callback, so repeated
// failures while offline never stack duplicate work. If the tracker is
// currently online the callback still waits for a full outage/recovery
// cycle; callers that want immediate work should check Online first.
func (t *Tracker) Register(tag string, fn RecoveryFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registrations[tag] = fn
}

// Online reports the current reachability verdict.
func (t *Tracker) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

// State returns a consistent snapshot for diagnostics.
func (t *Tracker) State() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := StateOnline
	if !t.online {
		state = StateOffline
	}
	return Snapshot{
		State:                state,
		Since:                t.since,
		ConsecutiveFailures:  t.failures,
		PendingRegistrations: len(t.registrations),
	}
}
