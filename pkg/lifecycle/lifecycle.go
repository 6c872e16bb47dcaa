// Package lifecycle coordinates the gateway's long-running phases: install
// (open namespaces and precache the boot set), activate (purge outdated
// namespace versions), periodic maintenance (TTL sweeps, queue retry and
// catalog refresh) and reconnect handling (queue drain plus pulls). Events dispatch through a
// single table so every phase is invoked the same way.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shopfront/offline-gateway/pkg/cache"
	"github.com/shopfront/offline-gateway/pkg/queue"
	"github.com/shopfront/offline-gateway/pkg/store"
	"github.com/shopfront/offline-gateway/pkg/strategy"
	"github.com/shopfront/offline-gateway/pkg/syncer"
)

var lifecycleEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gateway_lifecycle_events_total",
	Help: "Lifecycle events by kind and result",
}, []string{"event", "result"})

// EventKind names a lifecycle phase.
type EventKind string

const (
	// EventInstall opens the configured namespaces and precaches boot assets.
	EventInstall EventKind = "install"

	// EventActivate deletes namespace versions no longer configured.
	EventActivate EventKind = "activate"

	// EventPeriodic runs TTL sweeps, retries queued writes and refreshes
	// synced collections.
	EventPeriodic EventKind = "periodic"

	// EventOnline drains the write queue and pulls fresh snapshots.
	EventOnline EventKind = "online"
)

// Config wires the coordinator's collaborators.
type Config struct {
	Cache       *cache.Manager
	Namespaces  []cache.Config
	Store       *store.Store
	Queue       *queue.Queue
	Syncer      *syncer.Syncer
	Collections []syncer.Collection
	Fetcher     strategy.Fetcher

	// BootAssets are absolute URLs fetched and cached into the static
	// namespace during install. Any failure aborts the install.
	BootAssets []string

	// OfflinePage is the boot asset served to failed navigations, as a
	// request key into the static namespace.
	OfflinePage string
}

// Coordinator runs lifecycle events against the gateway's components.
type Coordinator struct {
	cfg        Config
	namespaces map[cache.Role]*cache.Namespace
	handlers   map[EventKind]func(context.Context) error
	logger     zerolog.Logger
}

// New creates a coordinator. Namespaces are opened by the install event, not
// here, so a fresh process must Handle(EventInstall) before serving.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache manager is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if len(cfg.Namespaces) == 0 {
		return nil, fmt.Errorf("at least one namespace is required")
	}
	if len(cfg.BootAssets) > 0 && cfg.Fetcher == nil {
		return nil, fmt.Errorf("boot assets require a fetcher")
	}

	c := &Coordinator{
		cfg:        cfg,
		namespaces: make(map[cache.Role]*cache.Namespace),
		logger:     log.With().Str("component", "lifecycle").Logger(),
	}
	c.handlers = map[EventKind]func(context.Context) error{
		EventInstall:  c.install,
		EventActivate: c.activate,
		EventPeriodic: c.periodic,
		EventOnline:   c.online,
	}
	return c, nil
}

// Handle dispatches one lifecycle event.
func (c *Coordinator) Handle(ctx context.Context, kind EventKind) error {
	handler, ok := c.handlers[kind]
	if !ok {
		return fmt.Errorf("unknown lifecycle event %q", kind)
	}

	err := handler(ctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	lifecycleEventsTotal.WithLabelValues(string(kind), result).Inc()
	return err
}

// Namespace returns the open handle for a role, or nil before install.
func (c *Coordinator) Namespace(role cache.Role) *cache.Namespace {
	return c.namespaces[role]
}

// OfflineFallback builds the strategy fallback that serves the configured
// offline page out of the static namespace. Returns nil when no offline page
// is configured.
func (c *Coordinator) OfflineFallback() strategy.FallbackFunc {
	if c.cfg.OfflinePage == "" {
		return nil
	}
	return func(ctx context.Context) (*cache.Entry, error) {
		ns := c.namespaces[cache.RoleStatic]
		if ns == nil {
			return nil, fmt.Errorf("static namespace not open")
		}
		return ns.Match(ctx, c.cfg.OfflinePage)
	}
}

// install opens every configured namespace and precaches the boot assets into
// the static namespace. Precaching is all-or-nothing: one failed asset aborts
// the install so a half-cached shell is never activated.
func (c *Coordinator) install(ctx context.Context) error {
	for _, nsCfg := range c.cfg.Namespaces {
		ns, err := c.cfg.Cache.Open(ctx, nsCfg)
		if err != nil {
			return fmt.Errorf("install: open namespace %s: %w", nsCfg.Name(), err)
		}
		c.namespaces[nsCfg.Role] = ns
	}

	static := c.namespaces[cache.RoleStatic]
	if len(c.cfg.BootAssets) > 0 && static == nil {
		return fmt.Errorf("install: boot assets configured but no static namespace")
	}

	for _, asset := range c.cfg.BootAssets {
		if err := c.precache(ctx, static, asset); err != nil {
			return fmt.Errorf("install: %w", err)
		}
	}

	c.logger.Info().
		Int("namespaces", len(c.namespaces)).
		Int("boot_assets", len(c.cfg.BootAssets)).
		Msg("Install complete")
	return nil
}

// precache fetches one boot asset and stores it in the static namespace.
func (c *Coordinator) precache(ctx context.Context, ns *cache.Namespace, asset string) error {
	u, err := url.Parse(asset)
	if err != nil {
		return fmt.Errorf("precache %s: %w", asset, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset, nil)
	if err != nil {
		return fmt.Errorf("precache %s: %w", asset, err)
	}

	resp, err := c.cfg.Fetcher.Do(req)
	if err != nil {
		return fmt.Errorf("precache %s: %w", asset, err)
	}
	defer resp.Body.Close()

	if !cache.Cacheable(resp) {
		return fmt.Errorf("precache %s: status %d", asset, resp.StatusCode)
	}

	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		return fmt.Errorf("precache %s: %w", asset, err)
	}
	if err := ns.Put(ctx, cache.RequestKey(u), entry); err != nil {
		return fmt.Errorf("precache %s: %w", asset, err)
	}

	c.logger.Debug().Str("asset", asset).Msg("Boot asset precached")
	return nil
}

// activate deletes every registered namespace version that is not in the
// current configuration. Same-role older versions disappear here, which is
// what makes a version bump an atomic cutover.
func (c *Coordinator) activate(ctx context.Context) error {
	purged, err := c.cfg.Cache.PurgeStale(ctx, c.cfg.Namespaces)
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	if len(purged) > 0 {
		c.logger.Info().Strs("purged", purged).Msg("Outdated namespace versions purged")
	}
	return nil
}

// periodic runs the maintenance pass: record-store TTL sweep, per-namespace
// age sweeps, a drain attempt on any queued writes, and a refresh pull of
// every synced collection. The drain is the fallback for recovery callbacks
// that never fired. Each step runs even when an earlier one fails; the errors
// are joined.
func (c *Coordinator) periodic(ctx context.Context) error {
	now := time.Now()
	var errs []error

	if _, err := c.cfg.Store.SweepExpired(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("periodic: store sweep: %w", err))
	}

	for role, ns := range c.namespaces {
		if _, err := ns.SweepExpired(ctx, now); err != nil {
			errs = append(errs, fmt.Errorf("periodic: sweep namespace %s: %w", role, err))
		}
	}

	if c.cfg.Queue != nil {
		if _, err := c.cfg.Queue.DrainAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("periodic: %w", err))
		}
	}

	if c.cfg.Syncer != nil {
		if err := c.cfg.Syncer.PullAll(ctx, c.cfg.Collections); err != nil {
			errs = append(errs, fmt.Errorf("periodic: %w", err))
		}
	}

	return errors.Join(errs...)
}

// online handles a reconnect: replay queued writes first, then refresh the
// synced collections so local reads see the post-replay upstream state.
func (c *Coordinator) online(ctx context.Context) error {
	var errs []error

	if c.cfg.Queue != nil {
		if _, err := c.cfg.Queue.DrainAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("online: %w", err))
		}
	}

	if c.cfg.Syncer != nil {
		if err := c.cfg.Syncer.PullAll(ctx, c.cfg.Collections); err != nil {
			errs = append(errs, fmt.Errorf("online: %w", err))
		}
	}

	return errors.Join(errs...)
}
