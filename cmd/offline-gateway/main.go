// The offline-gateway serves a product-catalog frontend through a layer of
// versioned caches, a durable offline write queue and a synced local record
// store, so the application keeps working across upstream outages.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/shopfront/offline-gateway/pkg/cache"
	"github.com/shopfront/offline-gateway/pkg/connectivity"
	"github.com/shopfront/offline-gateway/pkg/lifecycle"
	"github.com/shopfront/offline-gateway/pkg/logging"
	"github.com/shopfront/offline-gateway/pkg/policy"
	"github.com/shopfront/offline-gateway/pkg/queue"
	"github.com/shopfront/offline-gateway/pkg/remote"
	"github.com/shopfront/offline-gateway/pkg/store"
	"github.com/shopfront/offline-gateway/pkg/strategy"
	"github.com/shopfront/offline-gateway/pkg/syncer"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		logger.Fatal().Err(err).Str("url", cfg.UpstreamURL).Msg("Invalid upstream URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis backs the namespaced response caches.
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()
	logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")

	// SQLite backs records, the write queue and sync watermarks.
	storeCfg := store.DefaultConfig(cfg.StorePath)
	recordStore, err := store.Open(storeCfg)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.StorePath).Msg("Failed to open record store")
	}
	defer recordStore.Close()

	tracker := connectivity.NewTracker(logging.NewLogger("connectivity"))

	remoteClient, err := remote.New(remote.Config{
		BaseURL: cfg.UpstreamURL,
		Tracker: tracker,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create remote client")
	}

	writeQueue := queue.New(recordStore, remoteClient, tracker)
	sync := syncer.New(recordStore, remoteClient)
	collections := []syncer.Collection{
		{Name: store.CollectionProducts, Action: "getProducts", KeyField: "id"},
		{Name: store.CollectionCategories, Action: "getCategories", KeyField: "id"},
	}

	rules := policy.DefaultRules()
	if cfg.RulesPath != "" {
		rules, err = policy.LoadRules(cfg.RulesPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.RulesPath).Msg("Failed to load classification rules")
		}
	}
	classifier, err := policy.NewClassifier(rules)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid classification rules")
	}

	bootAssets := make([]string, 0, len(cfg.BootAssets))
	for _, path := range cfg.BootAssets {
		bootAssets = append(bootAssets, cfg.UpstreamURL+path)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	coordinator, err := lifecycle.New(lifecycle.Config{
		Cache:       cache.NewManager(redisClient, logging.NewLogger("cache")),
		Namespaces:  namespaceConfigs(cfg.CacheVersion),
		Store:       recordStore,
		Queue:       writeQueue,
		Syncer:      sync,
		Collections: collections,
		Fetcher:     httpClient,
		BootAssets:  bootAssets,
		OfflinePage: cfg.OfflinePage,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create lifecycle coordinator")
	}

	if err := coordinator.Handle(ctx, lifecycle.EventInstall); err != nil {
		logger.Fatal().Err(err).Msg("Install failed")
	}
	if err := coordinator.Handle(ctx, lifecycle.EventActivate); err != nil {
		logger.Fatal().Err(err).Msg("Activate failed")
	}

	// Reconnects replay queued writes and refresh synced collections.
	tracker.Register("lifecycle-online", func(ctx context.Context) {
		if err := coordinator.Handle(ctx, lifecycle.EventOnline); err != nil {
			logger.Warn().Err(err).Msg("Reconnect handling incomplete")
		}
	})

	engine := strategy.New(httpClient, coordinator.OfflineFallback(), logging.NewLogger("strategy"))
	gw := newGateway(classifier, engine, coordinator, writeQueue, tracker, upstream, httpClient, logging.NewLogger("gateway"))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/control", controlHandler(coordinator, logger))
	mux.Handle("/", gw)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go periodicLoop(ctx, coordinator, cfg.PeriodicInterval, logger)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Str("addr", cfg.ListenAddr).
		Str("upstream", cfg.UpstreamURL).
		Str("cache_version", cfg.CacheVersion).
		Msg("Gateway listening")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Gateway stopped")
}

// namespaceConfigs builds the cache generation for one version tag.
func namespaceConfigs(version string) []cache.Config {
	return []cache.Config{
		{Role: cache.RoleStatic, Version: version},
		{Role: cache.RoleDynamic, Version: version, MaxItems: 50},
		{Role: cache.RoleImages, Version: version, MaxItems: 200},
		{Role: cache.RoleFonts, Version: version},
		{Role: cache.RoleAPI, Version: version, MaxItems: 100, MaxAge: 5 * time.Minute},
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// controlHandler accepts typed control messages and replies in kind.
func controlHandler(coordinator *lifecycle.Coordinator, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var msg lifecycle.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "invalid message", http.StatusBadRequest)
			return
		}

		reply := coordinator.HandleMessage(r.Context(), msg)
		w.Header().Set("Content-Type", "application/json")
		if !reply.OK {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}
		json.NewEncoder(w).Encode(reply)
	}
}

// periodicLoop fires the maintenance event on a fixed interval until the
// context ends.
func periodicLoop(ctx context.Context, coordinator *lifecycle.Coordinator, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := coordinator.Handle(ctx, lifecycle.EventPeriodic); err != nil {
				logger.Warn().Err(err).Msg("Periodic maintenance incomplete")
			}
		}
	}
}
