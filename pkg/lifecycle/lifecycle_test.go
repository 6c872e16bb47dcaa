package lifecycle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/shopfront/offline-gateway/pkg/cache"
	"github.com/shopfront/offline-gateway/pkg/queue"
	"github.com/shopfront/offline-gateway/pkg/store"
	"github.com/shopfront/offline-gateway/pkg/syncer"
)

// setupTestRedis creates a test Redis client; skips when none is reachable.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func testStore(t *testing.T) *store.Store {
	t.Helper()

	cfg := store.DefaultConfig(filepath.Join(t.TempDir(), "lifecycle.db"))
	cfg.Logger = zerolog.Nop()
	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open store failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testCoordinator(t *testing.T, cfg Config) *Coordinator {
	t.Helper()

	if cfg.Cache == nil {
		cfg.Cache = cache.NewManager(setupTestRedis(t), zerolog.Nop())
	}
	if cfg.Store == nil {
		cfg.Store = testStore(t)
	}
	if len(cfg.Namespaces) == 0 {
		cfg.Namespaces = []cache.Config{
			{Role: cache.RoleStatic, Version: "v1"},
			{Role: cache.RoleAPI, Version: "v1", MaxAge: time.Minute},
		}
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New without collaborators should fail")
	}
}

func TestCoordinator_UnknownEvent(t *testing.T) {
	c := testCoordinator(t, Config{})

	if err := c.Handle(context.Background(), EventKind("reboot")); err == nil {
		t.Error("unknown event should fail")
	}
}

func TestCoordinator_InstallOpensNamespacesAndPrecaches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>shell</html>"))
	}))
	defer server.Close()

	c := testCoordinator(t, Config{
		Fetcher:    http.DefaultClient,
		BootAssets: []string{server.URL + "/", server.URL + "/app.js"},
	})
	ctx := context.Background()

	if err := c.Handle(ctx, EventInstall); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	static := c.Namespace(cache.RoleStatic)
	if static == nil {
		t.Fatal("static namespace not open after install")
	}
	if c.Namespace(cache.RoleAPI) == nil {
		t.Fatal("api namespace not open after install")
	}

	n, err := static.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 2 {
		t.Errorf("precached entries = %d, want 2", n)
	}
}

func TestCoordinator_InstallAbortsOnFailedAsset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.js" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := testCoordinator(t, Config{
		Fetcher:    http.DefaultClient,
		BootAssets: []string{server.URL + "/", server.URL + "/missing.js"},
	})

	if err := c.Handle(context.Background(), EventInstall); err == nil {
		t.Error("install must abort when a boot asset fails")
	}
}

func TestCoordinator_ActivatePurgesOldVersions(t *testing.T) {
	redisClient := setupTestRedis(t)
	manager := cache.NewManager(redisClient, zerolog.Nop())
	ctx := context.Background()

	// An old static version exists before the new config installs.
	if _, err := manager.Open(ctx, cache.Config{Role: cache.RoleStatic, Version: "v1"}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	c := testCoordinator(t, Config{
		Cache: manager,
		Namespaces: []cache.Config{
			{Role: cache.RoleStatic, Version: "v2"},
		},
	})
	if err := c.Handle(ctx, EventInstall); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if err := c.Handle(ctx, EventActivate); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	stats, err := manager.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	for _, st := range stats {
		if st.Name == "static:v1" {
			t.Error("old version survived activation")
		}
	}
}

func TestCoordinator_OfflineFallback(t *testing.T) {
	c := testCoordinator(t, Config{OfflinePage: "/offline.html"})
	ctx := context.Background()

	if err := c.Handle(ctx, EventInstall); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	entry := &cache.Entry{
		Data:       []byte("<html>offline</html>"),
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
		StoredAt:   time.Now(),
	}
	if err := c.Namespace(cache.RoleStatic).Put(ctx, "/offline.html", entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	fallback := c.OfflineFallback()
	if fallback == nil {
		t.Fatal("fallback should be configured")
	}
	got, err := fallback(ctx)
	if err != nil {
		t.Fatalf("fallback failed: %v", err)
	}
	if string(got.Data) != "<html>offline</html>" {
		t.Errorf("fallback data = %q", got.Data)
	}
}

func TestCoordinator_OfflineFallbackUnconfigured(t *testing.T) {
	c := testCoordinator(t, Config{})
	if c.OfflineFallback() != nil {
		t.Error("fallback should be nil without an offline page")
	}
}

type snapshotRemote struct{ snapshot string }

func (r *snapshotRemote) FetchAction(ctx context.Context, action string) (json.RawMessage, error) {
	return json.RawMessage(r.snapshot), nil
}

func (r *snapshotRemote) Post(ctx context.Context, endpoint string, payload json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func TestCoordinator_PeriodicSweepsAndRefreshes(t *testing.T) {
	s := testStore(t)
	sy := syncer.New(s, &snapshotRemote{snapshot: `[{"id":"p-1","name":"Nimbus"}]`})

	c := testCoordinator(t, Config{
		Store:  s,
		Syncer: sy,
		Collections: []syncer.Collection{
			{Name: store.CollectionProducts, Action: "getProducts", KeyField: "id"},
		},
	})
	ctx := context.Background()

	if err := c.Handle(ctx, EventInstall); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if err := c.Handle(ctx, EventPeriodic); err != nil {
		t.Fatalf("periodic failed: %v", err)
	}

	if _, err := s.Get(ctx, store.CollectionProducts, "p-1"); err != nil {
		t.Errorf("periodic refresh did not pull snapshot: %v", err)
	}
}

type recordingDeliverer struct{ delivered []string }

func (d *recordingDeliverer) Deliver(ctx context.Context, endpoint string, payload json.RawMessage) error {
	d.delivered = append(d.delivered, string(payload))
	return nil
}

// Recovery callbacks may never fire, so the periodic event retries any
// queued writes.
func TestCoordinator_PeriodicDrainsQueuedWrites(t *testing.T) {
	s := testStore(t)
	deliverer := &recordingDeliverer{}
	q := queue.New(s, deliverer, nil)

	c := testCoordinator(t, Config{Store: s, Queue: q})
	ctx := context.Background()

	if err := c.Handle(ctx, EventInstall); err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, "/api/orders", json.RawMessage(`{"order":"A"}`)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := c.Handle(ctx, EventPeriodic); err != nil {
		t.Fatalf("periodic failed: %v", err)
	}

	if len(deliverer.delivered) != 1 || deliverer.delivered[0] != `{"order":"A"}` {
		t.Errorf("delivered = %v", deliverer.delivered)
	}
	depth, err := q.Depth(ctx, "/api/orders")
	if err != nil {
		t.Fatalf("Depth failed: %v", err)
	}
	if depth != 0 {
		t.Errorf("queue depth after periodic = %d, want 0", depth)
	}
}

func TestCoordinator_ControlMessages(t *testing.T) {
	c := testCoordinator(t, Config{})
	ctx := context.Background()

	if err := c.Handle(ctx, EventInstall); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	reply := c.HandleMessage(ctx, Message{Type: MsgCacheStats})
	if !reply.OK {
		t.Errorf("cache-stats reply = %+v", reply)
	}
	if len(reply.Stats) == 0 {
		t.Error("cache-stats should report namespaces")
	}

	reply = c.HandleMessage(ctx, Message{Type: MsgForceActivate})
	if !reply.OK {
		t.Errorf("force-activate reply = %+v", reply)
	}

	reply = c.HandleMessage(ctx, Message{Type: MsgClearCaches})
	if !reply.OK {
		t.Errorf("clear-caches reply = %+v", reply)
	}

	reply = c.HandleMessage(ctx, Message{Type: "self-destruct"})
	if reply.OK || reply.Error == "" {
		t.Errorf("unknown message reply = %+v", reply)
	}
}
