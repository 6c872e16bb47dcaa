package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/shopfront/offline-gateway/pkg/cache"
	"github.com/shopfront/offline-gateway/pkg/lifecycle"
	"github.com/shopfront/offline-gateway/pkg/policy"
	"github.com/shopfront/offline-gateway/pkg/queue"
	"github.com/shopfront/offline-gateway/pkg/store"
	"github.com/shopfront/offline-gateway/pkg/strategy"
)

type noopDeliverer struct{}

func (noopDeliverer) Deliver(ctx context.Context, endpoint string, payload json.RawMessage) error {
	return nil
}

// testGateway builds a gateway whose coordinator has no open namespaces, so
// classified reads fall through to the reverse proxy. Redis is never dialed.
func testGateway(t *testing.T, upstreamURL string) (*gateway, *store.Store) {
	t.Helper()

	upstream, err := url.Parse(upstreamURL)
	if err != nil {
		t.Fatalf("parse upstream: %v", err)
	}

	storeCfg := store.DefaultConfig(filepath.Join(t.TempDir(), "gw.db"))
	storeCfg.Logger = zerolog.Nop()
	recordStore, err := store.Open(storeCfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { recordStore.Close() })

	manager := cache.NewManager(redis.NewClient(&redis.Options{Addr: "localhost:0"}), zerolog.Nop())
	coordinator, err := lifecycle.New(lifecycle.Config{
		Cache:      manager,
		Store:      recordStore,
		Namespaces: namespaceConfigs("v1"),
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	classifier, err := policy.NewClassifier(policy.DefaultRules())
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}

	q := queue.New(recordStore, noopDeliverer{}, nil)
	engine := strategy.New(http.DefaultClient, nil, zerolog.Nop())
	gw := newGateway(classifier, engine, coordinator, q, nil, upstream, http.DefaultClient, zerolog.Nop())
	return gw, recordStore
}

func TestGateway_WriteForwardedWhenUpstreamUp(t *testing.T) {
	var gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(`{"success":true}`))
	}))
	defer upstream.Close()

	gw, _ := testGateway(t, upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"order":"A"}`))
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if gotBody != `{"order":"A"}` {
		t.Errorf("upstream body = %q", gotBody)
	}
}

func TestGateway_WriteQueuedWhenUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close() // dead upstream: dial fails

	gw, recordStore := testGateway(t, upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"order":"A"}`))
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	var reply map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply["queued"] != true {
		t.Errorf("reply = %v", reply)
	}

	writes, err := recordStore.PendingWrites(context.Background(), "/api/orders")
	if err != nil {
		t.Fatalf("PendingWrites failed: %v", err)
	}
	if len(writes) != 1 || string(writes[0].Payload) != `{"order":"A"}` {
		t.Errorf("queued writes = %v", writes)
	}
}

func TestGateway_ClassifiedGetWithoutNamespacePassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("proxied"))
	}))
	defer upstream.Close()

	gw, _ := testGateway(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "proxied" {
		t.Errorf("response = %d %q", rec.Code, rec.Body.String())
	}
}

func TestGateway_NonGetNonWritePassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	gw, _ := testGateway(t, upstream.URL)

	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestIsWriteMethod(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		if !isWriteMethod(method) {
			t.Errorf("isWriteMethod(%s) = false", method)
		}
	}
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		if isWriteMethod(method) {
			t.Errorf("isWriteMethod(%s) = true", method)
		}
	}
}

func TestNamespaceConfigs(t *testing.T) {
	configs := namespaceConfigs("v7")
	roles := make(map[cache.Role]bool)
	for _, cfg := range configs {
		if cfg.Version != "v7" {
			t.Errorf("namespace %s version = %q", cfg.Role, cfg.Version)
		}
		roles[cfg.Role] = true
	}
	for _, role := range []cache.Role{cache.RoleStatic, cache.RoleDynamic, cache.RoleImages, cache.RoleFonts, cache.RoleAPI} {
		if !roles[role] {
			t.Errorf("missing namespace for role %s", role)
		}
	}
}
