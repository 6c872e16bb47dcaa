// Package strategy implements the three read policies of the offline gateway:
// network-first, cache-first with expiry, and stale-while-revalidate.
//
// Each policy operates on a namespace handle supplied by the caller; the
// engine never addresses cache storage directly. All cache writes are gated
// on 2xx responses so error responses are never persisted.
package strategy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shopfront/offline-gateway/pkg/cache"
)

// Fetcher executes network requests. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// CacheHandle is the slice of a cache namespace the strategies need.
// *cache.Namespace satisfies it.
type CacheHandle interface {
	Match(ctx context.Context, requestKey string) (*cache.Entry, error)
	Put(ctx context.Context, requestKey string, entry *cache.Entry) error
	MaxAge() time.Duration
	Role() cache.Role
}

// FallbackFunc supplies the offline fallback document for failed page
// navigations, typically read from the static namespace's boot set.
type FallbackFunc func(ctx context.Context) (*cache.Entry, error)

// Engine dispatches requests through the configured policy.
type Engine struct {
	fetcher  Fetcher
	fallback FallbackFunc
	logger   zerolog.Logger
}

// New creates a strategy engine. fallback may be nil; failed navigations then
// receive the synthetic 503 like any other request.
func New(fetcher Fetcher, fallback FallbackFunc, logger zerolog.Logger) *Engine {
	if fetcher == nil {
		panic("fetcher cannot be nil")
	}
	return &Engine{
		fetcher:  fetcher,
		fallback: fallback,
		logger:   logger,
	}
}

// NetworkFirst attempts the network, writes 2xx responses through to the
// namespace and returns them. On network failure it falls back to the cached
// entry; failing that, page navigations get the offline fallback document and
// everything else a synthetic 503.
func (e *Engine) NetworkFirst(ctx context.Context, req *http.Request, ns CacheHandle) (*http.Response, error) {
	key := cache.RequestKey(req.URL)

	resp, err := e.fetcher.Do(req.WithContext(ctx))
	if err == nil {
		if cache.Cacheable(resp) {
			e.storeResponse(ctx, ns, key, resp)
		}
		StrategyResults.WithLabelValues("network-first", "network").Inc()
		return resp, nil
	}

	e.logger.Warn().
		Err(err).
		Str("key", key).
		Str("namespace_role", string(ns.Role())).
		Msg("Network fetch failed, falling back to cache")

	entry, cacheErr := ns.Match(ctx, key)
	if cacheErr == nil {
		StrategyResults.WithLabelValues("network-first", "cache_fallback").Inc()
		return cache.EntryToResponse(entry), nil
	}

	if isNavigation(req) && e.fallback != nil {
		if doc, fbErr := e.fallback(ctx); fbErr == nil {
			StrategyResults.WithLabelValues("network-first", "offline_fallback").Inc()
			return cache.EntryToResponse(doc), nil
		}
	}

	StrategyResults.WithLabelValues("network-first", "unavailable").Inc()
	return syntheticUnavailable(), nil
}

// CacheFirst serves a cached entry younger than the namespace's MaxAge
// without touching the network. Stale or missing entries trigger a fetch;
// 2xx responses are stored (which enforces the namespace's item ceiling).
// If the fetch fails and a stale entry exists, the stale entry is served;
// otherwise the failure propagates.
func (e *Engine) CacheFirst(ctx context.Context, req *http.Request, ns CacheHandle) (*http.Response, error) {
	key := cache.RequestKey(req.URL)

	entry, cacheErr := ns.Match(ctx, key)
	if cacheErr == nil && entry.Fresh(ns.MaxAge()) {
		StrategyResults.WithLabelValues("cache-first", "fresh_hit").Inc()
		return cache.EntryToResponse(entry), nil
	}

	resp, err := e.fetcher.Do(req.WithContext(ctx))
	if err == nil {
		if cache.Cacheable(resp) {
			e.storeResponse(ctx, ns, key, resp)
		}
		StrategyResults.WithLabelValues("cache-first", "network").Inc()
		return resp, nil
	}

	if cacheErr == nil {
		// Stale entry beats no entry when the network is down.
		e.logger.Warn().
			Err(err).
			Str("key", key).
			Msg("Network fetch failed, serving stale cached entry")
		StrategyResults.WithLabelValues("cache-first", "stale_fallback").Inc()
		return cache.EntryToResponse(entry), nil
	}

	StrategyResults.WithLabelValues("cache-first", "error").Inc()
	return nil, fmt.Errorf("cache-first fetch %s: %w", key, err)
}

// StaleWhileRevalidate returns the cached entry immediately when present and
// unconditionally refreshes the cache in the background. Background failures
// are logged, never surfaced. With no cached entry, the caller's response is
// the network fetch itself.
func (e *Engine) StaleWhileRevalidate(ctx context.Context, req *http.Request, ns CacheHandle) (*http.Response, error) {
	key := cache.RequestKey(req.URL)

	entry, cacheErr := ns.Match(ctx, key)
	if cacheErr == nil {
		// Revalidate for next time. The background fetch carries its own
		// context: the caller's is done as soon as it gets the cached copy.
		revalReq := req.Clone(context.WithoutCancel(ctx))
		go e.revalidate(revalReq, ns, key)

		StrategyResults.WithLabelValues("stale-while-revalidate", "cache_hit").Inc()
		return cache.EntryToResponse(entry), nil
	}

	resp, err := e.fetcher.Do(req.WithContext(ctx))
	if err != nil {
		StrategyResults.WithLabelValues("stale-while-revalidate", "error").Inc()
		return nil, fmt.Errorf("stale-while-revalidate fetch %s: %w", key, err)
	}
	if cache.Cacheable(resp) {
		e.storeResponse(ctx, ns, key, resp)
	}
	StrategyResults.WithLabelValues("stale-while-revalidate", "network").Inc()
	return resp, nil
}

// revalidate performs the background refresh for stale-while-revalidate.
func (e *Engine) revalidate(req *http.Request, ns CacheHandle, key string) {
	resp, err := e.fetcher.Do(req)
	if err != nil {
		// Swallowed: the caller already got a cached response.
		e.logger.Debug().Err(err).Str("key", key).Msg("Background revalidation fetch failed")
		RevalidationFailures.Inc()
		return
	}
	defer resp.Body.Close()

	if !cache.Cacheable(resp) {
		e.logger.Debug().
			Int("status", resp.StatusCode).
			Str("key", key).
			Msg("Background revalidation response not cacheable")
		return
	}

	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		e.logger.Debug().Err(err).Str("key", key).Msg("Background revalidation entry failed")
		RevalidationFailures.Inc()
		return
	}
	if err := ns.Put(req.Context(), key, entry); err != nil {
		e.logger.Debug().Err(err).Str("key", key).Msg("Background revalidation store failed")
		RevalidationFailures.Inc()
	}
}

// storeResponse writes a response through to the namespace, restoring the
// body for the caller. Store failures are logged, not surfaced: the network
// response is still good.
func (e *Engine) storeResponse(ctx context.Context, ns CacheHandle, key string, resp *http.Response) {
	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("Failed to build cache entry")
		return
	}
	if err := ns.Put(ctx, key, entry); err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache response")
	}
}

// isNavigation reports whether the request looks like a page navigation.
func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

// syntheticUnavailable builds the declared offline response served when no
// cached content exists for a failed fetch.
func syntheticUnavailable() *http.Response {
	body := []byte(`{"error":"offline","message":"content unavailable while offline"}`)
	return &http.Response{
		StatusCode: http.StatusServiceUnavailable,
		Status:     "Service Unavailable (offline)",
		Header: http.Header{
			"Content-Type":  []string{"application/json"},
			"Cache-Control": []string{"no-store"},
		},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}
