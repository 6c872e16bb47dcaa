package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/shopfront/offline-gateway/pkg/connectivity"
	"github.com/shopfront/offline-gateway/pkg/lifecycle"
	"github.com/shopfront/offline-gateway/pkg/policy"
	"github.com/shopfront/offline-gateway/pkg/queue"
	"github.com/shopfront/offline-gateway/pkg/strategy"
)

// gateway is the HTTP front: it classifies each request, runs the matching
// read strategy against the right namespace, and absorbs write failures into
// the offline queue.
type gateway struct {
	classifier  *policy.Classifier
	engine      *strategy.Engine
	coordinator *lifecycle.Coordinator
	queue       *queue.Queue
	tracker     *connectivity.Tracker
	upstream    *url.URL
	httpClient  *http.Client
	proxy       *httputil.ReverseProxy
	logger      zerolog.Logger
}

func newGateway(
	classifier *policy.Classifier,
	engine *strategy.Engine,
	coordinator *lifecycle.Coordinator,
	q *queue.Queue,
	tracker *connectivity.Tracker,
	upstream *url.URL,
	httpClient *http.Client,
	logger zerolog.Logger,
) *gateway {
	return &gateway{
		classifier:  classifier,
		engine:      engine,
		coordinator: coordinator,
		queue:       q,
		tracker:     tracker,
		upstream:    upstream,
		httpClient:  httpClient,
		proxy:       httputil.NewSingleHostReverseProxy(upstream),
		logger:      logger,
	}
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	decision, ok := g.classifier.Classify(r.Method, r.URL)
	if !ok {
		if isWriteMethod(r.Method) {
			g.handleWrite(w, r)
			return
		}
		// Out of scope for the strategies: plain reverse proxy.
		g.proxy.ServeHTTP(w, r)
		return
	}

	ns := g.coordinator.Namespace(decision.Role)
	if ns == nil {
		g.logger.Warn().
			Str("role", string(decision.Role)).
			Msg("No namespace open for role, passing through")
		g.proxy.ServeHTTP(w, r)
		return
	}

	outReq, err := g.upstreamRequest(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var resp *http.Response
	switch decision.Policy {
	case policy.PolicyNetworkFirst:
		resp, err = g.engine.NetworkFirst(r.Context(), outReq, ns)
	case policy.PolicyCacheFirst:
		resp, err = g.engine.CacheFirst(r.Context(), outReq, ns)
	case policy.PolicyStaleWhileRevalidate:
		resp, err = g.engine.StaleWhileRevalidate(r.Context(), outReq, ns)
	default:
		http.Error(w, "unknown policy", http.StatusInternalServerError)
		return
	}
	if err != nil {
		g.logger.Warn().
			Err(err).
			Str("policy", string(decision.Policy)).
			Str("path", r.URL.Path).
			Msg("Strategy returned no response")
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	writeResponse(w, resp)
}

// handleWrite forwards a mutation to the upstream. When the upstream is
// unreachable the body is queued durably and the caller gets a 202 so it
// knows the write was accepted, not applied.
func (g *gateway) handleWrite(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}

	outReq, err := g.upstreamRequestWithBody(r, body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	resp, err := g.httpClient.Do(outReq)
	if err == nil {
		if g.tracker != nil {
			g.tracker.ReportSuccess(r.Context())
		}
		defer resp.Body.Close()
		writeResponse(w, resp)
		return
	}
	if g.tracker != nil {
		g.tracker.ReportFailure(err)
	}

	id, qErr := g.queue.Enqueue(r.Context(), r.URL.Path, body)
	if qErr != nil {
		g.logger.Error().Err(qErr).Str("path", r.URL.Path).Msg("Failed to queue offline write")
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"queued": true,
		"id":     id,
	})
}

// upstreamRequest rewrites an inbound read onto the upstream host.
func (g *gateway) upstreamRequest(r *http.Request) (*http.Request, error) {
	u := *r.URL
	u.Scheme = g.upstream.Scheme
	u.Host = g.upstream.Host

	req, err := http.NewRequestWithContext(r.Context(), r.Method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	copyHeaders(req.Header, r.Header)
	return req, nil
}

func (g *gateway) upstreamRequestWithBody(r *http.Request, body []byte) (*http.Request, error) {
	u := *r.URL
	u.Scheme = g.upstream.Scheme
	u.Host = g.upstream.Host

	req, err := http.NewRequestWithContext(r.Context(), r.Method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.ContentLength = int64(len(body))
	copyHeaders(req.Header, r.Header)
	return req, nil
}

func isWriteMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func writeResponse(w http.ResponseWriter, resp *http.Response) {
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
