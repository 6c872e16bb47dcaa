// Package remote is the HTTP client for the upstream catalog API. Every call
// goes through retry with exponential backoff, reports reachability to the
// connectivity tracker, and unwraps the API's response envelope.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shopfront/offline-gateway/pkg/connectivity"
)

// Prometheus metrics for remote client operations.
var (
	remoteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_remote_requests_total",
		Help: "Total upstream requests by endpoint and status",
	}, []string{"endpoint", "status"})

	remoteRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_remote_request_duration_seconds",
		Help:    "Upstream request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	remoteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_remote_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

// actionPath is the upstream's single data endpoint; the logical operation
// travels in the action query parameter.
const actionPath = "/api/data"

// Envelope is the upstream API's uniform response wrapper.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Config holds the remote client configuration.
type Config struct {
	// BaseURL of the upstream API, e.g. "https://api.example.com".
	BaseURL string

	// Tracker receives reachability reports. Optional.
	Tracker *connectivity.Tracker

	// HTTPClient overrides the default client (for testing).
	HTTPClient *http.Client

	// Retry overrides the default retry configuration (for testing).
	Retry RetryConfig
}

// Client talks to the upstream catalog API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tracker    *connectivity.Tracker
	retry      RetryConfig
	logger     zerolog.Logger
}

// New creates a new remote client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tracker:    cfg.Tracker,
		retry:      retry,
		logger:     log.With().Str("component", "remote-client").Logger(),
	}, nil
}

// FetchAction performs a GET against the data endpoint for the named action
// and returns the envelope's data payload.
func (c *Client) FetchAction(ctx context.Context, action string) (json.RawMessage, error) {
	endpoint := actionPath + "?action=" + url.QueryEscape(action)
	return c.exchange(ctx, http.MethodGet, endpoint, nil)
}

// Post sends a JSON payload to an upstream endpoint and returns the
// envelope's data payload.
func (c *Client) Post(ctx context.Context, endpoint string, payload json.RawMessage) (json.RawMessage, error) {
	return c.exchange(ctx, http.MethodPost, endpoint, payload)
}

// Deliver replays a queued write against its recorded endpoint. Delivery
// counts as confirmed only when the upstream accepts the envelope; a
// success:false reply or any transport failure is an error.
func (c *Client) Deliver(ctx context.Context, endpoint string, payload json.RawMessage) error {
	_, err := c.Post(ctx, endpoint, payload)
	return err
}

// exchange runs one logical request through retry, classification, and
// envelope decoding.
func (c *Client) exchange(ctx context.Context, method, endpoint string, payload json.RawMessage) (json.RawMessage, error) {
	startTime := time.Now()
	metricEndpoint := metricsEndpoint(endpoint)
	defer func() {
		remoteRequestDuration.WithLabelValues(metricEndpoint).Observe(time.Since(startTime).Seconds())
	}()

	var data json.RawMessage
	err := retryWithBackoff(ctx, c.logger, c.retry, classifyForRetry, func() error {
		var attemptErr error
		data, attemptErr = c.attempt(ctx, method, endpoint, metricEndpoint, payload)
		return attemptErr
	})
	if err != nil {
		c.report(ctx, err)
		return nil, err
	}

	c.report(ctx, nil)
	return data, nil
}

// attempt performs a single HTTP exchange and decodes the envelope.
func (c *Client) attempt(ctx context.Context, method, endpoint, metricEndpoint string, payload json.RawMessage) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		remoteErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		remoteRequestsTotal.WithLabelValues(metricEndpoint, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Upstream request failed")
		return nil, &RemoteError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	remoteRequestsTotal.WithLabelValues(metricEndpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		errClass := classifyStatus(resp.StatusCode)
		remoteErrorsTotal.WithLabelValues(string(errClass)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Upstream request error")
		return nil, &RemoteError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		remoteErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &RemoteError{ErrorClass: ErrorClassNetwork, Message: "read response body", Err: err}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		remoteErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		return nil, &RemoteError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassServer,
			Message:    "malformed envelope",
			Err:        err,
		}
	}

	if !env.Success {
		// The upstream processed the request and said no: treat like a
		// client error, never retried.
		remoteErrorsTotal.WithLabelValues(string(ErrorClassClient)).Inc()
		return nil, &RemoteError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassClient,
			Message:    env.Error,
		}
	}

	return env.Data, nil
}

// report feeds the connectivity tracker. Any completed HTTP exchange proves
// reachability, so only network-class errors count as an outage.
func (c *Client) report(ctx context.Context, err error) {
	if c.tracker == nil {
		return
	}
	if err != nil && IsNetwork(err) {
		c.tracker.ReportFailure(err)
		return
	}
	c.tracker.ReportSuccess(ctx)
}

func classifyForRetry(err error) ErrorClass {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.ErrorClass
	}
	return ErrorClassNetwork
}

func classifyStatus(statusCode int) ErrorClass {
	if statusCode >= 400 && statusCode < 500 {
		return ErrorClassClient
	}
	return ErrorClassServer
}

// metricsEndpoint strips the query so metric cardinality stays bounded.
func metricsEndpoint(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
