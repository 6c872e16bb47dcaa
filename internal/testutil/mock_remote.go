// Package testutil provides testing utilities for the offline gateway.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock upstream endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUpstream is a configurable mock catalog API server for testing.
type MockUpstream struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	actions  map[string]MockResponse

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
}

// NewMockUpstream creates a new mock upstream server.
func NewMockUpstream() *MockUpstream {
	mock := &MockUpstream{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		actions:  make(map[string]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.mu.Unlock()

		// Action-routed data endpoint
		if r.URL.Path == "/api/data" {
			action := r.URL.Query().Get("action")
			mock.mu.RLock()
			resp, exists := mock.actions[action]
			mock.mu.RUnlock()
			if exists {
				writeMockResponse(w, resp)
				return
			}
			writeMockResponse(w, NewRejectedEnvelope(fmt.Sprintf("unknown action: %s", action)))
			return
		}

		// Path-routed custom handlers
		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockUpstream) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockUpstream) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeMockResponse(w, resp)
	})
}

// SetAction configures the response served for a data-endpoint action.
func (m *MockUpstream) SetAction(action string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[action] = resp
}

// SetActionData configures a successful envelope carrying the given data for
// an action.
func (m *MockUpstream) SetActionData(action string, data any) {
	m.SetAction(action, NewSuccessEnvelope(data))
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockUpstream) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// defaultHandler accepts writes with an empty success envelope, mirroring the
// upstream's behavior for mutation endpoints.
func (m *MockUpstream) defaultHandler(w http.ResponseWriter, r *http.Request) {
	writeMockResponse(w, NewSuccessEnvelope(nil))
}

func writeMockResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewSuccessEnvelope creates a 200 response wrapping data in a success envelope.
func NewSuccessEnvelope(data any) MockResponse {
	body := map[string]any{"success": true}
	if data != nil {
		body["data"] = data
	}
	raw, _ := json.Marshal(body)
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(raw),
	}
}

// NewRejectedEnvelope creates a 200 response whose envelope reports failure.
func NewRejectedEnvelope(message string) MockResponse {
	raw, _ := json.Marshal(map[string]any{"success": false, "error": message})
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(raw),
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "Not found"}`,
	}
}
