package cache

import (
	"net/http"
	"time"
)

// Entry represents a cached network response.
type Entry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Headers are the response headers
	Headers http.Header `json:"headers"`

	// StoredAt is when this response was written to the namespace
	StoredAt time.Time `json:"stored_at"`
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	return time.Since(e.StoredAt)
}

// Fresh reports whether the entry is younger than maxAge.
// A zero maxAge means entries never go stale.
func (e *Entry) Fresh(maxAge time.Duration) bool {
	if maxAge <= 0 {
		return true
	}
	return e.Age() < maxAge
}
