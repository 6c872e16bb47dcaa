package queue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/shopfront/offline-gateway/pkg/connectivity"
	"github.com/shopfront/offline-gateway/pkg/store"
)

// scriptedDeliverer fails delivery for payloads listed in failOn and records
// the order of successful deliveries.
type scriptedDeliverer struct {
	failOn    map[string]bool
	delivered []string
	attempts  int
}

func (d *scriptedDeliverer) Deliver(ctx context.Context, endpoint string, payload json.RawMessage) error {
	d.attempts++
	if d.failOn[string(payload)] {
		return errors.New("delivery refused")
	}
	d.delivered = append(d.delivered, string(payload))
	return nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()

	cfg := store.DefaultConfig(filepath.Join(t.TempDir(), "queue.db"))
	cfg.Logger = zerolog.Nop()
	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueue(t *testing.T, q *Queue, endpoint, payload string) {
	t.Helper()
	if _, err := q.Enqueue(context.Background(), endpoint, json.RawMessage(payload)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
}

func TestQueue_DrainDeliversInOrder(t *testing.T) {
	s := openTestStore(t)
	d := &scriptedDeliverer{}
	q := New(s, d, nil)
	ctx := context.Background()

	enqueue(t, q, "/api/orders", `"A"`)
	enqueue(t, q, "/api/orders", `"B"`)
	enqueue(t, q, "/api/orders", `"C"`)

	result, err := q.Drain(ctx, "/api/orders")
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if result.Delivered != 3 || result.Remaining != 0 {
		t.Errorf("result = %+v", result)
	}
	want := []string{`"A"`, `"B"`, `"C"`}
	for i, p := range want {
		if d.delivered[i] != p {
			t.Errorf("delivered[%d] = %s, want %s", i, d.delivered[i], p)
		}
	}

	depth, _ := q.Depth(ctx, "/api/orders")
	if depth != 0 {
		t.Errorf("depth = %d after full drain", depth)
	}
}

func TestQueue_DrainStopsAtFirstFailure(t *testing.T) {
	s := openTestStore(t)
	d := &scriptedDeliverer{failOn: map[string]bool{`"B"`: true}}
	q := New(s, d, nil)
	ctx := context.Background()

	enqueue(t, q, "/api/orders", `"A"`)
	enqueue(t, q, "/api/orders", `"B"`)
	enqueue(t, q, "/api/orders", `"C"`)

	result, err := q.Drain(ctx, "/api/orders")
	if err == nil {
		t.Fatal("expected drain error")
	}
	if result.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1 (only A)", result.Delivered)
	}

	// A is gone; B and C remain, still in order, and C was never attempted.
	writes, _ := s.PendingWrites(ctx, "/api/orders")
	if len(writes) != 2 {
		t.Fatalf("remaining = %d, want 2", len(writes))
	}
	if string(writes[0].Payload) != `"B"` || string(writes[1].Payload) != `"C"` {
		t.Errorf("remaining payloads = %s, %s", writes[0].Payload, writes[1].Payload)
	}
	if d.attempts != 2 {
		t.Errorf("attempts = %d, want 2 (C not attempted after B failed)", d.attempts)
	}
}

func TestQueue_DrainIsResumable(t *testing.T) {
	s := openTestStore(t)
	d := &scriptedDeliverer{failOn: map[string]bool{`"B"`: true}}
	q := New(s, d, nil)
	ctx := context.Background()

	enqueue(t, q, "/api/orders", `"A"`)
	enqueue(t, q, "/api/orders", `"B"`)

	if _, err := q.Drain(ctx, "/api/orders"); err == nil {
		t.Fatal("expected first drain to fail")
	}

	// The blocker clears; the next drain picks up where it stopped.
	d.failOn = nil
	result, err := q.Drain(ctx, "/api/orders")
	if err != nil {
		t.Fatalf("second drain failed: %v", err)
	}
	if result.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", result.Delivered)
	}
	if got := d.delivered; len(got) != 2 || got[1] != `"B"` {
		t.Errorf("delivered = %v", got)
	}
}

func TestQueue_DrainAllCoversEndpoints(t *testing.T) {
	s := openTestStore(t)
	d := &scriptedDeliverer{}
	q := New(s, d, nil)
	ctx := context.Background()

	enqueue(t, q, "/api/orders", `"order"`)
	enqueue(t, q, "/api/reviews", `"review"`)

	results, err := q.DrainAll(ctx)
	if err != nil {
		t.Fatalf("DrainAll failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 endpoints", len(results))
	}
	if len(d.delivered) != 2 {
		t.Errorf("delivered = %v", d.delivered)
	}
}

func TestQueue_DrainAllContinuesPastFailedEndpoint(t *testing.T) {
	s := openTestStore(t)
	d := &scriptedDeliverer{failOn: map[string]bool{`"order"`: true}}
	q := New(s, d, nil)
	ctx := context.Background()

	enqueue(t, q, "/api/orders", `"order"`)
	enqueue(t, q, "/api/reviews", `"review"`)

	_, err := q.DrainAll(ctx)
	if err == nil {
		t.Fatal("expected error from failing endpoint")
	}

	// The failing endpoint must not block the other endpoint's drain.
	depth, _ := q.Depth(ctx, "/api/reviews")
	if depth != 0 {
		t.Errorf("reviews depth = %d, want 0", depth)
	}
	depth, _ = q.Depth(ctx, "/api/orders")
	if depth != 1 {
		t.Errorf("orders depth = %d, want 1", depth)
	}
}

func TestQueue_ReconnectTriggersDrain(t *testing.T) {
	s := openTestStore(t)
	d := &scriptedDeliverer{}
	tracker := connectivity.NewTracker(zerolog.Nop())
	q := New(s, d, tracker)
	ctx := context.Background()

	tracker.ReportFailure(errors.New("upstream down"))
	enqueue(t, q, "/api/orders", `"A"`)
	enqueue(t, q, "/api/orders", `"B"`)

	if len(d.delivered) != 0 {
		t.Fatalf("nothing should deliver while offline, got %v", d.delivered)
	}

	// Reconnect fires the one-shot registration, which drains everything.
	tracker.ReportSuccess(ctx)
	if len(d.delivered) != 2 {
		t.Fatalf("delivered = %v, want both writes after reconnect", d.delivered)
	}
	depth, _ := q.Depth(ctx, "/api/orders")
	if depth != 0 {
		t.Errorf("depth = %d after reconnect drain", depth)
	}
}

func TestQueue_DrainEmptyEndpoint(t *testing.T) {
	s := openTestStore(t)
	q := New(s, &scriptedDeliverer{}, nil)

	result, err := q.Drain(context.Background(), "/api/orders")
	if err != nil {
		t.Fatalf("Drain of empty queue failed: %v", err)
	}
	if result.Delivered != 0 || result.Remaining != 0 {
		t.Errorf("result = %+v", result)
	}
}
