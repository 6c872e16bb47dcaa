// Package syncer keeps local collections and the upstream catalog aligned.
// Pull replaces local knowledge with an upstream snapshot via per-record
// upserts; Push replays local records to the upstream. A pull is
// all-or-nothing for its watermark: the last-sync time only advances when
// every record of the snapshot applied cleanly.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shopfront/offline-gateway/pkg/store"
)

var (
	syncPullsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sync_pulls_total",
		Help: "Pull attempts by collection and result",
	}, []string{"collection", "result"})

	syncRecordsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sync_records_applied_total",
		Help: "Records upserted by pulls, by collection and kind",
	}, []string{"collection", "kind"})

	syncPushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sync_pushes_total",
		Help: "Push attempts by collection and result",
	}, []string{"collection", "result"})
)

// Collection binds a local store collection to its upstream representation.
type Collection struct {
	// Name is the local store collection.
	Name string

	// Action is the upstream fetch action returning the full snapshot.
	Action string

	// KeyField is the snapshot item field holding the record key.
	KeyField string

	// PushEndpoint receives local records on Push. Empty means pull-only.
	PushEndpoint string
}

// Remote is the slice of the upstream client the syncer needs.
type Remote interface {
	FetchAction(ctx context.Context, action string) (json.RawMessage, error)
	Post(ctx context.Context, endpoint string, payload json.RawMessage) (json.RawMessage, error)
}

// Syncer pulls upstream snapshots into the store and pushes local records out.
type Syncer struct {
	store  *store.Store
	remote Remote
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a syncer.
func New(s *store.Store, r Remote) *Syncer {
	if s == nil {
		panic("syncer: store is required")
	}
	if r == nil {
		panic("syncer: remote is required")
	}
	return &Syncer{
		store:  s,
		remote: r,
		logger: log.With().Str("component", "syncer").Logger(),
		now:    time.Now,
	}
}

// Pull fetches the collection's snapshot and upserts every item. If any item
// fails the pull fails as a whole and the watermark stays where it was, so
// the next pull retries the full snapshot.
func (s *Syncer) Pull(ctx context.Context, col Collection) error {
	data, err := s.remote.FetchAction(ctx, col.Action)
	if err != nil {
		syncPullsTotal.WithLabelValues(col.Name, "fetch_error").Inc()
		return fmt.Errorf("pull %s: %w", col.Name, err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		syncPullsTotal.WithLabelValues(col.Name, "decode_error").Inc()
		return fmt.Errorf("pull %s: decode snapshot: %w", col.Name, err)
	}

	added, updated := 0, 0
	for _, item := range items {
		kind, err := s.upsert(ctx, col, item)
		if err != nil {
			syncPullsTotal.WithLabelValues(col.Name, "apply_error").Inc()
			return fmt.Errorf("pull %s: %w", col.Name, err)
		}
		switch kind {
		case "added":
			added++
		case "updated":
			updated++
		}
		syncRecordsApplied.WithLabelValues(col.Name, kind).Inc()
	}

	if err := s.store.SetLastSync(ctx, col.Name, s.now()); err != nil {
		syncPullsTotal.WithLabelValues(col.Name, "watermark_error").Inc()
		return fmt.Errorf("pull %s: %w", col.Name, err)
	}

	syncPullsTotal.WithLabelValues(col.Name, "ok").Inc()
	s.logger.Info().
		Str("collection", col.Name).
		Int("added", added).
		Int("updated", updated).
		Msg("Pull applied upstream snapshot")
	return nil
}

// PullAll pulls every collection; the first failure stops the run.
func (s *Syncer) PullAll(ctx context.Context, cols []Collection) error {
	for _, col := range cols {
		if err := s.Pull(ctx, col); err != nil {
			return err
		}
	}
	return nil
}

// Push replays every local record of the collection to its push endpoint,
// in key order, stopping at the first rejection.
func (s *Syncer) Push(ctx context.Context, col Collection) error {
	if col.PushEndpoint == "" {
		return fmt.Errorf("push %s: collection has no push endpoint", col.Name)
	}

	records, err := s.store.GetAll(ctx, col.Name)
	if err != nil {
		syncPushesTotal.WithLabelValues(col.Name, "read_error").Inc()
		return fmt.Errorf("push %s: %w", col.Name, err)
	}

	for _, rec := range records {
		if _, err := s.remote.Post(ctx, col.PushEndpoint, rec.Fields); err != nil {
			syncPushesTotal.WithLabelValues(col.Name, "error").Inc()
			return fmt.Errorf("push %s: record %s: %w", col.Name, rec.Key, err)
		}
	}

	syncPushesTotal.WithLabelValues(col.Name, "ok").Inc()
	s.logger.Info().
		Str("collection", col.Name).
		Int("records", len(records)).
		Msg("Push delivered local records")
	return nil
}

// LastSync exposes the collection's pull watermark.
func (s *Syncer) LastSync(ctx context.Context, col Collection) (time.Time, error) {
	return s.store.LastSync(ctx, col.Name)
}

// upsert applies one snapshot item: update when the key already exists, add
// otherwise. An add that loses a race to a concurrent writer falls back to
// update, so pulls stay idempotent either way.
func (s *Syncer) upsert(ctx context.Context, col Collection, item json.RawMessage) (string, error) {
	key, err := itemKey(item, col.KeyField)
	if err != nil {
		return "", err
	}

	exists, err := s.store.Exists(ctx, col.Name, key)
	if err != nil {
		return "", err
	}
	if exists {
		if err := s.store.Update(ctx, col.Name, key, item); err != nil {
			return "", fmt.Errorf("update %s: %w", key, err)
		}
		return "updated", nil
	}

	if err := s.store.Add(ctx, col.Name, key, item); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			if err := s.store.Update(ctx, col.Name, key, item); err != nil {
				return "", fmt.Errorf("update %s: %w", key, err)
			}
			return "updated", nil
		}
		return "", fmt.Errorf("add %s: %w", key, err)
	}
	return "added", nil
}

// itemKey extracts the record key from a snapshot item. String keys are used
// verbatim; anything else (numbers, mostly) keeps its JSON text.
func itemKey(item json.RawMessage, keyField string) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return "", fmt.Errorf("decode snapshot item: %w", err)
	}

	raw, ok := fields[keyField]
	if !ok {
		return "", fmt.Errorf("snapshot item missing key field %q", keyField)
	}

	var key string
	if err := json.Unmarshal(raw, &key); err == nil {
		if key == "" {
			return "", fmt.Errorf("snapshot item has empty key field %q", keyField)
		}
		return key, nil
	}
	return string(raw), nil
}
