package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Role identifies the logical role of a namespace.
type Role string

const (
	// RoleStatic holds the application shell and boot assets.
	RoleStatic Role = "static"

	// RoleDynamic holds page responses cached opportunistically.
	RoleDynamic Role = "dynamic"

	// RoleImages holds product imagery.
	RoleImages Role = "images"

	// RoleFonts holds web fonts.
	RoleFonts Role = "fonts"

	// RoleAPI holds catalog API responses.
	RoleAPI Role = "api"
)

// Config describes one namespace: its role, version tag and ceilings.
type Config struct {
	Role    Role
	Version string

	// MaxItems is the entry-count ceiling. Zero means unbounded.
	MaxItems int

	// MaxAge is the entry-age ceiling used by SweepExpired and by
	// freshness checks in the strategy engine. Zero means no age limit.
	MaxAge time.Duration
}

// Name returns the namespace identity string, role plus version tag.
func (c Config) Name() string {
	return fmt.Sprintf("%s:%s", c.Role, c.Version)
}

// Namespace is a handle to one open versioned namespace. Strategies read and
// write through this handle only; they never address Redis directly.
type Namespace struct {
	m   *Manager
	cfg Config
}

// Name returns the namespace identity (role:version).
func (ns *Namespace) Name() string {
	return ns.cfg.Name()
}

// Role returns the namespace's logical role.
func (ns *Namespace) Role() Role {
	return ns.cfg.Role
}

// MaxAge returns the configured entry-age ceiling.
func (ns *Namespace) MaxAge() time.Duration {
	return ns.cfg.MaxAge
}

func (ns *Namespace) indexKey() string {
	return fmt.Sprintf("%s:ns:%s:idx", keyPrefix, ns.cfg.Name())
}

func (ns *Namespace) entryKey(requestKey string) string {
	return fmt.Sprintf("%s:ns:%s:entry:%s", keyPrefix, ns.cfg.Name(), requestKey)
}

// Put stores an entry under requestKey and enforces the item-count ceiling.
// If the insert pushes the namespace over MaxItems, the oldest-inserted
// entries are evicted until the ceiling holds.
func (ns *Namespace) Put(ctx context.Context, requestKey string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	pipe := ns.m.redis.TxPipeline()
	pipe.Set(ctx, ns.entryKey(requestKey), data, 0)
	pipe.ZAdd(ctx, ns.indexKey(), redis.Z{
		Score:  float64(entry.StoredAt.UnixNano()),
		Member: requestKey,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis put: %w", err)
	}

	if ns.cfg.MaxItems > 0 {
		if err := ns.enforceMaxItems(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Match retrieves the entry stored under requestKey.
// Returns ErrCacheMiss if no entry exists. Reads are non-destructive: a stale
// entry is still returned so strategies can fall back to it offline.
func (ns *Namespace) Match(ctx context.Context, requestKey string) (*Entry, error) {
	data, err := ns.m.redis.Get(ctx, ns.entryKey(requestKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(string(ns.cfg.Role)).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("match").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("match").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.WithLabelValues(string(ns.cfg.Role)).Inc()
	return &entry, nil
}

// Delete removes the entry stored under requestKey.
func (ns *Namespace) Delete(ctx context.Context, requestKey string) error {
	pipe := ns.m.redis.TxPipeline()
	pipe.Del(ctx, ns.entryKey(requestKey))
	pipe.ZRem(ctx, ns.indexKey(), requestKey)
	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Keys enumerates request keys in insertion order, oldest first.
func (ns *Namespace) Keys(ctx context.Context) ([]string, error) {
	keys, err := ns.m.redis.ZRange(ctx, ns.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	return keys, nil
}

// Len returns the number of entries in the namespace.
func (ns *Namespace) Len(ctx context.Context) (int, error) {
	n, err := ns.m.redis.ZCard(ctx, ns.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard: %w", err)
	}
	return int(n), nil
}

// SweepExpired deletes entries older than the namespace's MaxAge and returns
// how many were removed. Intended to be run periodically, not on every read.
func (ns *Namespace) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	if ns.cfg.MaxAge <= 0 {
		return 0, nil
	}

	cutoff := now.Add(-ns.cfg.MaxAge).UnixNano()
	stale, err := ns.m.redis.ZRangeByScore(ctx, ns.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if err := ns.removeKeys(ctx, stale); err != nil {
		return 0, err
	}

	CacheEvictions.WithLabelValues(string(ns.cfg.Role), "age").Add(float64(len(stale)))
	return len(stale), nil
}

// enforceMaxItems evicts the oldest-inserted entries above the count ceiling.
func (ns *Namespace) enforceMaxItems(ctx context.Context) error {
	count, err := ns.m.redis.ZCard(ctx, ns.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("redis zcard: %w", err)
	}

	excess := int(count) - ns.cfg.MaxItems
	if excess <= 0 {
		return nil
	}

	oldest, err := ns.m.redis.ZRange(ctx, ns.indexKey(), 0, int64(excess-1)).Result()
	if err != nil {
		return fmt.Errorf("redis zrange: %w", err)
	}
	if len(oldest) == 0 {
		return nil
	}

	if err := ns.removeKeys(ctx, oldest); err != nil {
		return err
	}

	CacheEvictions.WithLabelValues(string(ns.cfg.Role), "count").Add(float64(len(oldest)))

	ns.m.logger.Debug().
		Str("namespace", ns.Name()).
		Int("evicted", len(oldest)).
		Msg("Evicted oldest entries over item ceiling")

	return nil
}

func (ns *Namespace) removeKeys(ctx context.Context, requestKeys []string) error {
	pipe := ns.m.redis.TxPipeline()
	for _, k := range requestKeys {
		pipe.Del(ctx, ns.entryKey(k))
	}
	members := make([]interface{}, len(requestKeys))
	for i, k := range requestKeys {
		members[i] = k
	}
	pipe.ZRem(ctx, ns.indexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("evict").Inc()
		return fmt.Errorf("redis evict: %w", err)
	}
	return nil
}
