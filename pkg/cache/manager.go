package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "gw"

// registryKey is the set of all namespace names ever opened. Activation uses
// it to find superseded versions without scanning the whole keyspace.
const registryKey = keyPrefix + ":namespaces"

var (
	// ErrCacheMiss indicates the requested key was not found in the namespace
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// NamespaceStats summarizes one namespace for the cache-statistics control
// message and for operational inspection.
type NamespaceStats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
}

// Manager owns all cache namespaces and their Redis storage.
type Manager struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewManager creates a new namespace manager with Redis backend.
func NewManager(redisClient *redis.Client, logger zerolog.Logger) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis:  redisClient,
		logger: logger,
	}
}

// Open returns a handle for the namespace described by cfg, creating it if it
// does not exist and recording it in the namespace registry.
func (m *Manager) Open(ctx context.Context, cfg Config) (*Namespace, error) {
	if cfg.Role == "" {
		return nil, fmt.Errorf("namespace role is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("namespace version tag is required")
	}

	if err := m.redis.SAdd(ctx, registryKey, cfg.Name()).Err(); err != nil {
		return nil, fmt.Errorf("register namespace: %w", err)
	}

	return &Namespace{m: m, cfg: cfg}, nil
}

// PurgeStale deletes every registered namespace whose role matches one of the
// current configs but whose version tag differs. The current namespaces are
// never touched. Returns the names of the namespaces deleted.
func (m *Manager) PurgeStale(ctx context.Context, current []Config) ([]string, error) {
	registered, err := m.redis.SMembers(ctx, registryKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}

	currentByRole := make(map[Role]string, len(current))
	for _, cfg := range current {
		currentByRole[cfg.Role] = cfg.Name()
	}

	var purged []string
	for _, name := range registered {
		role, _, ok := splitName(name)
		if !ok {
			continue
		}
		currentName, tracked := currentByRole[role]
		if !tracked || name == currentName {
			continue
		}

		if err := m.deleteNamespace(ctx, name); err != nil {
			return purged, err
		}
		purged = append(purged, name)

		m.logger.Info().
			Str("namespace", name).
			Str("current", currentName).
			Msg("Purged superseded namespace version")
	}

	return purged, nil
}

// ClearAll deletes every registered namespace and empties the registry.
func (m *Manager) ClearAll(ctx context.Context) error {
	registered, err := m.redis.SMembers(ctx, registryKey).Result()
	if err != nil {
		return fmt.Errorf("list namespaces: %w", err)
	}

	for _, name := range registered {
		if err := m.deleteNamespace(ctx, name); err != nil {
			return err
		}
	}

	if err := m.redis.Del(ctx, registryKey).Err(); err != nil {
		return fmt.Errorf("clear namespace registry: %w", err)
	}

	m.logger.Info().Int("namespaces", len(registered)).Msg("Cleared all cache namespaces")
	return nil
}

// Stats reports entry counts and byte sizes for every registered namespace.
func (m *Manager) Stats(ctx context.Context) ([]NamespaceStats, error) {
	registered, err := m.redis.SMembers(ctx, registryKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}

	stats := make([]NamespaceStats, 0, len(registered))
	for _, name := range registered {
		idxKey := fmt.Sprintf("%s:ns:%s:idx", keyPrefix, name)
		keys, err := m.redis.ZRange(ctx, idxKey, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("enumerate namespace %s: %w", name, err)
		}

		var bytes int64
		for _, k := range keys {
			entryKey := fmt.Sprintf("%s:ns:%s:entry:%s", keyPrefix, name, k)
			size, err := m.redis.StrLen(ctx, entryKey).Result()
			if err != nil {
				return nil, fmt.Errorf("size namespace entry: %w", err)
			}
			bytes += size
		}

		stats = append(stats, NamespaceStats{
			Name:    name,
			Entries: len(keys),
			Bytes:   bytes,
		})
		CacheNamespaceEntries.WithLabelValues(name).Set(float64(len(keys)))
		CacheNamespaceBytes.WithLabelValues(name).Set(float64(bytes))
	}

	return stats, nil
}

// deleteNamespace removes a namespace's index, entries and registry row.
func (m *Manager) deleteNamespace(ctx context.Context, name string) error {
	idxKey := fmt.Sprintf("%s:ns:%s:idx", keyPrefix, name)

	keys, err := m.redis.ZRange(ctx, idxKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("enumerate namespace %s: %w", name, err)
	}

	pipe := m.redis.TxPipeline()
	for _, k := range keys {
		pipe.Del(ctx, fmt.Sprintf("%s:ns:%s:entry:%s", keyPrefix, name, k))
	}
	pipe.Del(ctx, idxKey)
	pipe.SRem(ctx, registryKey, name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete namespace %s: %w", name, err)
	}

	return nil
}

// splitName parses "role:version" back into its parts.
func splitName(name string) (Role, string, bool) {
	idx := strings.Index(name, ":")
	if idx <= 0 || idx == len(name)-1 {
		return "", "", false
	}
	return Role(name[:idx]), name[idx+1:], true
}
