// Package store implements the persistent record store of the offline
// gateway: keyed domain collections with per-collection TTLs, derived search
// tokens, a durable write queue and per-collection sync watermarks, all
// backed by SQLite.
//
// A bounded in-process LRU accelerates repeated Get calls. The LRU is private
// to this Store instance and never authoritative: it is invalidated on Update
// and Delete for the touched key, but a second process mutating the same
// database file does not invalidate it. That staleness window is an accepted
// consistency boundary; SQLite remains the store of record.
package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/shopfront/offline-gateway/pkg/store/migrations"
)

// Domain collections.
const (
	CollectionProducts   = "products"
	CollectionCategories = "categories"
	CollectionOrders     = "orders"
	CollectionSettings   = "settings"
)

const defaultReadCacheSize = 256

// Config holds record store configuration.
type Config struct {
	// Path is the SQLite database file.
	Path string

	// ReadCacheSize bounds the in-process read-through cache
	// (default 256 records).
	ReadCacheSize int

	// TTL maps collection name to record time-to-live for the periodic
	// sweep. Collections without an entry are never expired.
	TTL map[string]time.Duration

	// SearchFields maps collection name to the record fields whose text is
	// tokenized into search tokens. Collections without an entry do not
	// support Search.
	SearchFields map[string][]string

	Logger zerolog.Logger
}

// DefaultConfig returns the collection setup for the product catalog.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		ReadCacheSize: defaultReadCacheSize,
		TTL: map[string]time.Duration{
			CollectionProducts:   24 * time.Hour,
			CollectionCategories: 24 * time.Hour,
		},
		SearchFields: map[string][]string{
			CollectionProducts: {"name", "description", "category"},
		},
		Logger: log.With().Str("component", "record-store").Logger(),
	}
}

// Record is one stored domain object.
type Record struct {
	Key          string
	Fields       []byte // JSON object
	StoredAt     time.Time
	SearchTokens []string
}

// Store is a SQLite-backed record store. All mutating operations are atomic
// per operation; no transaction spans multiple operations.
type Store struct {
	db        *sql.DB
	cfg       Config
	readCache *lru.Cache[string, Record]
	logger    zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// Open opens the store at cfg.Path and applies embedded migrations.
func Open(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if cfg.ReadCacheSize <= 0 {
		cfg.ReadCacheSize = defaultReadCacheSize
	}

	dsn := filepath.Clean(cfg.Path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	readCache, err := lru.New[string, Record](cfg.ReadCacheSize)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create read cache: %w", err)
	}

	return &Store{
		db:        sqlDB,
		cfg:       cfg,
		readCache: readCache,
		logger:    cfg.Logger,
		now:       time.Now,
	}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.readCache.Purge()
	return s.db.Close()
}

func cacheKey(collection, key string) string {
	return collection + ":" + key
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
