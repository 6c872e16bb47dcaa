package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LastSync returns the watermark of the most recent fully-successful pull for
// a collection, or the zero time if the collection has never synced.
func (s *Store) LastSync(ctx context.Context, collection string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	var at int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sync_at FROM sync_meta WHERE collection = ?`, collection,
	).Scan(&at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("last sync for %s: %w", collection, err)
	}
	return fromMillis(at), nil
}

// SetLastSync advances the sync watermark for a collection. Called only after
// a pull completes in full.
func (s *Store) SetLastSync(ctx context.Context, collection string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_meta (collection, last_sync_at) VALUES (?, ?)
		 ON CONFLICT (collection) DO UPDATE SET last_sync_at = excluded.last_sync_at`,
		collection, toMillis(at),
	)
	if err != nil {
		return fmt.Errorf("set last sync for %s: %w", collection, err)
	}
	return nil
}
