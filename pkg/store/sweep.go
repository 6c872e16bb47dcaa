package store

import (
	"context"
	"fmt"
	"time"
)

// SweepExpired deletes records whose age exceeds their collection's TTL and
// returns how many were removed. Collections without a configured TTL are
// untouched. Intended to be invoked periodically.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	total := 0
	for collection, ttl := range s.cfg.TTL {
		if ttl <= 0 {
			continue
		}
		removed, err := s.sweepCollection(ctx, collection, now.Add(-ttl))
		if err != nil {
			return total, err
		}
		total += removed
	}

	if total > 0 {
		// Expired keys may still sit in the read cache; drop it wholesale
		// rather than tracking which keys the DELETE hit.
		s.readCache.Purge()
		s.logger.Info().Int("removed", total).Msg("TTL sweep removed expired records")
		StoreSweepRemoved.Add(float64(total))
	}

	return total, nil
}

func (s *Store) sweepCollection(ctx context.Context, collection string, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sweep %s: %w", collection, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM record_tokens WHERE collection = ? AND key IN (
		     SELECT key FROM records WHERE collection = ? AND stored_at < ?
		 )`,
		collection, collection, toMillis(cutoff),
	); err != nil {
		return 0, fmt.Errorf("sweep %s tokens: %w", collection, err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND stored_at < ?`,
		collection, toMillis(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep %s: %w", collection, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep %s: %w", collection, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sweep %s: %w", collection, err)
	}
	return int(affected), nil
}
