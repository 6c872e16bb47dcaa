package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// QueuedWrite is one pending write awaiting delivery to the remote endpoint.
// Rows are created when a write cannot reach the remote side and deleted only
// after confirmed delivery; they are never mutated in between.
type QueuedWrite struct {
	ID        int64
	Endpoint  string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// EnqueueWrite appends a pending write for endpoint and returns its id.
// Ids are monotonic, so id order is creation order.
func (s *Store) EnqueueWrite(ctx context.Context, endpoint string, payload any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	payloadJSON, err := marshalFields(payload)
	if err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO write_queue (endpoint, payload, created_at) VALUES (?, ?, ?)`,
		endpoint, string(payloadJSON), toMillis(s.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue write for %s: %w", endpoint, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue write for %s: %w", endpoint, err)
	}

	StoreOperations.WithLabelValues("enqueue", "write_queue").Inc()
	return id, nil
}

// PendingWrites returns the undelivered writes for endpoint in creation order.
func (s *Store) PendingWrites(ctx context.Context, endpoint string) ([]QueuedWrite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, endpoint, payload, created_at FROM write_queue
		  WHERE endpoint = ? ORDER BY id ASC`,
		endpoint,
	)
	if err != nil {
		return nil, fmt.Errorf("pending writes for %s: %w", endpoint, err)
	}
	defer rows.Close()

	var writes []QueuedWrite
	for rows.Next() {
		var w QueuedWrite
		var payload []byte
		var createdAt int64
		if err := rows.Scan(&w.ID, &w.Endpoint, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("pending writes for %s: %w", endpoint, err)
		}
		w.Payload = payload
		w.CreatedAt = fromMillis(createdAt)
		writes = append(writes, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending writes for %s: %w", endpoint, err)
	}
	return writes, nil
}

// QueuedEndpoints returns the distinct endpoints with pending writes.
func (s *Store) QueuedEndpoints(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT endpoint FROM write_queue ORDER BY endpoint ASC`)
	if err != nil {
		return nil, fmt.Errorf("queued endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("queued endpoints: %w", err)
		}
		endpoints = append(endpoints, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queued endpoints: %w", err)
	}
	return endpoints, nil
}

// DeleteWrite removes a queued write after confirmed delivery.
func (s *Store) DeleteWrite(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM write_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete write %d: %w", id, err)
	}
	StoreOperations.WithLabelValues("dequeue", "write_queue").Inc()
	return nil
}

// QueueDepth returns the number of pending writes for endpoint.
func (s *Store) QueueDepth(ctx context.Context, endpoint string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var depth int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM write_queue WHERE endpoint = ?`, endpoint,
	).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("queue depth for %s: %w", endpoint, err)
	}
	return depth, nil
}
