package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Get returns one record by key. Repeated gets for the same key are served
// from the in-process read cache until the key is updated or deleted.
func (s *Store) Get(ctx context.Context, collection, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	ck := cacheKey(collection, key)
	if rec, ok := s.readCache.Get(ck); ok {
		ReadCacheHits.Inc()
		return rec, nil
	}
	ReadCacheMisses.Inc()

	rec, err := s.loadRecord(ctx, collection, key)
	if err != nil {
		return Record{}, err
	}

	s.readCache.Add(ck, rec)
	return rec, nil
}

// GetAll returns every record in a collection, ordered by key.
func (s *Store) GetAll(ctx context.Context, collection string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, fields, stored_at FROM records WHERE collection = ? ORDER BY key ASC`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", collection, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var storedAt int64
		if err := rows.Scan(&rec.Key, &rec.Fields, &storedAt); err != nil {
			return nil, fmt.Errorf("get all %s: %w", collection, err)
		}
		rec.StoredAt = fromMillis(storedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get all %s: %w", collection, err)
	}
	return records, nil
}

// Exists reports whether a key is present in a collection. This is the
// store-agnostic precondition the sync engine uses for upserts instead of
// relying on duplicate-key error classification.
func (s *Store) Exists(ctx context.Context, collection, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var found int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM records WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("exists %s/%s: %w", collection, key, err)
	}
	return true, nil
}

// Add inserts a new record. Returns ErrDuplicateKey if the key already
// exists; an Add never overwrites implicitly.
func (s *Store) Add(ctx context.Context, collection, key string, fields any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("record key is required")
	}

	fieldsJSON, err := marshalFields(fields)
	if err != nil {
		return err
	}

	storedAt := s.now()
	tokens := s.tokensFor(collection, fieldsJSON)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add %s/%s: %w", collection, key, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (collection, key, fields, stored_at) VALUES (?, ?, ?, ?)`,
		collection, key, string(fieldsJSON), toMillis(storedAt),
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("add %s/%s: %w", collection, key, ErrDuplicateKey)
		}
		return fmt.Errorf("add %s/%s: %w", collection, key, err)
	}

	if err := replaceTokens(ctx, tx, collection, key, tokens); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("add %s/%s: %w", collection, key, err)
	}

	StoreOperations.WithLabelValues("add", collection).Inc()
	s.readCache.Add(cacheKey(collection, key), Record{
		Key:          key,
		Fields:       fieldsJSON,
		StoredAt:     storedAt,
		SearchTokens: tokens,
	})
	return nil
}

// Update merges partialFields into an existing record, refreshing its
// stored-at time and recomputing search tokens.
// Returns ErrNotFound if the key is absent.
func (s *Store) Update(ctx context.Context, collection, key string, partialFields any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	partialJSON, err := marshalFields(partialFields)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, key, err)
	}
	defer tx.Rollback()

	var existing []byte
	err = tx.QueryRowContext(ctx,
		`SELECT fields FROM records WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&existing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update %s/%s: %w", collection, key, ErrNotFound)
		}
		return fmt.Errorf("update %s/%s: %w", collection, key, err)
	}

	merged, err := mergeFields(existing, partialJSON)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, key, err)
	}

	storedAt := s.now()
	tokens := s.tokensFor(collection, merged)

	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET fields = ?, stored_at = ? WHERE collection = ? AND key = ?`,
		string(merged), toMillis(storedAt), collection, key,
	); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, key, err)
	}

	if err := replaceTokens(ctx, tx, collection, key, tokens); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, key, err)
	}

	StoreOperations.WithLabelValues("update", collection).Inc()
	s.readCache.Remove(cacheKey(collection, key))
	return nil
}

// Delete removes a record and its tokens.
// Returns ErrNotFound if the key is absent.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND key = ?`,
		collection, key,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	if affected == 0 {
		return fmt.Errorf("delete %s/%s: %w", collection, key, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM record_tokens WHERE collection = ? AND key = ?`,
		collection, key,
	); err != nil {
		return fmt.Errorf("delete %s/%s tokens: %w", collection, key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}

	StoreOperations.WithLabelValues("delete", collection).Inc()
	s.readCache.Remove(cacheKey(collection, key))
	return nil
}

// Search returns the records whose token set contains every token of the
// query. Matching is token-level: a query term that only appears as a
// substring of a longer word does not match. Returns ErrSearchUnsupported
// for collections without designated search fields.
func (s *Store) Search(ctx context.Context, collection, query string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := s.cfg.SearchFields[collection]; !ok {
		return nil, fmt.Errorf("search %s: %w", collection, ErrSearchUnsupported)
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(queryTokens))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(queryTokens)+2)
	args = append(args, collection)
	for _, tok := range queryTokens {
		args = append(args, tok)
	}
	args = append(args, len(queryTokens))

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT r.key, r.fields, r.stored_at
		   FROM records r
		   JOIN record_tokens t ON t.collection = r.collection AND t.key = r.key
		  WHERE r.collection = ? AND t.token IN (%s)
		  GROUP BY r.key
		 HAVING COUNT(DISTINCT t.token) = ?
		  ORDER BY r.key ASC`, placeholders),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var storedAt int64
		if err := rows.Scan(&rec.Key, &rec.Fields, &storedAt); err != nil {
			return nil, fmt.Errorf("search %s: %w", collection, err)
		}
		rec.StoredAt = fromMillis(storedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}

	StoreOperations.WithLabelValues("search", collection).Inc()
	return records, nil
}

func (s *Store) loadRecord(ctx context.Context, collection, key string) (Record, error) {
	var rec Record
	var storedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT key, fields, stored_at FROM records WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&rec.Key, &rec.Fields, &storedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("get %s/%s: %w", collection, key, ErrNotFound)
		}
		return Record{}, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	rec.StoredAt = fromMillis(storedAt)
	return rec, nil
}

// tokensFor derives the search tokens for a record: the designated text
// fields lower-cased, whitespace-tokenized and de-duplicated. Returns nil for
// collections without search fields.
func (s *Store) tokensFor(collection string, fieldsJSON []byte) []string {
	fieldNames, ok := s.cfg.SearchFields[collection]
	if !ok {
		return nil
	}

	var fields map[string]any
	if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	for _, name := range fieldNames {
		text, ok := fields[name].(string)
		if !ok {
			continue
		}
		for _, tok := range tokenize(text) {
			seen[tok] = struct{}{}
		}
	}

	tokens := make([]string, 0, len(seen))
	for tok := range seen {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return tokens
}

// tokenize lower-cases and whitespace-splits text into de-duplicated tokens.
func tokenize(text string) []string {
	seen := make(map[string]struct{})
	var tokens []string
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}
	return tokens
}

// replaceTokens rewrites the token rows for one record inside tx.
func replaceTokens(ctx context.Context, tx *sql.Tx, collection, key string, tokens []string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM record_tokens WHERE collection = ? AND key = ?`,
		collection, key,
	); err != nil {
		return fmt.Errorf("replace tokens %s/%s: %w", collection, key, err)
	}
	for _, tok := range tokens {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO record_tokens (collection, key, token) VALUES (?, ?, ?)`,
			collection, key, tok,
		); err != nil {
			return fmt.Errorf("replace tokens %s/%s: %w", collection, key, err)
		}
	}
	return nil
}

// marshalFields normalizes record fields to a JSON object.
func marshalFields(fields any) ([]byte, error) {
	switch v := fields.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		data, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("marshal record fields: %w", err)
		}
		return data, nil
	}
}

// mergeFields overlays the keys of partial onto existing (shallow merge).
func mergeFields(existing, partial []byte) ([]byte, error) {
	var base map[string]json.RawMessage
	if err := json.Unmarshal(existing, &base); err != nil {
		return nil, fmt.Errorf("parse existing fields: %w", err)
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(partial, &overlay); err != nil {
		return nil, fmt.Errorf("parse partial fields: %w", err)
	}
	for k, v := range overlay {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("merge fields: %w", err)
	}
	return merged, nil
}
