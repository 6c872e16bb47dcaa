package store

import (
	"errors"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Common errors returned by the record store.
var (
	// ErrNotFound indicates the record key is absent from the collection.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey indicates an Add hit an existing key.
	ErrDuplicateKey = errors.New("duplicate record key")

	// ErrSearchUnsupported indicates the collection has no designated
	// search fields.
	ErrSearchUnsupported = errors.New("collection does not support search")
)

// isUniqueViolation reports whether err is a SQLite primary-key or unique
// constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
