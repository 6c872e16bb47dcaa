// Package cache implements the versioned response-cache namespaces used by
// the offline gateway, backed by Redis.
//
// A namespace is identified by role plus version tag (for example
// "static:v3"). Opening a namespace with a new version tag creates a disjoint
// entry set; the previous version stays behind until Manager.PurgeStale
// deletes it during activation. At most one namespace per role is current at
// a time.
//
// Entries are raw network responses (body, headers, status) JSON-marshalled
// into Redis, with an insertion-order index kept in a sorted set scored by
// store time. The index drives two forms of eviction:
//
//   - count-bounded: when an insert pushes a namespace over its MaxItems
//     ceiling, the oldest-inserted entries are deleted until the ceiling
//     holds again (insertion order, not recency of access)
//   - age-bounded: SweepExpired deletes entries older than MaxAge; it is an
//     explicit periodic call, not something that runs on every read
//
// Concurrent inserts to different keys are safe: the index is a single
// sorted set and entry bodies live under distinct keys. Concurrent inserts
// to the same key are last-writer-wins.
package cache
