// Package storage provides the record persistence layer.
//
// Records are schemaless documents keyed by resource type and id; the policy
// table, not the store, decides what their fields mean. Two backends
// implement RecordStore:
//
//   - MemoryStore: in-process map, for tests and single-node setups
//   - PostgresStore: JSONB-backed table with containment-indexed filters
//
// Updates are optimistically versioned. A write carrying a stale Version
// fails with ErrVersionConflict and the caller refetches and retries.
package storage
