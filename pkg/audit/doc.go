// Package audit provides the append-only operation trail.
//
// Entries form a hash chain: each entry's chain_hash covers its content and
// the previous entry's hash, so any mutation or removal inside the trail is
// detectable by VerifyChain. Appends are idempotent on operation id, which
// lets callers retry deliveries without duplicating entries.
//
// Entries never contain field values. Mutations record the touched field
// names; silently restored immutable fields additionally record a hash of
// the discarded value so an investigation can confirm what was attempted
// without the trail itself holding personal data.
//
// Sinks: DBWriter persists to PostgreSQL and serves the query surface,
// FileWriter appends NDJSON lines with rotation, and MultiWriter fans out to
// both. RetentionJob trims expired entries on a schedule, optionally
// archiving them to object storage first.
package audit
