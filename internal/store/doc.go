// Package store provides SQLite-backed durable storage for sealed run traces.
//
// The store is append-only:
//   - Runs: one row per sealed trace, header columns denormalized for listing
//   - Trace entries: one row per entry, keyed by (run_id, seq)
//
// # Critical Patterns
//
// Idempotent writes
//   - WriteTrace of an already stored, identical trace is a no-op
//   - A different trace under a stored run ID is rejected (ErrRunConflict)
//
// Logical ordering
//   - Entries are ordered by seq, NEVER by timestamps
//   - Runs list by run ID; UUIDv7 IDs sort chronologically
//
// Canonical storage
//   - Header, entries and failure are stored as RFC 8785 canonical JSON
//   - ReadDocument rebuilds the exact document the validator checks
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// *Store implements runner.Sink.
package store
