// Package persistence stores and restores scan snapshots.
//
// A Snapshot is the durable projection of the scan state: every item is
// reduced to its identifier. Two Store implementations are provided:
//
//   - JSONStore writes a single JSON document through an afero filesystem,
//     replacing it atomically on every save.
//   - SQLiteStore keeps the same data in a SQLite database, overwriting it
//     inside one transaction.
//
// Writer sits in front of a Store and performs saves in the background so
// that callers never wait on disk I/O. Saves issued while a write is in
// flight are coalesced: only the newest pending snapshot is written next.
//
// A missing snapshot is reported as ErrNoSnapshot and an unreadable one as
// ErrCorruptSnapshot. Callers treat both as an empty state.
package persistence
