// Package filesystem wraps file opens and stats with retries for NFS stale
// file handle (ESTALE) errors.
//
// Photo libraries are frequently mounted over NFS. A file handle can go stale
// when the server re-exports or the file is replaced, and the operation
// usually succeeds if simply retried. Only ESTALE is retried; every other
// error is returned immediately.
//
// Retry metrics go through an Observer installed with SetObserver, which
// keeps this package free of a Prometheus dependency.
package filesystem
