// Package storage provides key-value backends for the tracker blob.
// Each backend keeps opaque byte values under string keys and reports missing keys
// with ErrNotFound. Implementations: in-memory, file per key, SQLite with WAL mode
// and redis.
package storage
