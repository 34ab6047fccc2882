// Package store provides the durable task and log persistence layer.
//
// It currently supports:
//   - "memory":   mutex-guarded in-memory store (tests, dev)
//   - "sqlite":   single-file SQLite database
//   - "postgres": pgx connection pool
//
// All drivers implement the same Store contract. Status transitions that must
// be claimed exactly once (pending → processing) are conditional updates, so
// concurrent dispatchers racing on the same task get exactly one winner.
package store
