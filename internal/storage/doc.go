// Package storage persists the outbox dedup window so suppression survives
// restarts. Message history is deliberately not stored.
//
// Drivers:
//   - "file": snapshot + append-only journal, no external dependency
//   - "sqlite": single-file SQLite database (modernc.org/sqlite, pure Go)
//   - "redis": keys with a TTL, shared by every process pointing at the server
package storage
