// Package storage persists tracker snapshots so a restart does not lose
// decided results.
//
// Every backend stores the same two artifacts: the job records and the
// winner ledger. Supported drivers:
//   - "file": JSON documents replaced by atomic rename
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "postgres": PostgreSQL via pgx
//   - "s3": two JSON objects in an S3 bucket
//   - "none" (or empty): persistence disabled
package storage
