// Package notification holds the core domain model for the Soundrise
// notification delivery engine and the Storage port it persists through.
//
// A Notification carries per-channel delivery records; the aggregate delivery
// status is always derived from those records, never stored independently:
//
//   - delivered: every attempted channel succeeded
//   - partial:   some channels succeeded, some failed
//   - failed:    every attempted channel failed
//   - pending:   no channel has been attempted yet
//
// Storage implementations included in this repository:
//
//   - MemoryStorage: development and tests
//   - postgres.Store: durable system of record (see the postgres package)
package notification
