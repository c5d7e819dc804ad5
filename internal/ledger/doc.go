// Package ledger persists the upload lifecycle of every discovered render
// file in SQLite. It is the single source of truth for processing state:
// ingestion is idempotent by file path, status transitions are serialized
// through a single writer lock, and scheduling queries are scoped per
// account and calendar day.
package ledger
