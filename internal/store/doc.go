// Package store provides durable message storage for parley on SQLite or PostgreSQL.
//
// # Architecture
//
// MessageStore is the single interface the messaging core consumes:
//
//   - Append: validate and persist a message with a server-assigned timestamp
//   - QueryBetween: both directions of one two-party exchange, oldest first
//   - QueryInvolving: every message touching one identity, oldest first
//   - MarkRead: flip is_read for one sender -> reader direction
//
// SQLiteStore is the default implementation for a single process.
// PostgresStore lets several replicas share one history. Open picks one by
// driver name. MockStore is an in-memory
// implementation for unit tests that can also simulate an unreachable store
// via FailWith.
//
// # Ordering
//
// created_at is strictly increasing per insertion within a store. Appends are
// serialized and the clock is bumped by one microsecond when two appends land
// on the same instant, so ordering by created_at equals insertion order.
//
// PostgresStore assigns created_at inside the insert statement while holding
// a transaction-scoped advisory lock, so the same guarantee holds across
// replicas writing to one database.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Database file locations:
//
//   - Production: /var/lib/parley/parley.db
//   - Development: ~/.local/share/parley/parley.db
//   - Testing: :memory: (in-memory database)
//
// # Error Handling
//
//   - ErrValidation: wrapped by ErrEmptyContent, ErrMissingSender,
//     ErrMissingReceiver, ErrSameParticipant and ErrMissingParticipant
//
// All methods accept context.Context for cancellation support.
package store
