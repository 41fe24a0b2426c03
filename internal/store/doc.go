// Package store is the durable offline attendance queue.
//
// Every captured check-in/check-out event is persisted as a row in a
// local SQLite database so it survives process kill, and carries a
// status state machine:
//
//	pending → syncing → synced            (terminal success)
//	syncing → pending                     (retriable failure, budget left)
//	syncing → failed                      (budget exhausted, or permanent)
//	failed  → pending                     (manual retry only)
//
// The entry id is the client-generated idempotency key. Enqueue uses
// ON CONFLICT(id) DO NOTHING so repeated captures are no-ops, and the
// remote API dedupes retried submissions on the same key.
//
// Serialization: the connection pool is capped at one connection, and
// every transition is a status-guarded UPDATE, so capture and two
// overlapping drains can never move the same entry twice.
package store
