// Package store implements the synchronization engine's canonical
// state: the work-item board, optimistic mutations, and the merge of
// server push events.
//
// # Architecture
//
// The store owns all mutable state from a single event-loop goroutine.
// Every public operation, push event, gateway completion, notification
// expiry, and connection transition runs as a discrete task against
// that state, so no item-level locking exists anywhere:
//
//	CLI / UI ──┐
//	transport ─┤→ task queue → event loop → snapshots → subscribers
//	gateway  ──┘                  │
//	                              └→ write-through → persist
//
// Blocking work (gateway calls, storage writes) runs on worker
// goroutines and re-enters the loop with results.
//
// # Mutations
//
// Local mutations apply optimistically and are pushed to the
// orchestrator through the gateway. Each mutation takes a monotonic
// request token; a response whose token no longer matches the item's
// pending mutation has been superseded and is ignored. While the
// transport is not OPEN, mutations queue (bounded; overflow fails the
// oldest with a network error) and replay in original order on
// reconnect.
//
// # Reconciliation
//
// Push events merge through the reconcile package: stale sequences are
// discarded, unknown external IDs materialize new items, events racing
// an in-flight mutation defer until it settles, and the server wins
// conflicts. A rejected mutation rolls the item back to its last
// server-confirmed state.
//
// # Persistence
//
// The store hydrates from the snapshot database before any network
// activity and writes committed (server-confirmed) state back through
// after each settle. Optimistic state is never persisted. Storage
// failures are non-fatal and retried on the next commit.
package store
