/*
Package store is the durable engine beneath the data service (spec
§4.1): a bbolt-backed key/value database mapping object IDs to
serialized payloads and names to object IDs, wrapped in an in-memory
pessimistic lock manager that gives every transaction serializable
isolation beyond what bbolt's own single-writer model provides on its
own.

# Architecture

	┌────────────────────── BoltStore ──────────────────────────┐
	│                                                             │
	│  Begin(deadline) ──► BoltTxn{ id, buffered puts/removes }  │
	│                          │                                 │
	│            GetObject / PutObject / RemoveObject            │
	│            SetBinding / GetBinding / NextBoundName          │
	│                          │                                 │
	│                          ▼                                 │
	│                    lockManager.acquire                     │
	│              (per-object / per-binding-name locks,         │
	│               wait-for graph, cycle ⇒ abort youngest)       │
	│                          │                                 │
	│                     Prepare() ──► single bbolt.Update       │
	│                          │         (durable, atomic)        │
	│                     Commit() ──► release locks only         │
	└─────────────────────────────────────────────────────────────┘

Locks are held to end-of-transaction, never released early at Prepare —
only Commit or Abort release them, matching §5's "locks are held to
end-of-transaction" and letting a read-only Commit remain idempotent
(invariant 5): there is nothing left to apply, only locks to drop.

# Deadlock Detection

acquire blocks by adding a wait-for edge from the blocked transaction to
every transaction currently holding a conflicting lock, then runs a DFS
looking for a path back to itself. A cycle means deadlock; the
transaction with the highest registration sequence number (the
youngest) in the cycle is aborted with ErrDeadlockVictim, which is
retryable. A scheduler-driven sweep (lock-wait-sweep, every 50ms) also
aborts any transaction whose deadline has passed even if nobody is
currently contending for its locks.

# Object and Binding Storage

Object payloads live in the "objects" bucket keyed by an 8-byte
big-endian ObjectID. Name bindings live in the "bindings" bucket keyed
by the full namespaced name (the "a." / "s." prefix is applied by
callers, not this package) with the bound ObjectID as the value —
bbolt's own lexicographic key ordering is what makes NextBoundName a
plain cursor walk. A small "meta" bucket holds the monotonic
next-object-id counter, incremented durably on every AllocateID call so
invariant 3 ("no later allocation yields an ID already given out")
holds even across a crash between allocation and the owning
transaction's commit.
*/
package store
