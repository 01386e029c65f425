// Package store is the durable key/value engine underneath the data
// service: it maps object IDs to serialized payloads and names to object
// IDs, with per-transaction pessimistic locking and deadlock detection
// (spec §4.1).
package store

import (
	"context"
	"time"

	"github.com/wwhitehead/reddwarf/pkg/types"
)

// PrepareOutcome is the result of a transaction's first 2PC phase.
type PrepareOutcome int

const (
	// PreparePrepared means the transaction has buffered writes that
	// have now been durably flushed; Commit must still be called to
	// release locks.
	PreparePrepared PrepareOutcome = iota
	// PrepareReadOnly means the transaction took no writes; Commit
	// applies nothing but must still be called to release its locks.
	PrepareReadOnly
)

// Store is the durable engine a transaction coordinator drives through
// Begin/Prepare/Commit/Abort. Implementations must provide serializable
// isolation via pessimistic locking with deadlock detection (spec §5).
type Store interface {
	// Begin registers a new transaction with the given deadline and
	// returns a handle scoped to it.
	Begin(deadline time.Time) (Txn, error)

	// Shutdown blocks new Begins, waits for in-flight transactions to
	// settle, and closes the underlying database. It returns true iff
	// every transaction closed cleanly before ctx was done; on ctx
	// cancellation it returns false without altering state.
	Shutdown(ctx context.Context) bool

	// IsOpen reports whether the store is open for new transactions.
	// Intended for health.NewOpenChecker.
	IsOpen() bool
}

// Txn is the per-transaction handle the spec calls "a handle scoped to
// [the transaction]" (§4.1 begin). All methods are safe for concurrent
// use by the single goroutine driving the transaction; concurrent use
// by multiple transactions is what the lock manager arbitrates.
type Txn interface {
	// ID uniquely identifies this transaction among all that have ever
	// been begun by this store instance.
	ID() string

	// AllocateID returns a new object ID, durably recorded so it is
	// never allocated again even if this transaction aborts.
	AllocateID() (types.ObjectID, error)

	// GetObject returns id's payload. forUpdate acquires a write lock;
	// otherwise a read lock is taken. Returns ErrObjectNotFound if id
	// was never written, was removed by a prior committed transaction,
	// or was removed earlier in this same transaction.
	GetObject(id types.ObjectID, forUpdate bool) ([]byte, error)

	// PutObject stores payload under id, upgrading to a write lock if
	// this transaction does not already hold one.
	PutObject(id types.ObjectID, payload []byte) error

	// RemoveObject write-locks id and schedules it for deletion at
	// Prepare.
	RemoveObject(id types.ObjectID) error

	// SetBinding binds name to id, write-locking the binding key.
	SetBinding(name string, id types.ObjectID) error

	// GetBinding returns the ID bound to name, or ErrNameNotBound.
	GetBinding(name string) (types.ObjectID, error)

	// RemoveBinding unbinds name, or returns ErrNameNotBound if it was
	// never bound.
	RemoveBinding(name string) error

	// NextBoundName returns the lexicographically least bound name
	// strictly greater than name. An empty name means "start of the key
	// space". The boolean is false when enumeration has reached the
	// end.
	NextBoundName(name string) (string, bool, error)

	// RegisterClass returns the small integer ID for a class descriptor
	// (spec §4.2), assigning one on first encounter. The assignment is
	// visible to other transactions only if this one commits.
	RegisterClass(descriptor string) (uint32, error)

	// ClassDescriptor is the strict reverse lookup for RegisterClass;
	// an unrecognized ID is ErrSerializationFormat.
	ClassDescriptor(id uint32) (string, error)

	// Prepare flushes buffered writes durably and returns whether the
	// transaction took any. Locks are not released here; they are held
	// to end-of-transaction per spec §5.
	Prepare() (PrepareOutcome, error)

	// Commit finalizes a prepared transaction and releases its locks.
	Commit() error

	// Abort discards buffered writes and releases locks. Safe to call
	// whether or not Prepare was called.
	Abort() error
}
