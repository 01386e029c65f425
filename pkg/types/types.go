package types

import (
	"errors"
	"fmt"
)

// ObjectID is a durable, monotonically assigned object identifier. Zero and
// negative values never denote a real object; ObjectID is unsigned so the
// zero value doubles as "no ID".
type ObjectID uint64

// InvalidObjectID is the zero value: never allocated, never valid.
const InvalidObjectID ObjectID = 0

// Valid reports whether id could possibly denote a real object. It does not
// check whether the object still exists.
func (id ObjectID) Valid() bool {
	return id != InvalidObjectID
}

func (id ObjectID) String() string {
	return fmt.Sprintf("%d", uint64(id))
}

// Namespace distinguishes the two disjoint name-binding key spaces that
// share one underlying key space in the store, ordered lexicographically
// within each prefix.
type Namespace string

const (
	// NamespaceApplication holds bindings application code creates via
	// GetBinding/SetBinding.
	NamespaceApplication Namespace = "a."
	// NamespaceService holds bindings internal to the service (the
	// version header, and any service-internal root objects).
	NamespaceService Namespace = "s."
)

// Prefixed returns name prefixed for storage under this namespace.
func (n Namespace) Prefixed(name string) string {
	return string(n) + name
}

// HasPrefix reports whether key belongs to this namespace.
func (n Namespace) HasPrefix(key string) bool {
	prefix := string(n)
	if len(key) < len(prefix) {
		return false
	}
	return key[:len(prefix)] == prefix
}

// Unprefixed strips len(prefix) bytes from key without checking that they
// are this namespace's prefix (it panics only if key is shorter than the
// prefix); callers must check HasPrefix first.
func (n Namespace) Unprefixed(key string) string {
	return key[len(n):]
}

// Kind classifies a public error into one of the five buckets §7 of the
// specification defines. Kind governs retry behavior in the coordinator.
type Kind int

const (
	// KindUnknown is returned for errors this package did not originate.
	KindUnknown Kind = iota
	// KindRetryable errors may succeed if the whole transaction is re-run.
	KindRetryable
	// KindCallerBug errors indicate a programming error in the caller;
	// retrying with the same arguments will fail identically.
	KindCallerBug
	// KindDataAbsent errors indicate the requested name or object does not
	// exist; not a bug, not retryable.
	KindDataAbsent
	// KindLifecycle errors reflect the service's own state (not ready,
	// shutting down, shut down, no active transaction).
	KindLifecycle
	// KindFatal errors are unrecoverable and never retried. Returning one
	// does not change the service's lifecycle state: the coordinator
	// passes it to the caller and stays Running.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindCallerBug:
		return "caller-bug"
	case KindDataAbsent:
		return "data-absent"
	case KindLifecycle:
		return "lifecycle"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// sentinel is a classified error value. Public errors are created by
// wrapping a sentinel with fmt.Errorf("...: %w", ErrX) so errors.Is keeps
// working after context is attached.
type sentinel struct {
	kind Kind
	msg  string
}

func (s *sentinel) Error() string { return s.msg }

func newErr(kind Kind, msg string) error {
	return &sentinel{kind: kind, msg: msg}
}

// Retryable errors (§7).
var (
	ErrTransactionConflict = newErr(KindRetryable, "transaction-conflict")
	ErrTransactionTimeout  = newErr(KindRetryable, "transaction-timeout")
	ErrDeadlockVictim      = newErr(KindRetryable, "transaction-aborted: deadlock-victim")
)

// Caller-bug errors (§7).
var (
	ErrNullArgument      = newErr(KindCallerBug, "null-argument")
	ErrInvalidID         = newErr(KindCallerBug, "invalid-id")
	ErrTypeMismatch      = newErr(KindCallerBug, "type-mismatch")
	ErrNotSerializable   = newErr(KindCallerBug, "not-serializable")
	ErrObjectNotManaged  = newErr(KindCallerBug, "object-not-managed")

	// ErrTransactionAborted is what retry-budget exhaustion converts a
	// retryable abort into (§4.6): never retried further, surfaced to
	// the application like any other caller-bug-kind error, with no
	// lifecycle consequence for the service.
	ErrTransactionAborted = newErr(KindCallerBug, "transaction-aborted")
)

// Data-absent errors (§7).
var (
	ErrNameNotBound   = newErr(KindDataAbsent, "name-not-bound")
	ErrObjectNotFound = newErr(KindDataAbsent, "object-not-found")
)

// Service lifecycle errors (§7).
var (
	ErrServiceNotReady     = newErr(KindLifecycle, "service-not-ready")
	ErrServiceShuttingDown = newErr(KindLifecycle, "service-shutting-down")
	ErrServiceShutDown     = newErr(KindLifecycle, "service-shut-down")
	ErrTransactionNotActive = newErr(KindLifecycle, "transaction-not-active")
	ErrAlreadyShutDown     = newErr(KindLifecycle, "already-shut-down")
)

// Fatal errors (§7).
var (
	ErrStorageCorrupt       = newErr(KindFatal, "storage-corrupt")
	ErrVersionIncompatible  = newErr(KindFatal, "version-incompatible")
	ErrSerializationFormat  = newErr(KindFatal, "serialization-format-error")
)

// ErrorKind classifies err by walking its wrap chain for one of this
// package's sentinels. Unrecognized errors classify as KindUnknown.
func ErrorKind(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var s *sentinel
	if errors.As(err, &s) {
		return s.kind
	}
	return KindUnknown
}

// Retryable reports whether the coordinator should re-run the enclosing
// transaction after err.
func Retryable(err error) bool {
	return ErrorKind(err) == KindRetryable
}
