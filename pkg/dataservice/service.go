// Package dataservice is the Service front-end (spec §4.5): the API
// application and service code actually call, layered over a per-
// transaction Context. It validates arguments, applies namespace
// prefixing to bound names, and maps store errors onto the public
// error taxonomy.
package dataservice

import (
	"errors"
	"fmt"

	"github.com/wwhitehead/reddwarf/pkg/ref"
	"github.com/wwhitehead/reddwarf/pkg/txctx"
	"github.com/wwhitehead/reddwarf/pkg/types"
)

// StateCheck reports a lifecycle error if the service should not accept
// an operation right now, or nil if it may proceed. A nil StateCheck
// always allows the operation (used by tests that exercise a Service
// without a coordinator).
type StateCheck func() error

// Service is the per-transaction operation surface. One Service wraps
// exactly one Context and one namespace: callers needing both the
// application (a.) and service-internal (s.) binding namespaces within
// the same transaction construct two Services over the same Context.
type Service struct {
	ctx        *txctx.Context
	namespace  types.Namespace
	stateCheck StateCheck
}

// New builds a Service over ctx, scoped to namespace. stateCheck may be
// nil.
func New(ctx *txctx.Context, namespace types.Namespace, stateCheck StateCheck) *Service {
	return &Service{ctx: ctx, namespace: namespace, stateCheck: stateCheck}
}

// Application builds a Service addressing the a. namespace, the one
// application code uses.
func Application(ctx *txctx.Context, stateCheck StateCheck) *Service {
	return New(ctx, types.NamespaceApplication, stateCheck)
}

// ServiceInternal builds a Service addressing the s. namespace, used for
// root objects and bindings internal to the data service itself (the
// version header, service-owned catalogs).
func ServiceInternal(ctx *txctx.Context, stateCheck StateCheck) *Service {
	return New(ctx, types.NamespaceService, stateCheck)
}

func (s *Service) checkState() error {
	if s.stateCheck == nil {
		return nil
	}
	return s.stateCheck()
}

// GetBinding looks up name in this Service's namespace and resolves it
// for read, asserting the stored object is assignable to T. A type
// mismatch is a caller bug (spec §7 type-mismatch), not a storage error.
func GetBinding[T any](s *Service, name string) (T, error) {
	var zero T
	if err := s.checkState(); err != nil {
		return zero, err
	}
	id, err := s.lookupBinding(name)
	if err != nil {
		return zero, err
	}
	obj, err := s.ctx.ResolveForRead(id)
	if err != nil {
		return zero, err
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, types.ErrTypeMismatch
	}
	return typed, nil
}

// GetBindingForUpdate is GetBinding but write-locks the resolved object.
func GetBindingForUpdate[T any](s *Service, name string) (T, error) {
	var zero T
	if err := s.checkState(); err != nil {
		return zero, err
	}
	id, err := s.lookupBinding(name)
	if err != nil {
		return zero, err
	}
	obj, err := s.ctx.ResolveForUpdate(id)
	if err != nil {
		return zero, err
	}
	typed, ok := obj.(T)
	if !ok {
		return zero, types.ErrTypeMismatch
	}
	return typed, nil
}

func (s *Service) lookupBinding(name string) (types.ObjectID, error) {
	key := s.namespace.Prefixed(name)
	id, err := s.ctx.Txn().GetBinding(key)
	if err != nil {
		if errors.Is(err, types.ErrNameNotBound) {
			return types.InvalidObjectID, fmt.Errorf("%w: %s", types.ErrNameNotBound, name)
		}
		return types.InvalidObjectID, err
	}
	return id, nil
}

// SetBinding binds name, in this Service's namespace, to obj, minting a
// reference for obj first if it has none yet.
func (s *Service) SetBinding(name string, obj any) error {
	if err := s.checkState(); err != nil {
		return err
	}
	if obj == nil {
		return types.ErrNullArgument
	}
	r, err := s.ctx.CreateReference(obj)
	if err != nil {
		return err
	}
	key := s.namespace.Prefixed(name)
	return s.ctx.Txn().SetBinding(key, r.ID())
}

// RemoveBinding unbinds name. Removing an object's binding does not
// remove the object itself.
func (s *Service) RemoveBinding(name string) error {
	if err := s.checkState(); err != nil {
		return err
	}
	key := s.namespace.Prefixed(name)
	if err := s.ctx.Txn().RemoveBinding(key); err != nil {
		if errors.Is(err, types.ErrNameNotBound) {
			return fmt.Errorf("%w: %s", types.ErrNameNotBound, name)
		}
		return err
	}
	return nil
}

// NextBoundName returns the next bound name in this Service's namespace,
// strictly after name in sort order, or ok=false once enumeration has
// crossed into the other namespace or run off the end of the key space.
// An empty name starts enumeration from the beginning.
func (s *Service) NextBoundName(name string) (string, bool, error) {
	if err := s.checkState(); err != nil {
		return "", false, err
	}
	key := string(s.namespace)
	if name != "" {
		key = s.namespace.Prefixed(name)
	}
	next, ok, err := s.ctx.Txn().NextBoundName(key)
	if err != nil {
		return "", false, err
	}
	if !ok || !s.namespace.HasPrefix(next) {
		return "", false, nil
	}
	return s.namespace.Unprefixed(next), true, nil
}

// CreateReference mints (or returns the existing) reference for obj.
func (s *Service) CreateReference(obj any) (*ref.Reference, error) {
	if err := s.checkState(); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, types.ErrNullArgument
	}
	return s.ctx.CreateReference(obj)
}

// ReferenceForID builds an unresolved reference to id without touching
// the store. Resolving it later goes through the normal Context path.
func (s *Service) ReferenceForID(id types.ObjectID) (*ref.Reference, error) {
	if err := s.checkState(); err != nil {
		return nil, err
	}
	if !id.Valid() {
		return nil, types.ErrInvalidID
	}
	return ref.New(id, s.ctx), nil
}

// RemoveObject marks obj removed for the rest of this transaction.
func (s *Service) RemoveObject(obj any) error {
	if err := s.checkState(); err != nil {
		return err
	}
	if obj == nil {
		return types.ErrNullArgument
	}
	return s.ctx.Remove(obj)
}

// MarkForUpdate flips an already-resolved object to dirty.
func (s *Service) MarkForUpdate(obj any) error {
	if err := s.checkState(); err != nil {
		return err
	}
	if obj == nil {
		return types.ErrNullArgument
	}
	return s.ctx.MarkForUpdate(obj)
}
