// Package ref implements the managed reference (spec §4.4): a lightweight
// handle carrying only an object ID and a weak back-reference to the
// context that resolved or created it.
package ref

import (
	"github.com/wwhitehead/reddwarf/pkg/types"
)

// Resolver is the subset of the per-transaction context a Reference needs
// to dereference itself. pkg/txctx's Context implements it.
type Resolver interface {
	ResolveForRead(id types.ObjectID) (any, error)
	ResolveForUpdate(id types.ObjectID) (any, error)
}

// Reference is a stable handle to a managed object. Only ObjectID is
// exported so generic struct codecs serialize it and skip the resolver,
// matching spec §4.4 "serialization of a reference writes only its ID."
type Reference struct {
	ObjectID types.ObjectID

	resolver Resolver
}

// New builds a reference already bound to resolver, as Context does for
// references it hands out directly (create-reference, ReferenceForID).
func New(id types.ObjectID, resolver Resolver) *Reference {
	return &Reference{ObjectID: id, resolver: resolver}
}

// ID returns the stable identifier (spec §4.4 "id()").
func (r *Reference) ID() types.ObjectID {
	if r == nil {
		return types.InvalidObjectID
	}
	return r.ObjectID
}

// BindResolver attaches resolver to a reference that does not yet have
// one, such as one just produced by decoding a stored object. It is a
// no-op if a resolver is already bound. Exported so pkg/txctx can rebind
// references nested in a freshly-decoded object graph.
func (r *Reference) BindResolver(resolver Resolver) {
	if r == nil || r.resolver != nil {
		return
	}
	r.resolver = resolver
}

// Get delegates to the bound context's resolve-for-read.
func (r *Reference) Get() (any, error) {
	if r == nil || r.resolver == nil {
		return nil, types.ErrTransactionNotActive
	}
	return r.resolver.ResolveForRead(r.ObjectID)
}

// GetForUpdate delegates to the bound context's resolve-for-update.
func (r *Reference) GetForUpdate() (any, error) {
	if r == nil || r.resolver == nil {
		return nil, types.ErrTransactionNotActive
	}
	return r.resolver.ResolveForUpdate(r.ObjectID)
}

// Equal reports whether two references denote the same object (spec §4.4
// "two references with equal ID are equal").
func (r *Reference) Equal(other *Reference) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.ObjectID == other.ObjectID
}
