// Package txctx is the per-transaction Context (spec §4.3): it caches
// resolved objects, tracks dirty/removed state, enforces identity, and
// drives serialization at prepare time.
package txctx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wwhitehead/reddwarf/pkg/catalog"
	"github.com/wwhitehead/reddwarf/pkg/events"
	"github.com/wwhitehead/reddwarf/pkg/log"
	"github.com/wwhitehead/reddwarf/pkg/metrics"
	"github.com/wwhitehead/reddwarf/pkg/ref"
	"github.com/wwhitehead/reddwarf/pkg/serial"
	"github.com/wwhitehead/reddwarf/pkg/store"
	"github.com/wwhitehead/reddwarf/pkg/types"
)

// Managed is the contract an application type must satisfy to be stored
// through a Context: a (name, version) pair identifying its class, the
// same pair pkg/catalog turns into a durable small integer.
type Managed interface {
	ClassDescriptor() (name string, version int)
}

type entry struct {
	obj      any
	dirty    bool
	isNew    bool
	removed  bool
	snapshot []byte
}

// Context caches objects for the lifetime of one transaction. Its
// lifetime equals its transaction's lifetime (spec §3).
type Context struct {
	txn                 store.Txn
	registry            *serial.Registry
	detectModifications bool
	debugCheckEvery     int
	broker              *events.Broker
	logger              zerolog.Logger

	mu         sync.Mutex
	byID       map[types.ObjectID]*entry
	byIdentity map[uintptr]types.ObjectID
	opCount    int
}

// New builds a Context over txn. registry supplies factories for
// decoding stored payloads; detectModifications and debugCheckEvery
// mirror the detect.modifications and debug.check.interval config
// options (pkg/config).
// broker may be nil, disabling EventSilentMutation publication.
func New(txn store.Txn, registry *serial.Registry, detectModifications bool, debugCheckEvery int, broker *events.Broker) *Context {
	return &Context{
		txn:                 txn,
		registry:            registry,
		detectModifications: detectModifications,
		debugCheckEvery:     debugCheckEvery,
		broker:              broker,
		logger:              log.WithTxnID(txn.ID()),
		byID:                make(map[types.ObjectID]*entry),
		byIdentity:          make(map[uintptr]types.ObjectID),
	}
}

// Txn exposes the underlying store transaction. Name-binding operations
// (spec §4.5) bypass the object cache entirely, so the service front-end
// drives them directly against the store rather than through Context.
func (c *Context) Txn() store.Txn { return c.txn }

func pointerIdentity(obj any) (uintptr, error) {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return 0, fmt.Errorf("%w: managed objects must be non-nil pointers", types.ErrNotSerializable)
	}
	return v.Pointer(), nil
}

// ResolveForRead returns the cached object for id, read-locking it in the
// store on first resolve.
func (c *Context) ResolveForRead(id types.ObjectID) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveLocked(id, false)
}

// ResolveForUpdate is ResolveForRead, but write-locks the object and
// marks it dirty, upgrading the lock if it was already cached clean.
func (c *Context) ResolveForUpdate(id types.ObjectID) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveLocked(id, true)
}

func (c *Context) resolveLocked(id types.ObjectID, forUpdate bool) (any, error) {
	c.opCount++
	defer c.maybeDebugCheckLocked()

	if e, ok := c.byID[id]; ok {
		if e.removed {
			return nil, types.ErrObjectNotFound
		}
		if forUpdate && !e.dirty {
			if _, err := c.txn.GetObject(id, true); err != nil {
				return nil, err
			}
			e.dirty = true
		}
		return e.obj, nil
	}

	payload, err := c.txn.GetObject(id, forUpdate)
	if err != nil {
		return nil, err
	}
	obj, err := c.decode(payload)
	if err != nil {
		return nil, err
	}

	e := &entry{obj: obj}
	if forUpdate {
		e.dirty = true
	} else if c.detectModifications {
		e.snapshot = payload
	}
	c.byID[id] = e
	if ptr, err := pointerIdentity(obj); err == nil {
		c.byIdentity[ptr] = id
	}
	bindReferences(obj, c)

	c.logger.Trace().Uint64("object_id", uint64(id)).Bool("for_update", forUpdate).Msg("resolve")
	return obj, nil
}

// MarkForUpdate flips an already-cached object to dirty, upgrading its
// store lock. Called with a transient (never resolved or created) object
// it fails object-not-managed.
func (c *Context) MarkForUpdate(obj any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ptr, err := pointerIdentity(obj)
	if err != nil {
		return err
	}
	id, ok := c.byIdentity[ptr]
	if !ok {
		return types.ErrObjectNotManaged
	}
	e := c.byID[id]
	if e.removed {
		return types.ErrObjectNotFound
	}
	if !e.dirty {
		if _, err := c.txn.GetObject(id, true); err != nil {
			return err
		}
		e.dirty = true
	}
	return nil
}

// CreateReference mints a reference for obj, allocating a new ID and
// caching obj as new+dirty on first encounter; a second call for the
// same identity returns the original reference's ID.
func (c *Context) CreateReference(obj any) (*ref.Reference, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ptr, err := pointerIdentity(obj)
	if err != nil {
		return nil, err
	}
	if id, ok := c.byIdentity[ptr]; ok {
		return ref.New(id, c), nil
	}
	if _, ok := obj.(Managed); !ok {
		return nil, types.ErrNotSerializable
	}

	id, err := c.txn.AllocateID()
	if err != nil {
		return nil, err
	}

	c.byID[id] = &entry{obj: obj, dirty: true, isNew: true}
	c.byIdentity[ptr] = id
	bindReferences(obj, c)

	c.logger.Trace().Uint64("object_id", uint64(id)).Msg("create_reference")
	return ref.New(id, c), nil
}

// Remove marks obj removed; subsequent resolves of its ID within this
// transaction fail object-not-found.
func (c *Context) Remove(obj any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ptr, err := pointerIdentity(obj)
	if err != nil {
		return err
	}
	id, ok := c.byIdentity[ptr]
	if !ok {
		return types.ErrObjectNotManaged
	}
	e := c.byID[id]
	if e.removed {
		return types.ErrObjectNotFound
	}
	e.removed = true
	e.dirty = false

	c.logger.Trace().Uint64("object_id", uint64(id)).Msg("remove")
	return nil
}

// Prepare serializes every dirty or newly-created object, flags and
// serializes any silently-mutated clean object, schedules removals, and
// then calls through to the store's own Prepare (spec §4.3 steps 1-4;
// name-binding changes made through the service front-end already went
// straight to the store, so there is nothing left to do for step 3 here).
func (c *Context) Prepare() (store.PrepareOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, e := range c.byID {
		if e.removed {
			if err := c.txn.RemoveObject(id); err != nil {
				return 0, err
			}
			continue
		}

		if e.dirty {
			payload, err := c.encode(e.obj)
			if err != nil {
				return 0, err
			}
			if err := c.txn.PutObject(id, payload); err != nil {
				return 0, err
			}
			continue
		}

		if c.detectModifications && e.snapshot != nil {
			current, err := c.encode(e.obj)
			if err != nil {
				return 0, err
			}
			if !bytes.Equal(current, e.snapshot) {
				metrics.SilentMutationsDetected.Inc()
				c.logger.Trace().Uint64("object_id", uint64(id)).Msg("silent mutation detected")
				if c.broker != nil {
					c.broker.Publish(&events.Event{
						Type:    events.EventSilentMutation,
						Message: fmt.Sprintf("object %d mutated without mark_for_update", id),
					})
				}
				if err := c.txn.PutObject(id, current); err != nil {
					return 0, err
				}
			}
		}
	}

	return c.txn.Prepare()
}

// Commit forwards to the store and drops the cache.
func (c *Context) Commit() error {
	c.mu.Lock()
	c.byID = nil
	c.byIdentity = nil
	c.mu.Unlock()
	return c.txn.Commit()
}

// Abort forwards to the store and drops the cache.
func (c *Context) Abort() error {
	c.mu.Lock()
	c.byID = nil
	c.byIdentity = nil
	c.mu.Unlock()
	return c.txn.Abort()
}

// maybeDebugCheckLocked is the reference-table debug check (spec §4.3):
// every debugCheckEvery operations, walk the cache and assert every
// entry's ID round-trips through the identity map. Caller must hold c.mu.
func (c *Context) maybeDebugCheckLocked() {
	if c.debugCheckEvery <= 0 || c.opCount%c.debugCheckEvery != 0 {
		return
	}
	for id, e := range c.byID {
		if e.removed {
			continue
		}
		ptr, err := pointerIdentity(e.obj)
		if err != nil {
			continue
		}
		if got := c.byIdentity[ptr]; got != id {
			c.logger.Warn().
				Uint64("object_id", uint64(id)).
				Uint64("identity_maps_to", uint64(got)).
				Msg("reference-table debug check failed")
		}
	}
}

func (c *Context) encode(obj any) ([]byte, error) {
	managed, ok := obj.(Managed)
	if !ok {
		return nil, types.ErrNotSerializable
	}
	name, version := managed.ClassDescriptor()
	classID, err := catalog.ClassID(c.txn, catalog.Descriptor{Name: name, Version: version})
	if err != nil {
		return nil, err
	}
	body, err := serial.Encode(obj)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, classID)
	copy(buf[4:], body)
	return buf, nil
}

func (c *Context) decode(payload []byte) (any, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: payload shorter than class id prefix", types.ErrSerializationFormat)
	}
	classID := binary.BigEndian.Uint32(payload[:4])
	d, err := catalog.Lookup(c.txn, classID)
	if err != nil {
		return nil, err
	}
	dst, err := c.registry.New(d.String())
	if err != nil {
		return nil, err
	}
	if err := serial.Decode(payload[4:], dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// bindReferences walks obj's exported fields looking for *ref.Reference
// values with no resolver bound yet (the state a freshly-decoded object
// graph is in, since serialization writes only a reference's ID) and
// binds them to resolver. It only reaches exported fields, the same
// limit pkg/serial's codec operates under.
func bindReferences(obj any, resolver ref.Resolver) {
	walkBindReferences(reflect.ValueOf(obj), resolver, make(map[uintptr]bool))
}

func walkBindReferences(v reflect.Value, resolver ref.Resolver, seen map[uintptr]bool) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return
		}
		if r, ok := v.Interface().(*ref.Reference); ok {
			r.BindResolver(resolver)
			return
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return
		}
		seen[ptr] = true
		walkBindReferences(v.Elem(), resolver, seen)
	case reflect.Interface:
		walkBindReferences(v.Elem(), resolver, seen)
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			f := v.Field(i)
			if !f.CanInterface() {
				continue
			}
			walkBindReferences(f, resolver, seen)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			walkBindReferences(v.Index(i), resolver, seen)
		}
	case reflect.Map:
		for _, k := range v.MapKeys() {
			walkBindReferences(v.MapIndex(k), resolver, seen)
		}
	}
}
