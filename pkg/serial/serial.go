// Package serial is the byte-level codec managed objects are serialized
// with. It wraps github.com/hashicorp/go-msgpack/v2, the encoding this
// repository's dependency graph already carried (pulled in transitively
// by hashicorp/raft's BoltDB log store in the teacher) before the
// consensus layer it served was dropped; msgpack's compact, schema-less
// encoding of exported struct fields is exactly what pkg/txctx needs to
// turn an application object into the bytes pkg/store persists.
package serial

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/wwhitehead/reddwarf/pkg/types"
)

var handle = &codec.MsgpackHandle{}

// Encode serializes obj's exported fields.
func Encode(obj any) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, handle)
	if err := enc.Encode(obj); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNotSerializable, err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes data into dst, which must be a non-nil pointer to a
// zero-value instance of the type data was Encoded from (typically one
// just obtained from a Registry).
func Decode(data []byte, dst any) error {
	dec := codec.NewDecoder(bytes.NewReader(data), handle)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSerializationFormat, err)
	}
	return nil
}

// Factory allocates a fresh, zero-value instance of a registered managed
// type, ready to be passed to Decode.
type Factory func() any

// Registry maps class descriptor strings (pkg/catalog's Descriptor.String,
// "Name@Version") to factories for the concrete Go types reachable from
// named roots. Applications populate it once at startup, mirroring
// encoding/gob's Register pattern for interface values.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates descriptor with factory. Registering the same
// descriptor twice overwrites the previous factory.
func (r *Registry) Register(descriptor string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[descriptor] = factory
}

// New allocates a fresh instance for descriptor, or
// ErrSerializationFormat if nothing was registered under that name.
func (r *Registry) New(descriptor string) (any, error) {
	r.mu.RLock()
	factory, ok := r.factories[descriptor]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no factory registered for class %q", types.ErrSerializationFormat, descriptor)
	}
	return factory(), nil
}
