// Package catalog gives the serializer a typed view over the store's
// classes catalog (spec §4.2): a durable registry assigning small
// integer IDs to class descriptors so payloads embed an ID instead of
// repeating the class name and version on every object.
package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wwhitehead/reddwarf/pkg/store"
	"github.com/wwhitehead/reddwarf/pkg/types"
)

// Descriptor identifies a class by name and serial version, the two
// fields the spec says distinguish one class descriptor from another.
type Descriptor struct {
	Name    string
	Version int
}

func (d Descriptor) String() string {
	return d.Name + "@" + strconv.Itoa(d.Version)
}

func parseDescriptor(s string) (Descriptor, error) {
	name, versionStr, ok := strings.Cut(s, "@")
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: malformed class descriptor %q", types.ErrSerializationFormat, s)
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: malformed class descriptor %q", types.ErrSerializationFormat, s)
	}
	return Descriptor{Name: name, Version: version}, nil
}

// ClassID returns d's small integer ID under txn, assigning a new one
// on first encounter.
func ClassID(txn store.Txn, d Descriptor) (uint32, error) {
	return txn.RegisterClass(d.String())
}

// Lookup is the strict reverse of ClassID: an ID that is neither in the
// committed catalog nor pending in txn is a fatal serialization-format
// error, never a retryable one, since the catalog is an append-only shared cache, not
// a per-transaction guess.
func Lookup(txn store.Txn, id uint32) (Descriptor, error) {
	raw, err := txn.ClassDescriptor(id)
	if err != nil {
		return Descriptor{}, err
	}
	return parseDescriptor(raw)
}
