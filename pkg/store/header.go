package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wwhitehead/reddwarf/pkg/types"
)

// headerBindingName returns the sentinel service-namespace binding name
// spec §6's "Persisted layout" reserves for the version header:
// "s.<service-class-name>.header".
func headerBindingName(appName string) string {
	return types.NamespaceService.Prefixed(appName + ".header")
}

// EnsureHeader implements spec §6's version-compatibility check. On a
// fresh database it writes the sentinel header binding recording
// (major, minor). On a database that already carries one, it compares
// major versions: a mismatch is ErrVersionIncompatible, since major
// bumps signal an incompatible on-disk layout. A stored minor greater
// than the running minor is accepted (an older binary opening a newer,
// backward-compatible database); a stored minor less than the running
// minor is rewritten forward, since newer code is expected to write
// whatever the new minor version adds.
func EnsureHeader(txn Txn, appName string, major, minor int) error {
	name := headerBindingName(appName)

	id, err := txn.GetBinding(name)
	if errors.Is(err, types.ErrNameNotBound) {
		return writeHeader(txn, name, major, minor)
	}
	if err != nil {
		return err
	}

	payload, err := txn.GetObject(id, false)
	if err != nil {
		return err
	}
	storedMajor, storedMinor, err := decodeHeader(payload)
	if err != nil {
		return err
	}

	if storedMajor != major {
		return fmt.Errorf("%w: on-disk header %d.%d, running version %d.%d",
			types.ErrVersionIncompatible, storedMajor, storedMinor, major, minor)
	}
	if storedMinor < minor {
		return overwriteHeader(txn, id, major, minor)
	}
	return nil
}

func writeHeader(txn Txn, name string, major, minor int) error {
	id, err := txn.AllocateID()
	if err != nil {
		return err
	}
	if err := txn.PutObject(id, encodeHeader(major, minor)); err != nil {
		return err
	}
	return txn.SetBinding(name, id)
}

func overwriteHeader(txn Txn, id types.ObjectID, major, minor int) error {
	return txn.PutObject(id, encodeHeader(major, minor))
}

func encodeHeader(major, minor int) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(major))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(minor))
	return buf
}

func decodeHeader(payload []byte) (major, minor int, err error) {
	if len(payload) != 8 {
		return 0, 0, fmt.Errorf("%w: header payload is %d bytes, want 8", types.ErrSerializationFormat, len(payload))
	}
	major = int(binary.LittleEndian.Uint32(payload[0:4]))
	minor = int(binary.LittleEndian.Uint32(payload[4:8]))
	return major, minor, nil
}
