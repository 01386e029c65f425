/*
Package catalog is a thin, typed facade over the store's classes
catalog. All durability and transactional semantics — new IDs surviving
rollback iff the enclosing transaction commits — live in pkg/store's
BoltTxn.RegisterClass/ClassDescriptor; this package only knows how to
turn a (name, version) pair into the descriptor string the store treats
as an opaque key, and back.

# Usage

	id, err := catalog.ClassID(txn, catalog.Descriptor{Name: "Player", Version: 1})
	...
	d, err := catalog.Lookup(txn, id)
*/
package catalog
