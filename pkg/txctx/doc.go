/*
Package txctx implements the per-transaction Context (spec §4.3): the
component that turns a raw store.Txn into an object graph with identity,
dirty tracking, and modification detection.

# Object payload layout

Every stored payload begins with a 4-byte big-endian pkg/catalog class ID
followed by the msgpack-encoded (pkg/serial) object body. The class ID
lets Prepare/decode round-trip an object's concrete Go type without
repeating its name and version on every write.

# Identity

Managed objects must be non-nil pointers; pointer identity (not value
equality) is what Context.byIdentity indexes, matching spec §3's "two
references with the same object ID denote the same object" and "not
value-copied on read."

# Modification detection

When enabled, a clean entry's raw payload is kept at first resolve-for-
read. At Prepare, any clean entry is re-encoded and compared byte-for-
byte against that snapshot; a mismatch means the application mutated the
object without calling MarkForUpdate, and is treated as dirty (spec §4.3
Prepare step 1) while also incrementing metrics.SilentMutationsDetected
and publishing events.EventSilentMutation.
*/
package txctx
