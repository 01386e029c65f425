/*
Package ref implements ManagedReference (spec §4.4). A Reference owns no
object bytes, only an ID plus a weak, lazily-bound back-reference to the
context that produced it:

  - References minted by Context.CreateReference (and by dataservice's
    ReferenceForID) are bound immediately.
  - References reached by decoding a stored object's payload come back
    with a nil resolver; pkg/txctx walks the freshly-decoded object graph
    and calls BindResolver on every Reference field it finds before
    handing the object to the caller.
  - Dereferencing an unbound reference (outside any active transaction)
    fails with ErrTransactionNotActive, per spec §4.4.

Only the ObjectID field is exported, so any struct codec that serializes
exported fields only (the convention this module's codecs follow) writes
just the ID — no custom Marshal/Selfer implementation is needed for this
invariant to hold.
*/
package ref
