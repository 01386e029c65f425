/*
Package serial is the raw byte codec beneath pkg/txctx's object
serialization step. It deliberately stays ignorant of class IDs, object
identity, and managed references — pkg/txctx composes those concerns on
top of plain Encode/Decode, the same separation the teacher draws between
its storage layer and the domain logic layered over it.

A Registry exists because msgpack (like gob, like JSON) cannot invent a
concrete Go type from bytes alone: the caller must supply the destination
value. pkg/txctx looks up the destination type by class descriptor
(pkg/catalog) before calling Decode.
*/
package serial
