/*
Package dataservice is the operation surface applications and service
code call within a transaction (spec §4.5): GetBinding/SetBinding/
RemoveBinding/NextBoundName address the application (a.) namespace;
ServiceInternal builds the same surface over the s. namespace used for
the version header and other service-owned root objects.

GetBinding and GetBindingForUpdate are free functions, not methods,
because Go forbids type parameters on methods; callers write
dataservice.GetBinding[*Player](svc, "hero") rather than
svc.GetBinding[*Player]("hero").

Binding operations go straight to the underlying store.Txn: unlike
object resolution, name bindings are not cached or dirty-tracked by
txctx.Context, so there is nothing for Service to buffer.
*/
package dataservice
