/*
Package coordinator is the transaction coordinator (spec §4.6): the
process-wide singleton that owns the service lifecycle state machine
(Uninitialized -> Running -> ShuttingDown -> Shutdown), joins context-
bound operations to a per-transaction Context, drives two-phase commit
across registered participants in registration order, and retries
application tasks that abort with a retryable cause.

RunTask is the retry envelope spec §9 describes: begin a transaction,
join it (creating its Context and registering it as the first
participant), run the caller's task against the resulting
dataservice.Service, then prepare and commit every participant in
order. A retryable abort re-runs the whole attempt with a fresh
transaction, governed by Options.RetryBudget and Options.MaxAttempts;
exhaustion surfaces as types.ErrTransactionAborted.

RegisterParticipant extends a transaction already joined via RunTask
with an external participant — another subsystem's own prepare/commit/
abort capability set, per §9's "cross-service participants" note. This
repository has no sibling services to register, so in practice every
transaction has exactly one participant (the store-backed Context);
the extension point exists because 2PC ordering only makes sense
modeled over an abstract participant list, not a single hardcoded one.
*/
package coordinator
