/*
Package health tracks process-level health for the data service: the
coordinator's lifecycle state and the store's open/closed status.

It replaces per-container HTTP/TCP/exec health probing with a single
Registry of named Checkers, each polled on demand and rendered as one
JSON document. This is an ambient ops surface, not a spec operation —
it exists so an operator or orchestrator can ask "is this process
healthy" without opening a transaction.

# Usage

	reg := health.NewRegistry()
	reg.Register("coordinator", health.NewLifecycleChecker(coord.State))
	reg.Register("store", health.NewOpenChecker(store.IsOpen))

	http.Handle("/healthz", reg.Handler())

# Integration Points

  - cmd/darkstar: the serve subcommand registers a lifecycle checker
    over the coordinator's state machine
    (Uninitialized/Running/ShuttingDown/Shutdown) and an open/closed
    checker over the store's IsOpen, and wires the registry's Handler
    into its debug HTTP mux alongside pprof and metrics.
*/
package health
