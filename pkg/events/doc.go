/*
Package events provides an in-memory broker for transaction-lifecycle
notifications.

The coordinator publishes one event per state transition and per
transaction outcome; pkg/txctx's Context publishes one event at prepare
when modification detection catches an object mutated without
mark_for_update. Nothing in
the data service depends on subscribers existing — Publish never blocks
and a full subscriber buffer silently drops the event — so the broker is
an observability side channel, not part of the commit path.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  Publisher → Event Channel (buffer: 256)                 │
	│       │                                                    │
	│       ▼                                                    │
	│  Broadcast Loop                                            │
	│       │                                                    │
	│       ▼                                                    │
	│  Subscriber Channels (buffer: 64 each)                    │
	│                                                            │
	│  Event Types:                                              │
	│    transaction.started                                     │
	│    transaction.committed                                   │
	│    transaction.aborted                                     │
	│    transaction.retried                                     │
	│    object.silent_mutation                                  │
	│    service.state_changed                                   │
	└────────────────────────────────────────────────────────────┘

# Core Components

Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel

Event:
  - ID: caller-assigned identifier (e.g. transaction ID)
  - Type: one of the EventType constants
  - Timestamp: when the event occurred, filled in by Publish if zero
  - Message: human-readable description
  - Metadata: key-value pairs, e.g. "txn_id", "error_kind", "attempt"

Subscriber:
  - Channel that receives Event pointers
  - Buffered (64 events) to absorb bursts
  - Created via broker.Subscribe(), closed via broker.Unsubscribe()

# Usage

Creating and starting a broker:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Subscribing:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			log.Printf("%s: %s", event.Type, event.Message)
		}
	}()

Publishing:

	broker.Publish(&events.Event{
		Type:    events.EventTransactionAborted,
		Message: "prepare raised a conflict",
		Metadata: map[string]string{
			"txn_id":     txnID,
			"error_kind": "retryable",
		},
	})

# Integration Points

This package is used by:

  - pkg/coordinator: publishes transaction.started/committed/aborted/retried
    and service.state_changed on every lifecycle transition; a Shutdown
    caller can subscribe and wait for a terminal service.state_changed
    event instead of polling.
  - pkg/txctx: the Context publishes object.silent_mutation when
    modification detection at prepare finds an object changed outside
    mark_for_update.
  - tests: subscribe to assert retry counts, abort reasons, and drain
    ordering without reaching into coordinator internals.

# Limitations

In-memory only, no persistence, no replay, no delivery guarantee. A
slow or absent subscriber never affects a transaction's outcome — that
is the point: this package observes the data service, it does not
participate in it.
*/
package events
