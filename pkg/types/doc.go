/*
Package types defines the core data structures shared across the data
service: object identifiers, the public error taxonomy, and the two
name-binding namespaces.

# Architecture

	┌──────────────────── TYPES ────────────────────────┐
	│                                                     │
	│  ObjectID        — 64-bit durable object identity  │
	│  Namespace       — "a." (application) / "s."       │
	│  Error taxonomy  — retryable / caller / lifecycle   │
	│                    / data-absent / fatal            │
	│                                                     │
	└─────────────────────────────────────────────────────┘

# Error taxonomy

Every error the service can return is one of a fixed set of sentinel
values wrapped with context via %w. Callers distinguish kinds with
errors.Is against the sentinels in this package, or with the
ErrorKind helper which classifies any error returned by this module.

# Integration points

  - pkg/store: returns these errors for lock/lookup/lifecycle failures.
  - pkg/coordinator: inspects ErrorKind to decide whether to retry.
  - pkg/dataservice: maps internal store errors to these public errors.
*/
package types
