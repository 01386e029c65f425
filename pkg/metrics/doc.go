/*
Package metrics provides Prometheus metrics for the data service.

It instruments the transaction lifecycle (start/commit/abort/retry), the
store's lock manager (waits, deadlocks detected), and the classes catalog,
following the teacher's pattern of package-level prometheus vars registered
in an init() plus the Timer/ObserveDuration helper for latency histograms.
*/
package metrics
