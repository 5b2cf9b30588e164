/*
Package observability provides Prometheus instrumentation for the Lattice session store.

It exposes a single Metrics collector set covering the session cache (hits,
misses, passivations, commit conflicts), the scavenger (sweeps, deletions,
reclamations, sweep latency) and store operations (latency by operation and
outcome). All methods are safe to call on a nil *Metrics, so components run
uninstrumented unless a collector is injected.
*/
package observability
