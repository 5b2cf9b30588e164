/*
Package session implements clustered session management on top of a pluggable store.

It lets many independent processes share session state: each node keeps a
reference-counted in-memory working set (Cache) backed by a ports.Store,
generates collision-free ids (IDManager), recognises sessions whose owning node
has died (Ownership) and runs a jittered background sweep that purges expired
records and re-adopts orphans (Scavenger). Manager composes them into the
request-facing façade.

Cross-node consistency relies solely on the store's per-record optimistic
versioning; no distributed lock is taken on the request path.

Timestamps are wall-clock UTC. Orphan reclamation and expiry assume that clock
skew between nodes stays well below the orphan grace period and the
inactivity interval.
*/
package session
