/*
Package ports defines the driven ports (interfaces) for the Lattice session store.

These interfaces decouple the session core (cache, id manager, scavenger) from
concrete persistence and membership technologies, allowing any backend to be
chosen at startup without runtime reflection.

# Key Interfaces

  - Store: per-record atomic persistence with optimistic versioning and lazy queries.
  - Membership: a view of which cluster nodes are currently alive.
*/
package ports
