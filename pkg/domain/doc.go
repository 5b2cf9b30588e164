/*
Package domain contains the core session models shared by every Lattice component.

It defines the persisted session record, the projections returned by store
queries, the cluster membership snapshot and the error kinds that flow across
package boundaries. This package is kept pure and free of I/O, following
Hexagonal Architecture principles: stores, caches and the scavenger all speak
in these types.

# Key Entities

  - Record: the unit of persisted session state (attributes, timestamps, owner hint, version).
  - RecordRef: the lightweight projection yielded by expiry and ownership queries.
  - NodeSet: a snapshot of live node identifiers.
*/
package domain
