/*
Package lattice is a clustered session store: many nodes share one backing
store and keep HTTP-style sessions consistent without distributed locks.

Each node caches the sessions it is serving, commits changes with optimistic
per-record versioning, and runs a scavenger that deletes expired sessions and
reclaims the sessions of nodes that have left the cluster.

# Layout

  - pkg/domain: the persisted Record, RecordRef projections, NodeSet and error kinds.
  - pkg/ports: the Store and Membership contracts every backend implements.
  - pkg/adapters: memory, file and Redis backends plus the HTTP and MCP surfaces.
  - pkg/persistence/middleware: store decorators (encryption, PII masking, metrics).
  - pkg/session: the id manager, cache, scavenger and the Manager façade.
  - cmd/lattice: the node binary.

# Usage

Build a Manager over any ports.Store and drive sessions through handles.

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/lattice/pkg/adapters/memory"
		"github.com/aretw0/lattice/pkg/session"
	)

	func main() {
		ctx := context.Background()
		store := memory.NewStore()

		mgr, err := session.NewManager(store, memory.NewMembership("node-a"), session.DefaultConfig("node-a"))
		if err != nil {
			log.Fatal(err)
		}
		if err := mgr.Start(ctx); err != nil {
			log.Fatal(err)
		}
		defer mgr.Stop()

		// An empty candidate always creates a new session.
		id, h, err := mgr.GetOrCreate(ctx, "")
		if err != nil {
			log.Fatal(err)
		}
		h.Set("cart", []byte("3 items"))

		// Commit saves through the store; a concurrent writer yields *session.ConflictError.
		if err := mgr.Commit(ctx, h); err != nil {
			log.Fatal(err)
		}
		log.Println("session", id)
	}
*/
package lattice
