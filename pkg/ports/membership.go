package ports

import (
	"context"

	"github.com/aretw0/lattice/pkg/domain"
)

// Membership provides the cluster view consumed by orphan detection.
type Membership interface {
	// ListLive returns the ids of the nodes currently considered alive.
	ListLive(ctx context.Context) (domain.NodeSet, error)
}
