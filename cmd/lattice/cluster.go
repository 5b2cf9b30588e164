package main

import (
	"context"
	"fmt"

	"github.com/aretw0/lattice/internal/presentation/graph"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/spf13/cobra"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Show which nodes own stored sessions",
	Long: `Lists every owner hint found in the store with its session count and
whether the node is currently live. Sessions of dead owners are reclaimed by
the scavenger once the grace period has passed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		owners, err := clusterOwners(cmd.Context(), a.store, a.membership, a.cfg.NodeID)
		if err != nil {
			return err
		}

		out := newOutput(cmd)
		if mermaid, _ := cmd.Flags().GetBool("mermaid"); mermaid {
			fmt.Fprint(out.w, graph.GenerateMermaid(owners, a.cfg.NodeID))
			return nil
		}
		if out.json {
			return out.encode(owners)
		}
		if len(owners) == 0 {
			out.note("No sessions found.")
			return nil
		}
		rows := make([][]string, 0, len(owners))
		for _, o := range owners {
			status := "dead"
			if o.Live {
				status = "live"
			}
			rows = append(rows, []string{o.NodeID, itoa(o.Sessions), status})
		}
		out.table([]string{"NODE", "SESSIONS", "STATUS"}, rows)
		return nil
	},
}

// clusterOwners counts sessions per owner hint. A membership failure is an
// error here: guessing liveness would misreport reclaimable sessions.
func clusterOwners(ctx context.Context, store ports.Store, membership ports.Membership, self string) ([]graph.Owner, error) {
	nodes, err := store.ListOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing owners: %w", err)
	}
	live := domain.NewNodeSet(self)
	if membership != nil {
		view, err := membership.ListLive(ctx)
		if err != nil {
			return nil, fmt.Errorf("error reading membership: %w", err)
		}
		for id := range view {
			live[id] = struct{}{}
		}
	}

	counts := make(map[string]int, len(nodes))
	for ref, err := range store.QueryOwnedBy(ctx, nodes) {
		if err != nil {
			return nil, fmt.Errorf("error listing sessions: %w", err)
		}
		counts[ref.LastNode]++
	}

	owners := make([]graph.Owner, 0, len(nodes))
	for _, id := range nodes {
		if counts[id] == 0 {
			continue
		}
		owners = append(owners, graph.Owner{NodeID: id, Sessions: counts[id], Live: live.Contains(id)})
	}
	return owners, nil
}

func init() {
	rootCmd.AddCommand(clusterCmd)
	clusterCmd.Flags().Bool("mermaid", false, "Print the ownership graph as a Mermaid flowchart")
}
