package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/lattice/internal/presentation/graph"
	"github.com/stretchr/testify/assert"
)

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		owners   []graph.Owner
		self     string
		contains []string
		excludes []string
	}{
		{
			name:   "Live Owner Shape",
			owners: []graph.Owner{{NodeID: "node-a", Sessions: 3, Live: true}},
			contains: []string{
				"node_node_a[\"node-a\"]",
				"node_node_a -->|3| store",
			},
			excludes: []string{"class node_node_a dead;"},
		},
		{
			name:   "Dead Owner Shape",
			owners: []graph.Owner{{NodeID: "node-b", Sessions: 1}},
			contains: []string{
				"node_node_b[/\"node-b\"/]",
				"node_node_b -.->|1| store",
				"class node_node_b dead;",
			},
		},
		{
			name: "Self Highlighted",
			owners: []graph.Owner{
				{NodeID: "node-a", Sessions: 2, Live: true},
				{NodeID: "node-b", Sessions: 5, Live: true},
			},
			self:     "node-b",
			contains: []string{"class node_node_b current;"},
			excludes: []string{"class node_node_a current;"},
		},
		{
			name:     "Sanitizes Identifiers",
			owners:   []graph.Owner{{NodeID: "10.0.0.1:8080", Sessions: 0, Live: true}},
			contains: []string{"node_10_0_0_1_8080[\"10.0.0.1:8080\"]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(tt.owners, tt.self)
			assert.True(t, strings.HasPrefix(got, "graph LR\n"))
			assert.Contains(t, got, "store[(\"session store\")]")
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
			for _, not := range tt.excludes {
				assert.NotContains(t, got, not)
			}
		})
	}
}
