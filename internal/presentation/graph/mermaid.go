package graph

import (
	"fmt"
	"strings"
)

// Owner summarizes one owner hint found in the store.
type Owner struct {
	NodeID   string `json:"nodeId"`
	Sessions int    `json:"sessions"`
	Live     bool   `json:"live"`
}

// GenerateMermaid produces a Mermaid flowchart of session ownership.
// Every owner points at the shared store, labelled with its session count.
// It applies semantic styling:
// - Live owner: [Rectangle]
// - Dead owner: [/Parallelogram/] (its sessions are reclaimable)
// - Self: highlighted with the current class
func GenerateMermaid(owners []Owner, self string) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")
	sb.WriteString("    store[(\"session store\")]\n")

	for _, o := range owners {
		safeID := "node_" + sanitizeMermaidID(o.NodeID)

		opener, closer := "[", "]"
		if !o.Live {
			opener, closer = "[/", "/]"
		}
		name := strings.ReplaceAll(o.NodeID, "\"", "'")
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, name, closer)

		arrow := "-->"
		if !o.Live {
			arrow = "-.->"
		}
		fmt.Fprintf(&sb, "    %s %s|%d| store\n", safeID, arrow, o.Sessions)
	}

	sb.WriteString("\n    %% Ownership Styles\n")
	// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
	sb.WriteString("    classDef dead fill:#ffebee,stroke:#b71c1c,stroke-dasharray:4,color:#000;\n")
	sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
	for _, o := range owners {
		safeID := "node_" + sanitizeMermaidID(o.NodeID)
		switch {
		case o.NodeID == self:
			fmt.Fprintf(&sb, "    class %s current;\n", safeID)
		case !o.Live:
			fmt.Fprintf(&sb, "    class %s dead;\n", safeID)
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, id)
}
