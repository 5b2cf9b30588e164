package domain

import "slices"

// NodeSet is a snapshot of node identifiers.
type NodeSet map[string]struct{}

// NewNodeSet builds a set from ids.
func NewNodeSet(ids ...string) NodeSet {
	s := make(NodeSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports membership.
func (s NodeSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in lexical order.
func (s NodeSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Without returns the members of s that are absent from every set in others.
func (s NodeSet) Without(others ...NodeSet) NodeSet {
	out := make(NodeSet)
	for id := range s {
		keep := true
		for _, o := range others {
			if o.Contains(id) {
				keep = false
				break
			}
		}
		if keep {
			out[id] = struct{}{}
		}
	}
	return out
}
