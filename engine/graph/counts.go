package graph

import "github.com/cortexkg/cortex/engine/domain"

// NodeCounts returns node counts grouped by type.
func (s *Store) NodeCounts() map[domain.NodeType]int {
	counts := make(map[domain.NodeType]int)
	for _, n := range s.nodes {
		counts[n.Type]++
	}
	return counts
}

// RelationshipCounts returns relationship counts grouped by type.
func (s *Store) RelationshipCounts() map[domain.RelType]int {
	counts := make(map[domain.RelType]int)
	for _, n := range s.nodes {
		for _, r := range n.Relationships {
			counts[r.Type]++
		}
	}
	return counts
}

// MeanConfidence returns the average confidence across all nodes, or 0 for
// an empty graph.
func (s *Store) MeanConfidence() float64 {
	if len(s.nodes) == 0 {
		return 0
	}
	var sum float64
	for _, n := range s.nodes {
		sum += n.Metadata.Confidence
	}
	return sum / float64(len(s.nodes))
}
