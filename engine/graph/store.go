// Package graph owns the in-memory node/relationship store. It is the
// single authority over graph state; analysis reads point-in-time
// snapshots and never mutates.
//
// The store itself is not safe for concurrent use. The knowledge service
// serializes mutations together with the analyzer rebuild so analysis
// always sees a consistent view.
package graph

import (
	"fmt"
	"sort"
	"time"

	"github.com/cortexkg/cortex/engine/domain"
)

// Store is the id-keyed node map. Relationships live only in their source
// node's list; the graph is a directed multigraph (parallel edges of
// different types between the same pair are allowed, and duplicates are
// the caller's responsibility).
type Store struct {
	nodes map[string]*domain.Node
	now   func() time.Time // for testing
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		nodes: make(map[string]*domain.Node),
		now:   time.Now,
	}
}

// Len returns the number of nodes.
func (s *Store) Len() int { return len(s.nodes) }

// AddNode validates and inserts a node, overwriting any node with the same
// id (last write wins). Relationships already pointing at this id stay
// valid. Zero Created/Updated stamps and Version are filled in.
func (s *Store) AddNode(n domain.Node) error {
	if err := domain.ValidateNode(n); err != nil {
		return fmt.Errorf("graph: add node: %w", err)
	}
	for _, r := range n.Relationships {
		if r.SourceID != n.ID {
			return fmt.Errorf("graph: add node %s: relationship source %s does not match node", n.ID, r.SourceID)
		}
	}
	now := s.now()
	if n.Metadata.Created.IsZero() {
		n.Metadata.Created = now
	}
	if n.Metadata.Updated.IsZero() {
		n.Metadata.Updated = now
	}
	if n.Metadata.Version == 0 {
		n.Metadata.Version = 1
	}
	clone := n.Clone()
	s.nodes[n.ID] = &clone
	return nil
}

// GetNode returns a copy of the node, or NotFound.
func (s *Store) GetNode(id string) (domain.Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return domain.Node{}, domain.NewNodeNotFound(id)
	}
	return n.Clone(), nil
}

// UpdateNode shallow-merges the patch over the existing node: fields set
// on the patch replace the stored value wholesale, absent fields are
// preserved. There is deliberately no deep merge of Content or Metadata.
func (s *Store) UpdateNode(id string, patch domain.NodePatch) (domain.Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return domain.Node{}, domain.NewNodeNotFound(id)
	}
	if patch.Type != nil {
		if !domain.ValidNodeTypes[*patch.Type] {
			return domain.Node{}, fmt.Errorf("graph: update node %s: %w",
				id, domain.NewValidationError("type", string(*patch.Type), domain.ErrUnknownNodeType))
		}
		n.Type = *patch.Type
	}
	if patch.Content != nil {
		n.Content = *patch.Content
	}
	if patch.Metadata != nil {
		if err := domain.ValidateMetadata(*patch.Metadata); err != nil {
			return domain.Node{}, fmt.Errorf("graph: update node %s: %w", id, err)
		}
		n.Metadata = *patch.Metadata
	}
	return n.Clone(), nil
}

// DeleteNode removes the node from the map. Other nodes' relationship
// lists are NOT scanned for dangling references to the deleted id; that
// gap is surfaced by graph validation, not here.
func (s *Store) DeleteNode(id string) error {
	if _, ok := s.nodes[id]; !ok {
		return domain.NewNodeNotFound(id)
	}
	delete(s.nodes, id)
	return nil
}

// AddRelationship appends the edge to the source node's list. Both
// endpoints must exist at insert time; nothing re-checks them afterwards.
func (s *Store) AddRelationship(rel domain.Relationship) error {
	if err := domain.ValidateRelationship(rel); err != nil {
		return fmt.Errorf("graph: add relationship: %w", err)
	}
	src, ok := s.nodes[rel.SourceID]
	if !ok {
		return domain.NewSourceNotFound(rel.SourceID)
	}
	if _, ok := s.nodes[rel.TargetID]; !ok {
		return domain.NewTargetNotFound(rel.TargetID)
	}
	now := s.now()
	if rel.Created.IsZero() {
		rel.Created = now
	}
	rel.Updated = now
	src.Relationships = append(src.Relationships, rel)
	return nil
}

// UpdateRelationship patches the FIRST relationship matching the
// (source, target) pair in insertion order. When several edges of
// different types exist between the same pair only the first is touched;
// see DESIGN.md for the policy discussion.
func (s *Store) UpdateRelationship(sourceID, targetID string, patch domain.RelationshipPatch) (domain.Relationship, error) {
	src, ok := s.nodes[sourceID]
	if !ok {
		return domain.Relationship{}, domain.NewSourceNotFound(sourceID)
	}
	for i := range src.Relationships {
		r := &src.Relationships[i]
		if r.TargetID != targetID {
			continue
		}
		if patch.Type != nil {
			if !domain.ValidRelTypes[*patch.Type] {
				return domain.Relationship{}, fmt.Errorf("graph: update relationship: %w",
					domain.NewValidationError("type", string(*patch.Type), domain.ErrUnknownRelType))
			}
			r.Type = *patch.Type
		}
		if patch.Strength != nil {
			if *patch.Strength < 0 || *patch.Strength > 1 {
				return domain.Relationship{}, fmt.Errorf("graph: update relationship: %w",
					domain.NewValidationError("strength", fmt.Sprintf("%g", *patch.Strength), domain.ErrScoreOutOfRange))
			}
			r.Strength = *patch.Strength
		}
		if patch.Metadata != nil {
			r.Metadata = patch.Metadata
		}
		r.Updated = s.now()
		return *r, nil
	}
	return domain.Relationship{}, &domain.NotFoundError{Kind: "relationship", ID: sourceID + "->" + targetID}
}

// DeleteRelationship removes ALL relationships between the pair regardless
// of type (asymmetric with UpdateRelationship's first-match semantics by
// design; see DESIGN.md). Returns the number removed.
func (s *Store) DeleteRelationship(sourceID, targetID string) (int, error) {
	src, ok := s.nodes[sourceID]
	if !ok {
		return 0, domain.NewSourceNotFound(sourceID)
	}
	kept := src.Relationships[:0]
	removed := 0
	for _, r := range src.Relationships {
		if r.TargetID == targetID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	src.Relationships = kept
	return removed, nil
}

// Query runs the conjunctive filter pipeline over all nodes, then applies
// offset/limit pagination. Results are ordered by node id for stable
// pagination across calls.
func (s *Store) Query(params domain.QueryParams) []domain.Node {
	var out []domain.Node
	for _, n := range s.nodes {
		if matches(n, params) {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if params.Offset > 0 {
		if params.Offset >= len(out) {
			return nil
		}
		out = out[params.Offset:]
	}
	if params.Limit > 0 && params.Limit < len(out) {
		out = out[:params.Limit]
	}
	return out
}

func matches(n *domain.Node, p domain.QueryParams) bool {
	if len(p.Types) > 0 {
		found := false
		for _, t := range p.Types {
			if n.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(p.Tags) > 0 {
		have := make(map[string]bool, len(n.Metadata.Tags))
		for _, tag := range n.Metadata.Tags {
			have[tag] = true
		}
		for _, tag := range p.Tags {
			if !have[tag] {
				return false
			}
		}
	}
	if p.MinConfidence != nil && n.Metadata.Confidence < *p.MinConfidence {
		return false
	}
	if p.MaxConfidence != nil && n.Metadata.Confidence > *p.MaxConfidence {
		return false
	}
	if p.UpdatedAfter != nil && n.Metadata.Updated.Before(*p.UpdatedAfter) {
		return false
	}
	if p.UpdatedBefore != nil && n.Metadata.Updated.After(*p.UpdatedBefore) {
		return false
	}
	if p.RelType != nil {
		found := false
		for _, r := range n.Relationships {
			if r.Type == *p.RelType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if p.Window != nil {
		wf := n.Content.Workflow
		if wf == nil || wf.TimeWindow == nil {
			return false
		}
		if !wf.TimeWindow.Overlaps(*p.Window) {
			return false
		}
	}
	return true
}

// FindRelated collects every node referenced by the given node's
// relationships in either direction (as source or target), excluding the
// node itself. When params carry filters, the neighbor set is intersected
// with the query result (resolved design question; see DESIGN.md).
func (s *Store) FindRelated(id string, params domain.QueryParams) ([]domain.Node, error) {
	center, ok := s.nodes[id]
	if !ok {
		return nil, domain.NewNodeNotFound(id)
	}

	related := make(map[string]bool)
	for _, r := range center.Relationships {
		if r.TargetID != id {
			related[r.TargetID] = true
		}
	}
	for _, n := range s.nodes {
		if n.ID == id {
			continue
		}
		for _, r := range n.Relationships {
			if r.TargetID == id {
				related[n.ID] = true
				break
			}
		}
	}

	if !params.IsZero() {
		var out []domain.Node
		for _, n := range s.Query(params) {
			if related[n.ID] {
				out = append(out, n)
			}
		}
		return out, nil
	}

	var out []domain.Node
	for rid := range related {
		if n, ok := s.nodes[rid]; ok {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Snapshot returns a consistent copy of the whole graph: every node plus
// the flattened relationship list. This is the sole persistence boundary
// and the input handed to the analyzer.
func (s *Store) Snapshot() domain.Snapshot {
	snap := domain.Snapshot{TakenAt: s.now()}
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		n := s.nodes[id].Clone()
		snap.Nodes = append(snap.Nodes, n)
		snap.Relationships = append(snap.Relationships, n.Relationships...)
	}
	return snap
}

// Restore replaces the store contents with the snapshot. Relationships are
// re-attached to their source nodes; edges whose source node is missing
// from the snapshot are dropped.
func (s *Store) Restore(snap domain.Snapshot) error {
	nodes := make(map[string]*domain.Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		if err := domain.ValidateNode(n); err != nil {
			return fmt.Errorf("graph: restore: node %s: %w", n.ID, err)
		}
		clone := n.Clone()
		clone.Relationships = nil
		nodes[n.ID] = &clone
	}
	for _, r := range snap.Relationships {
		if err := domain.ValidateRelationship(r); err != nil {
			return fmt.Errorf("graph: restore: relationship %s->%s: %w", r.SourceID, r.TargetID, err)
		}
		src, ok := nodes[r.SourceID]
		if !ok {
			continue
		}
		src.Relationships = append(src.Relationships, r)
	}
	s.nodes = nodes
	return nil
}
