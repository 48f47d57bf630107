package graph

import (
	"errors"
	"testing"
	"time"

	"github.com/cortexkg/cortex/engine/domain"
)

func node(id string, typ domain.NodeType) domain.Node {
	return domain.Node{
		ID:      id,
		Type:    typ,
		Content: domain.Content{Title: id},
		Metadata: domain.Metadata{
			Confidence: 0.5,
			Tags:       []string{"seed"},
		},
	}
}

func mustAdd(t *testing.T, s *Store, nodes ...domain.Node) {
	t.Helper()
	for _, n := range nodes {
		if err := s.AddNode(n); err != nil {
			t.Fatalf("add %s: %v", n.ID, err)
		}
	}
}

func rel(src, dst string, typ domain.RelType, strength float64) domain.Relationship {
	return domain.Relationship{SourceID: src, TargetID: dst, Type: typ, Strength: strength}
}

func TestAddNodeDefaultsAndOverwrite(t *testing.T) {
	s := New()
	mustAdd(t, s, node("n1", domain.NodeConcept))

	got, err := s.GetNode("n1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata.Version != 1 {
		t.Errorf("version = %d, want 1", got.Metadata.Version)
	}
	if got.Metadata.Created.IsZero() || got.Metadata.Updated.IsZero() {
		t.Error("timestamps not stamped")
	}

	// Last write wins.
	n := node("n1", domain.NodeTask)
	n.Content.Title = "rewritten"
	mustAdd(t, s, n)
	got, _ = s.GetNode("n1")
	if got.Type != domain.NodeTask || got.Content.Title != "rewritten" {
		t.Errorf("overwrite did not replace node: %+v", got)
	}
}

func TestUpdateNodeShallowMerge(t *testing.T) {
	s := New()
	n := node("n1", domain.NodeConcept)
	n.Content.Description = "original description"
	mustAdd(t, s, n)

	newContent := domain.Content{Title: "new title"}
	got, err := s.UpdateNode("n1", domain.NodePatch{Content: &newContent})
	if err != nil {
		t.Fatal(err)
	}
	// Content replaced wholesale, not deep-merged.
	if got.Content.Description != "" {
		t.Errorf("expected description dropped by wholesale replace, got %q", got.Content.Description)
	}
	if got.Content.Title != "new title" {
		t.Errorf("title = %q", got.Content.Title)
	}
	// Metadata untouched.
	if got.Metadata.Confidence != 0.5 {
		t.Errorf("metadata should be preserved, confidence = %v", got.Metadata.Confidence)
	}

	if _, err := s.UpdateNode("ghost", domain.NodePatch{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("update missing node: got %v, want ErrNotFound", err)
	}
}

func TestUpdateNodeRejectsOutOfRangeMetadata(t *testing.T) {
	s := New()
	mustAdd(t, s, node("n1", domain.NodeConcept))

	cases := []domain.Metadata{
		{Confidence: 5},
		{Confidence: -0.1},
		{Importance: -3},
		{Reliability: 1.5},
	}
	for _, m := range cases {
		md := m
		if _, err := s.UpdateNode("n1", domain.NodePatch{Metadata: &md}); !errors.Is(err, domain.ErrScoreOutOfRange) {
			t.Errorf("metadata %+v: got %v, want ErrScoreOutOfRange", m, err)
		}
	}

	// Rejected patch must not leak into the store.
	got, _ := s.GetNode("n1")
	if got.Metadata.Confidence != 0.5 {
		t.Fatalf("stored confidence = %v after rejected patches", got.Metadata.Confidence)
	}

	// In-range metadata still replaces wholesale.
	ok := domain.Metadata{Confidence: 0.9, Importance: 0.4, Reliability: 1}
	got, err := s.UpdateNode("n1", domain.NodePatch{Metadata: &ok})
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata.Confidence != 0.9 || got.Metadata.Reliability != 1 {
		t.Fatalf("valid patch not applied: %+v", got.Metadata)
	}
}

func TestDeleteNodeLeavesDanglingEdges(t *testing.T) {
	s := New()
	mustAdd(t, s, node("a", domain.NodeConcept), node("b", domain.NodeTask))
	if err := s.AddRelationship(rel("a", "b", domain.RelImplements, 0.8)); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteNode("b"); err != nil {
		t.Fatal(err)
	}

	// a's edge to the deleted node survives; validation finds it later.
	a, _ := s.GetNode("a")
	if len(a.Relationships) != 1 {
		t.Fatalf("expected dangling edge kept, got %d relationships", len(a.Relationships))
	}

	if err := s.DeleteNode("ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("delete missing node: got %v", err)
	}
}

func TestAddRelationshipEndpointChecks(t *testing.T) {
	s := New()
	mustAdd(t, s, node("a", domain.NodeConcept))

	err := s.AddRelationship(rel("a", "missing", domain.RelRelated, 0.5))
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "target node" {
		t.Fatalf("want target-node NotFound, got %v", err)
	}

	err = s.AddRelationship(rel("missing", "a", domain.RelRelated, 0.5))
	if !errors.As(err, &nf) || nf.Kind != "source node" {
		t.Fatalf("want source-node NotFound, got %v", err)
	}
}

func TestUpdateRelationshipFirstMatchOnly(t *testing.T) {
	s := New()
	mustAdd(t, s, node("a", domain.NodeConcept), node("b", domain.NodeTask))
	if err := s.AddRelationship(rel("a", "b", domain.RelRelated, 0.2)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddRelationship(rel("a", "b", domain.RelDependsOn, 0.4)); err != nil {
		t.Fatal(err)
	}

	strength := 0.9
	got, err := s.UpdateRelationship("a", "b", domain.RelationshipPatch{Strength: &strength})
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != domain.RelRelated || got.Strength != 0.9 {
		t.Errorf("expected first edge updated, got %+v", got)
	}

	a, _ := s.GetNode("a")
	if a.Relationships[1].Strength != 0.4 {
		t.Errorf("second edge must be untouched, strength = %v", a.Relationships[1].Strength)
	}

	if _, err := s.UpdateRelationship("a", "ghost", domain.RelationshipPatch{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing pair: got %v", err)
	}
}

func TestDeleteRelationshipRemovesAllMatches(t *testing.T) {
	s := New()
	mustAdd(t, s, node("a", domain.NodeConcept), node("b", domain.NodeTask), node("c", domain.NodeTask))
	_ = s.AddRelationship(rel("a", "b", domain.RelRelated, 0.2))
	_ = s.AddRelationship(rel("a", "b", domain.RelDependsOn, 0.4))
	_ = s.AddRelationship(rel("a", "c", domain.RelRelated, 0.3))

	removed, err := s.DeleteRelationship("a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	a, _ := s.GetNode("a")
	if len(a.Relationships) != 1 || a.Relationships[0].TargetID != "c" {
		t.Errorf("surviving edges: %+v", a.Relationships)
	}
}

func TestQueryFilterPipeline(t *testing.T) {
	s := New()
	n1 := node("n1", domain.NodeConcept)
	n1.Metadata.Confidence = 0.9
	n1.Metadata.Tags = []string{"electrical", "charging"}
	n2 := node("n2", domain.NodeTask)
	n2.Metadata.Confidence = 0.3
	n3 := node("n3", domain.NodeConcept)
	n3.Metadata.Tags = []string{"electrical"}
	mustAdd(t, s, n1, n2, n3)

	got := s.Query(domain.QueryParams{Types: []domain.NodeType{domain.NodeConcept}})
	if len(got) != 2 {
		t.Fatalf("type filter: got %d nodes", len(got))
	}

	// Tags compose as all-of.
	got = s.Query(domain.QueryParams{Tags: []string{"electrical", "charging"}})
	if len(got) != 1 || got[0].ID != "n1" {
		t.Fatalf("tag filter: got %+v", got)
	}

	min := 0.5
	got = s.Query(domain.QueryParams{
		Types:         []domain.NodeType{domain.NodeConcept},
		MinConfidence: &min,
	})
	if len(got) != 1 || got[0].ID != "n1" {
		t.Fatalf("conjunctive filters: got %+v", got)
	}
}

func TestQueryWorkflowWindowAndPagination(t *testing.T) {
	s := New()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"w1", "w2", "w3"} {
		n := node(id, domain.NodeWorkflow)
		n.Content.Workflow = &domain.WorkflowInfo{
			TimeWindow: &domain.TimeWindow{
				Start: base.Add(time.Duration(i) * 24 * time.Hour),
				End:   base.Add(time.Duration(i)*24*time.Hour + 8*time.Hour),
			},
		}
		mustAdd(t, s, n)
	}

	window := domain.TimeWindow{Start: base, End: base.Add(26 * time.Hour)}
	got := s.Query(domain.QueryParams{Window: &window})
	if len(got) != 2 {
		t.Fatalf("window overlap: got %d nodes", len(got))
	}

	got = s.Query(domain.QueryParams{Offset: 1, Limit: 1})
	if len(got) != 1 || got[0].ID != "w2" {
		t.Fatalf("pagination: got %+v", got)
	}
	got = s.Query(domain.QueryParams{Offset: 99})
	if got != nil {
		t.Fatalf("offset past end: got %+v", got)
	}
}

func TestFindRelatedBidirectional(t *testing.T) {
	s := New()
	mustAdd(t, s, node("a", domain.NodeConcept), node("b", domain.NodeTask), node("c", domain.NodeTask))
	_ = s.AddRelationship(rel("a", "b", domain.RelImplements, 0.8))
	_ = s.AddRelationship(rel("c", "a", domain.RelDependsOn, 0.6))

	got, err := s.FindRelated("a", domain.QueryParams{})
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(got))
	for i, n := range got {
		ids[i] = n.ID
	}
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "c" {
		t.Fatalf("related to a: %v, want [b c]", ids)
	}

	// Directionality: b has no outgoing edge, but incoming still links it.
	got, _ = s.FindRelated("b", domain.QueryParams{})
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("related to b: %+v", got)
	}

	// With filters, the neighbor set is intersected with the query result.
	got, err = s.FindRelated("a", domain.QueryParams{Types: []domain.NodeType{domain.NodeTask}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("filtered neighbors: got %d, want 2", len(got))
	}
	got, _ = s.FindRelated("a", domain.QueryParams{Types: []domain.NodeType{domain.NodeWorkflow}})
	if len(got) != 0 {
		t.Fatalf("filter excluding all neighbors: got %+v", got)
	}

	if _, err := s.FindRelated("ghost", domain.QueryParams{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing center node: got %v", err)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := New()
	mustAdd(t, s, node("a", domain.NodeConcept), node("b", domain.NodeTask))
	_ = s.AddRelationship(rel("a", "b", domain.RelFollows, 0.7))

	snap := s.Snapshot()
	if len(snap.Nodes) != 2 || len(snap.Relationships) != 1 {
		t.Fatalf("snapshot shape: %d nodes, %d rels", len(snap.Nodes), len(snap.Relationships))
	}

	restored := New()
	if err := restored.Restore(snap); err != nil {
		t.Fatal(err)
	}
	a, err := restored.GetNode("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Relationships) != 1 || a.Relationships[0].TargetID != "b" {
		t.Fatalf("restored relationships: %+v", a.Relationships)
	}
}

func TestCounts(t *testing.T) {
	s := New()
	mustAdd(t, s, node("a", domain.NodeConcept), node("b", domain.NodeTask), node("c", domain.NodeTask))
	_ = s.AddRelationship(rel("a", "b", domain.RelRelated, 0.5))
	_ = s.AddRelationship(rel("b", "c", domain.RelFollows, 0.5))

	nc := s.NodeCounts()
	if nc[domain.NodeTask] != 2 || nc[domain.NodeConcept] != 1 {
		t.Errorf("node counts: %v", nc)
	}
	rc := s.RelationshipCounts()
	if rc[domain.RelRelated] != 1 || rc[domain.RelFollows] != 1 {
		t.Errorf("relationship counts: %v", rc)
	}
	if mc := s.MeanConfidence(); mc != 0.5 {
		t.Errorf("mean confidence = %v", mc)
	}
}
