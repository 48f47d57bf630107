package domain

import (
	"errors"
	"testing"
	"time"
)

func validNode() Node {
	return Node{
		ID:   "n1",
		Type: NodeConcept,
		Content: Content{Title: "Alternator charging"},
		Metadata: Metadata{
			Created:    time.Now(),
			Updated:    time.Now(),
			Version:    1,
			Confidence: 0.7,
		},
	}
}

func TestValidateNode(t *testing.T) {
	if err := ValidateNode(validNode()); err != nil {
		t.Fatalf("valid node rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Node)
		want   error
	}{
		{"missing id", func(n *Node) { n.ID = "" }, ErrMissingID},
		{"bad type", func(n *Node) { n.Type = "blob" }, ErrUnknownNodeType},
		{"confidence high", func(n *Node) { n.Metadata.Confidence = 1.5 }, ErrScoreOutOfRange},
		{"confidence negative", func(n *Node) { n.Metadata.Confidence = -0.1 }, ErrScoreOutOfRange},
		{"importance high", func(n *Node) { n.Metadata.Importance = 2 }, ErrScoreOutOfRange},
		{"bad embedded relationship", func(n *Node) {
			n.Relationships = []Relationship{{SourceID: "n1", TargetID: "n2", Type: "bogus"}}
		}, ErrUnknownRelType},
	}
	for _, tt := range tests {
		n := validNode()
		tt.mutate(&n)
		err := ValidateNode(n)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestValidateRelationship(t *testing.T) {
	ok := Relationship{SourceID: "a", TargetID: "b", Type: RelFollows, Strength: 0.8}
	if err := ValidateRelationship(ok); err != nil {
		t.Fatalf("valid relationship rejected: %v", err)
	}

	tests := []struct {
		name string
		rel  Relationship
		want error
	}{
		{"no source", Relationship{TargetID: "b", Type: RelRelated}, ErrMissingID},
		{"no target", Relationship{SourceID: "a", Type: RelRelated}, ErrMissingID},
		{"self edge", Relationship{SourceID: "a", TargetID: "a", Type: RelRelated}, ErrSelfRelationship},
		{"bad type", Relationship{SourceID: "a", TargetID: "b", Type: "near"}, ErrUnknownRelType},
		{"strength out of range", Relationship{SourceID: "a", TargetID: "b", Type: RelRelated, Strength: 1.2}, ErrScoreOutOfRange},
	}
	for _, tt := range tests {
		if err := ValidateRelationship(tt.rel); !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestNotFoundErrorUnwrap(t *testing.T) {
	err := NewSourceNotFound("x9")
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("NotFoundError should unwrap to ErrNotFound")
	}
	if got := err.Error(); got != "source node not found: x9" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestTimeWindowOverlaps(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := TimeWindow{Start: base, End: base.Add(2 * time.Hour)}
	tests := []struct {
		name string
		b    TimeWindow
		want bool
	}{
		{"inside", TimeWindow{Start: base.Add(30 * time.Minute), End: base.Add(time.Hour)}, true},
		{"touching end", TimeWindow{Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour)}, true},
		{"disjoint after", TimeWindow{Start: base.Add(3 * time.Hour), End: base.Add(4 * time.Hour)}, false},
		{"disjoint before", TimeWindow{Start: base.Add(-2 * time.Hour), End: base.Add(-time.Hour)}, false},
	}
	for _, tt := range tests {
		if got := a.Overlaps(tt.b); got != tt.want {
			t.Errorf("%s: Overlaps = %v, want %v", tt.name, got, tt.want)
		}
	}
}
