package analyze

import (
	"testing"
	"time"

	"github.com/cortexkg/cortex/engine/domain"
)

func snapNode(id string, dur time.Duration) domain.Node {
	n := domain.Node{
		ID:      id,
		Type:    domain.NodeTask,
		Content: domain.Content{Title: id},
		Metadata: domain.Metadata{Confidence: 0.5},
	}
	if dur > 0 {
		n.Content.Workflow = &domain.WorkflowInfo{EstimatedDuration: dur}
	}
	return n
}

func follows(src, dst string, strength float64) domain.Relationship {
	return domain.Relationship{SourceID: src, TargetID: dst, Type: domain.RelFollows, Strength: strength}
}

func buildSnap(nodes []domain.Node, rels []domain.Relationship) domain.Snapshot {
	return domain.Snapshot{Nodes: nodes, Relationships: rels, TakenAt: time.Now()}
}

func TestSequencePatternDetection(t *testing.T) {
	snap := buildSnap(
		[]domain.Node{snapNode("s1", 0), snapNode("s2", 0), snapNode("s3", 0), snapNode("lone", 0)},
		[]domain.Relationship{follows("s1", "s2", 0.8), follows("s2", "s3", 0.8)},
	)
	patterns := New(snap).AnalyzePatterns()
	if len(patterns) != 1 {
		t.Fatalf("got %d patterns, want 1: %+v", len(patterns), patterns)
	}
	p := patterns[0]
	if p.Type != PatternSequence {
		t.Fatalf("type = %s, want sequence", p.Type)
	}
	want := []string{"s1", "s2", "s3"}
	if len(p.RelatedNodes) != 3 {
		t.Fatalf("related = %v", p.RelatedNodes)
	}
	for i, id := range want {
		if p.RelatedNodes[i] != id {
			t.Fatalf("related = %v, want %v", p.RelatedNodes, want)
		}
	}
	if p.Confidence <= 0 || p.Impact <= 0 {
		t.Errorf("scores: confidence=%v impact=%v", p.Confidence, p.Impact)
	}
}

func TestConfidenceMonotonicInStrength(t *testing.T) {
	build := func(strength float64) Pattern {
		snap := buildSnap(
			[]domain.Node{snapNode("a", 0), snapNode("b", 0), snapNode("c", 0)},
			[]domain.Relationship{follows("a", "b", strength), follows("b", "c", strength)},
		)
		return New(snap).AnalyzePatterns()[0]
	}
	weak, strong := build(0.3), build(0.9)
	if strong.Confidence < weak.Confidence {
		t.Errorf("confidence dropped with stronger edges: %v < %v", strong.Confidence, weak.Confidence)
	}
	if strong.Impact < weak.Impact {
		t.Errorf("impact dropped with stronger edges: %v < %v", strong.Impact, weak.Impact)
	}
}

func TestForkClassification(t *testing.T) {
	// Even strengths: parallel. Uneven: choice.
	snap := buildSnap(
		[]domain.Node{
			snapNode("fork", 0), snapNode("b1", 0), snapNode("b2", 0),
			snapNode("pick", 0), snapNode("c1", 0), snapNode("c2", 0),
		},
		[]domain.Relationship{
			follows("fork", "b1", 0.7), follows("fork", "b2", 0.7),
			follows("pick", "c1", 0.9), follows("pick", "c2", 0.2),
		},
	)
	patterns := New(snap).AnalyzePatterns()

	var parallel, choice *Pattern
	for i := range patterns {
		switch patterns[i].Type {
		case PatternParallel:
			parallel = &patterns[i]
		case PatternChoice:
			choice = &patterns[i]
		}
	}
	if parallel == nil || !parallel.Touches("fork") {
		t.Fatalf("no parallel pattern at fork: %+v", patterns)
	}
	if choice == nil || !choice.Touches("pick") {
		t.Fatalf("no choice pattern at pick: %+v", patterns)
	}
	if parallel.Frequency != 2 {
		t.Errorf("parallel frequency = %d, want 2", parallel.Frequency)
	}
}

func TestTemporalAndBottlenecks(t *testing.T) {
	// Wildly uneven durations push variability above the bottleneck bar.
	snap := buildSnap(
		[]domain.Node{
			snapNode("s1", 1*time.Minute),
			snapNode("s2", 30*time.Minute),
			snapNode("s3", 1*time.Minute),
		},
		[]domain.Relationship{follows("s1", "s2", 0.8), follows("s2", "s3", 0.8)},
	)
	patterns := New(snap).AnalyzePatterns()
	if len(patterns) != 1 || patterns[0].Temporal == nil {
		t.Fatalf("expected one pattern with temporal: %+v", patterns)
	}
	tp := patterns[0].Temporal
	if tp.Variability <= bottleneckVariability {
		t.Fatalf("variability = %v, expected above threshold", tp.Variability)
	}
	if patterns[0].Optimization == nil || len(patterns[0].Optimization.Prerequisites) == 0 {
		t.Fatal("expected optimization with slow-step prerequisites")
	}

	necks := Bottlenecks(patterns)
	if len(necks) != 3 {
		t.Fatalf("bottlenecks = %v", necks)
	}

	optimal, actual, variance := Timeline(patterns)
	if actual <= optimal {
		t.Errorf("actual %v should exceed optimal %v under variability", actual, optimal)
	}
	if variance <= 0 {
		t.Errorf("variance = %v", variance)
	}
}

func TestIsAcyclic(t *testing.T) {
	ids := []string{"a", "b", "c", "x", "y"}
	dag := []domain.Relationship{
		follows("a", "b", 1), follows("b", "c", 1),
		// Disconnected second component.
		follows("x", "y", 1),
	}
	if !IsAcyclic(ids, dag) {
		t.Fatal("DAG with disconnected components reported cyclic")
	}

	cyc := append(dag, follows("c", "a", 1))
	if IsAcyclic(ids, cyc) {
		t.Fatal("cycle not detected")
	}

	// Self-contained two-node cycle in a far component.
	twist := []domain.Relationship{follows("x", "y", 1), follows("y", "x", 1)}
	if IsAcyclic(ids, twist) {
		t.Fatal("two-node cycle not detected")
	}

	// Edges outside the node set are ignored.
	outside := []domain.Relationship{follows("q", "r", 1), follows("r", "q", 1)}
	if !IsAcyclic(ids, outside) {
		t.Fatal("edges outside the induced set must not count")
	}
}

func TestLongestPath(t *testing.T) {
	ids := []string{"s1", "s2", "s3", "side"}
	edges := []domain.Relationship{
		follows("s1", "s2", 1),
		follows("s2", "s3", 1),
		follows("s1", "side", 1),
	}
	got := LongestPath(ids, edges)
	want := []string{"s1", "s2", "s3"}
	if len(got) != len(want) {
		t.Fatalf("path = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("path = %v, want %v", got, want)
		}
	}

	// A cycle makes the search refuse to run.
	edges = append(edges, follows("s3", "s1", 1))
	if got := LongestPath(ids, edges); got != nil {
		t.Fatalf("cyclic input should return nil, got %v", got)
	}
}

func TestWorkflowStepsAndEfficiency(t *testing.T) {
	partOf := func(step, wf string) domain.Relationship {
		return domain.Relationship{SourceID: step, TargetID: wf, Type: domain.RelPartOf, Strength: 1}
	}
	wf := domain.Node{ID: "w1", Type: domain.NodeWorkflow, Metadata: domain.Metadata{Confidence: 0.5}}
	snap := buildSnap(
		[]domain.Node{wf, snapNode("s1", 0), snapNode("s2", 0), snapNode("s3", 0)},
		[]domain.Relationship{
			partOf("s1", "w1"), partOf("s2", "w1"), partOf("s3", "w1"),
			follows("s1", "s2", 0.8), follows("s2", "s3", 0.8),
		},
	)
	a := New(snap)
	steps := a.WorkflowSteps("w1")
	if len(steps) != 3 {
		t.Fatalf("steps = %v", steps)
	}
	sf := a.StepFollows(steps)
	if len(sf) != 2 {
		t.Fatalf("step follows = %d edges", len(sf))
	}

	patterns := a.AnalyzePatterns()
	if eff := WorkflowEfficiency(patterns); eff <= 0 {
		t.Errorf("efficiency = %v, want > 0", eff)
	}
	if eff := WorkflowEfficiency(nil); eff != 0 {
		t.Errorf("efficiency of no patterns = %v", eff)
	}
}
