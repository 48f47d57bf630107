package analyze

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cortexkg/cortex/engine/domain"
	"github.com/cortexkg/cortex/pkg/fn"
)

// branchSpreadThreshold splits multi-branch forks into parallel shapes
// (even branch strengths) versus choice points (uneven strengths).
const branchSpreadThreshold = 0.25

// bottleneckVariability is the variability above which a pattern's nodes
// count as workflow bottlenecks.
const bottleneckVariability = 0.5

// Analyzer is a stateless pass over one snapshot. Build a new one after
// every mutation; it tracks no deltas.
type Analyzer struct {
	nodes map[string]domain.Node
	// follows adjacency, source id -> outgoing follows edges.
	follows map[string][]domain.Relationship
	// followsIn counts incoming follows edges per node.
	followsIn map[string]int
	// partOf maps a workflow id to its step ids (nodes with a part_of
	// edge pointing at the workflow).
	partOf map[string][]string
}

// New builds an Analyzer from a snapshot.
func New(snap domain.Snapshot) *Analyzer {
	a := &Analyzer{
		nodes:     make(map[string]domain.Node, len(snap.Nodes)),
		follows:   make(map[string][]domain.Relationship),
		followsIn: make(map[string]int),
		partOf:    make(map[string][]string),
	}
	for _, n := range snap.Nodes {
		a.nodes[n.ID] = n
	}
	for _, r := range snap.Relationships {
		switch r.Type {
		case domain.RelFollows:
			a.follows[r.SourceID] = append(a.follows[r.SourceID], r)
			a.followsIn[r.TargetID]++
		case domain.RelPartOf:
			a.partOf[r.TargetID] = append(a.partOf[r.TargetID], r.SourceID)
		}
	}
	for id := range a.partOf {
		sort.Strings(a.partOf[id])
	}
	return a
}

// WorkflowSteps returns the sorted step ids of a workflow node (nodes
// linked to it via part_of).
func (a *Analyzer) WorkflowSteps(workflowID string) []string {
	return a.partOf[workflowID]
}

// StepFollows returns the follows edges whose endpoints both fall inside
// the given step set.
func (a *Analyzer) StepFollows(stepIDs []string) []domain.Relationship {
	in := make(map[string]bool, len(stepIDs))
	for _, id := range stepIDs {
		in[id] = true
	}
	var out []domain.Relationship
	for _, id := range stepIDs {
		for _, r := range a.follows[id] {
			if in[r.TargetID] {
				out = append(out, r)
			}
		}
	}
	return out
}

// AnalyzePatterns detects sequence chains, parallel branches, and choice
// points over the follows edges of the snapshot.
func (a *Analyzer) AnalyzePatterns() []Pattern {
	var patterns []Pattern
	patterns = append(patterns, a.sequencePatterns()...)
	patterns = append(patterns, a.forkPatterns()...)
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Type != patterns[j].Type {
			return patterns[i].Type < patterns[j].Type
		}
		return patterns[i].RelatedNodes[0] < patterns[j].RelatedNodes[0]
	})
	return patterns
}

// sequencePatterns finds maximal linear follows-chains of at least three
// nodes: every interior node has exactly one outgoing and one incoming
// follows edge.
func (a *Analyzer) sequencePatterns() []Pattern {
	var out []Pattern
	ids := a.sortedNodeIDs()
	for _, id := range ids {
		if !a.chainStart(id) {
			continue
		}
		chain := []string{id}
		var strengths []float64
		cur := id
		for {
			edges := a.follows[cur]
			if len(edges) != 1 {
				break
			}
			next := edges[0].TargetID
			if a.followsIn[next] != 1 {
				// Reconvergence point; the chain ends on its last
				// unambiguous hop.
				break
			}
			strengths = append(strengths, edges[0].Strength)
			chain = append(chain, next)
			cur = next
		}
		if len(chain) < 3 {
			continue
		}
		meanStrength := mean(strengths)
		p := Pattern{
			Type:         PatternSequence,
			Description:  fmt.Sprintf("sequential chain of %d steps from %s", len(chain), chain[0]),
			Confidence:   confidence(meanStrength, len(strengths)),
			Impact:       impact(meanStrength, len(chain)),
			Frequency:    len(strengths),
			RelatedNodes: chain,
		}
		a.attachTemporal(&p)
		out = append(out, p)
	}
	return out
}

// chainStart reports whether id can begin a maximal chain: it has exactly
// one outgoing follows edge and is not the unique continuation of some
// predecessor (no incoming, or a branching/merging predecessor side).
func (a *Analyzer) chainStart(id string) bool {
	if len(a.follows[id]) != 1 {
		return false
	}
	if a.followsIn[id] != 1 {
		return true
	}
	// Exactly one incoming edge: id starts a chain only when its
	// predecessor branches (the predecessor then belongs to a fork
	// pattern, not this chain).
	for _, edges := range a.follows {
		for _, r := range edges {
			if r.TargetID == id {
				return len(edges) > 1
			}
		}
	}
	return true
}

// forkPatterns classifies every node with two or more outgoing follows
// edges as a parallel branch (even strengths) or a choice point (uneven
// strengths).
func (a *Analyzer) forkPatterns() []Pattern {
	var out []Pattern
	for _, id := range a.sortedNodeIDs() {
		edges := a.follows[id]
		if len(edges) < 2 {
			continue
		}
		strengths := fn.Map(edges, func(r domain.Relationship) float64 { return r.Strength })
		related := []string{id}
		for _, r := range edges {
			related = append(related, r.TargetID)
		}
		sort.Strings(related[1:])

		spread := maxOf(strengths) - minOf(strengths)
		typ := PatternParallel
		desc := fmt.Sprintf("%d parallel branches from %s", len(edges), id)
		if spread > branchSpreadThreshold {
			typ = PatternChoice
			desc = fmt.Sprintf("choice point at %s with %d alternatives", id, len(edges))
		}
		p := Pattern{
			Type:         typ,
			Description:  desc,
			Confidence:   confidence(mean(strengths), len(edges)),
			Impact:       impact(mean(strengths), len(related)),
			Frequency:    len(edges),
			RelatedNodes: related,
		}
		a.attachTemporal(&p)
		out = append(out, p)
	}
	return out
}

// attachTemporal derives Temporal and Optimization from the estimated
// durations of the pattern's member nodes, when any carry one.
func (a *Analyzer) attachTemporal(p *Pattern) {
	var durations []float64
	var slow []string
	for _, id := range p.RelatedNodes {
		n, ok := a.nodes[id]
		if !ok || n.Content.Workflow == nil || n.Content.Workflow.EstimatedDuration <= 0 {
			continue
		}
		durations = append(durations, n.Content.Workflow.EstimatedDuration.Seconds())
	}
	if len(durations) == 0 {
		return
	}
	avg := mean(durations)
	variability := 0.0
	if len(durations) > 1 && avg > 0 {
		var ss float64
		for _, d := range durations {
			ss += (d - avg) * (d - avg)
		}
		variability = math.Sqrt(ss/float64(len(durations))) / avg
	}
	p.Temporal = &Temporal{
		AverageDuration: time.Duration(avg * float64(time.Second)),
		Variability:     variability,
	}
	if variability > 0 {
		for _, id := range p.RelatedNodes {
			n, ok := a.nodes[id]
			if ok && n.Content.Workflow != nil && n.Content.Workflow.EstimatedDuration.Seconds() > avg {
				slow = append(slow, id)
			}
		}
		p.Optimization = &Optimization{
			// Heuristic estimate, not a rigorous model: the share of
			// pattern time attributable to duration spread.
			PotentialGain: variability / (1 + variability),
			Prerequisites: slow,
		}
	}
}

// IsAcyclic reports whether the subgraph induced by the given node set and
// edge list contains no directed cycle. Every node is tried as a root, so
// disconnected components are covered. The walk uses an explicit stack;
// no recursion.
func IsAcyclic(ids []string, edges []domain.Relationship) bool {
	adj := make(map[string][]string, len(ids))
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	for _, r := range edges {
		if in[r.SourceID] && in[r.TargetID] {
			adj[r.SourceID] = append(adj[r.SourceID], r.TargetID)
		}
	}

	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(ids))

	type frame struct {
		id   string
		next int
	}
	for _, root := range ids {
		if color[root] != white {
			continue
		}
		stack := []frame{{id: root}}
		color[root] = gray
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			if f.next < len(adj[f.id]) {
				child := adj[f.id][f.next]
				f.next++
				switch color[child] {
				case gray:
					return false // back edge
				case white:
					color[child] = gray
					stack = append(stack, frame{id: child})
				}
				continue
			}
			color[f.id] = black
			stack = stack[:len(stack)-1]
		}
	}
	return true
}

// LongestPath returns the longest simple path (by node count) through the
// follows edges restricted to the given node set, or nil when the
// subgraph is cyclic. Cycles must be rejected first or the path search
// would never terminate, so the acyclic check is built in.
func LongestPath(ids []string, edges []domain.Relationship) []string {
	if !IsAcyclic(ids, edges) {
		return nil
	}
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	adj := make(map[string][]string)
	indeg := make(map[string]int)
	for _, r := range edges {
		if in[r.SourceID] && in[r.TargetID] {
			adj[r.SourceID] = append(adj[r.SourceID], r.TargetID)
			indeg[r.TargetID]++
		}
	}
	for id := range adj {
		sort.Strings(adj[id])
	}

	// Kahn topological order over the DAG, then a longest-path DP with
	// predecessor reconstruction.
	queue := make([]string, 0, len(ids))
	sorted := make([]string, 0, len(ids))
	for _, id := range sortedCopy(ids) {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	deg := make(map[string]int, len(indeg))
	for k, v := range indeg {
		deg[k] = v
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)
		for _, next := range adj[id] {
			deg[next]--
			if deg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	length := make(map[string]int, len(ids))
	prev := make(map[string]string, len(ids))
	for _, id := range sorted {
		if length[id] == 0 {
			length[id] = 1
		}
		for _, next := range adj[id] {
			if length[id]+1 > length[next] {
				length[next] = length[id] + 1
				prev[next] = id
			}
		}
	}
	best := ""
	for _, id := range sorted {
		if best == "" || length[id] > length[best] {
			best = id
		}
	}
	if best == "" {
		return nil
	}
	var path []string
	for id := best; ; {
		path = append([]string{id}, path...)
		p, ok := prev[id]
		if !ok {
			break
		}
		id = p
	}
	return path
}

// Bottlenecks returns the deduplicated node ids of patterns whose
// temporal variability exceeds the bottleneck threshold.
func Bottlenecks(patterns []Pattern) []string {
	var out []string
	for _, p := range patterns {
		if p.Temporal != nil && p.Temporal.Variability > bottleneckVariability {
			out = append(out, p.RelatedNodes...)
		}
	}
	return fn.Unique(out)
}

// WorkflowEfficiency is the mean impact over workflow-shaped patterns,
// or 0 when there are none.
func WorkflowEfficiency(patterns []Pattern) float64 {
	impacts := fn.FilterMap(patterns, func(p Pattern) (float64, bool) {
		switch p.Type {
		case PatternSequence, PatternParallel, PatternChoice:
			return p.Impact, true
		}
		return 0, false
	})
	if len(impacts) == 0 {
		return 0
	}
	return mean(impacts)
}

// Timeline aggregates pattern temporals into an optimal/actual estimate:
// optimal sums average durations, actual inflates each by (1+variability),
// and variance accumulates additively. A heuristic, kept for parity with
// how callers consume it, not a statistical model.
func Timeline(patterns []Pattern) (optimal, actual time.Duration, variance float64) {
	for _, p := range patterns {
		if p.Temporal == nil {
			continue
		}
		optimal += p.Temporal.AverageDuration
		actual += time.Duration(float64(p.Temporal.AverageDuration) * (1 + p.Temporal.Variability))
		variance += p.Temporal.Variability
	}
	return optimal, actual, variance
}

func (a *Analyzer) sortedNodeIDs() []string {
	ids := make([]string, 0, len(a.nodes))
	for id := range a.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedCopy(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}

// confidence derives a pattern confidence from mean edge strength and the
// number of supporting edges. Monotonic in strength: a stronger edge set
// never lowers confidence.
func confidence(meanStrength float64, edgeCount int) float64 {
	support := math.Min(1, float64(edgeCount)/4.0)
	return clamp01(meanStrength * (0.75 + 0.25*support))
}

// impact weighs mean strength by pattern size, saturating for large shapes.
func impact(meanStrength float64, size int) float64 {
	return clamp01(meanStrength * float64(size) / float64(size+2))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}
