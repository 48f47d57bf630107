package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cortexkg/cortex/engine/analyze"
	"github.com/cortexkg/cortex/engine/domain"
	"github.com/cortexkg/cortex/engine/graph"
	"github.com/cortexkg/cortex/pkg/fn"
	"github.com/cortexkg/cortex/pkg/metrics"
)

// learnConfidenceStep is the fixed additive confidence nudge applied per
// learning pass to every node a pattern references, clamped at 1.0.
const learnConfidenceStep = 0.1

// Service is the caller-facing façade over store + analyzer. Mutations and
// the analyzer rebuild run as one atomic unit under the write lock, so
// analysis always reads a consistent snapshot. Read operations share the
// read lock and may run concurrently with each other.
type Service struct {
	mu       sync.RWMutex
	store    *graph.Store
	analyzer *analyze.Analyzer

	logger *slog.Logger
	pub    Publisher
	now    func() time.Time

	mutations        *metrics.Counter
	analysisDuration *metrics.Histogram
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPublisher sets the mutation/analysis event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

// WithMetrics registers service metrics on the given registry.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Service) {
		s.mutations = reg.Counter("graph_mutations_total", "Graph mutations applied")
		s.analysisDuration = reg.Histogram("graph_analysis_seconds", "Pattern analysis duration", nil)
	}
}

// NewService creates a Service over an empty graph.
func NewService(opts ...Option) *Service {
	s := &Service{
		store:  graph.New(),
		logger: slog.Default(),
		pub:    NopPublisher{},
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.analyzer = analyze.New(s.store.Snapshot())
	return s
}

// rebuild refreshes the analyzer from a fresh snapshot. Callers must hold
// the write lock. Every mutation pays the full O(n) rebuild; fine for the
// graph sizes this engine targets.
func (s *Service) rebuild() {
	s.analyzer = analyze.New(s.store.Snapshot())
	if s.mutations != nil {
		s.mutations.Inc()
	}
}

// AddNode inserts or overwrites a node and rebuilds analysis.
func (s *Service) AddNode(ctx context.Context, n domain.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.AddNode(n); err != nil {
		return err
	}
	s.rebuild()
	s.pub.GraphEvent(ctx, Event{Kind: EventNodeAdded, NodeID: n.ID, At: s.now()})
	return nil
}

// GetNode returns a node by id.
func (s *Service) GetNode(id string) (domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.GetNode(id)
}

// UpdateNode shallow-merges the patch over the node.
func (s *Service) UpdateNode(ctx context.Context, id string, patch domain.NodePatch) (domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.store.UpdateNode(id, patch)
	if err != nil {
		return domain.Node{}, err
	}
	s.rebuild()
	s.pub.GraphEvent(ctx, Event{Kind: EventNodeUpdated, NodeID: id, At: s.now()})
	return n, nil
}

// DeleteNode removes a node. Edges targeting it are left dangling for
// ValidateGraph to surface.
func (s *Service) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.DeleteNode(id); err != nil {
		return err
	}
	s.rebuild()
	s.pub.GraphEvent(ctx, Event{Kind: EventNodeDeleted, NodeID: id, At: s.now()})
	return nil
}

// AddRelationship attaches an edge to its source node.
func (s *Service) AddRelationship(ctx context.Context, rel domain.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.AddRelationship(rel); err != nil {
		return err
	}
	s.rebuild()
	s.pub.GraphEvent(ctx, Event{
		Kind: EventRelationshipAdded, NodeID: rel.SourceID, TargetID: rel.TargetID, At: s.now(),
	})
	return nil
}

// UpdateRelationship patches the first edge matching the pair.
func (s *Service) UpdateRelationship(ctx context.Context, sourceID, targetID string, patch domain.RelationshipPatch) (domain.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, err := s.store.UpdateRelationship(sourceID, targetID, patch)
	if err != nil {
		return domain.Relationship{}, err
	}
	s.rebuild()
	return rel, nil
}

// DeleteRelationship removes every edge between the pair.
func (s *Service) DeleteRelationship(ctx context.Context, sourceID, targetID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed, err := s.store.DeleteRelationship(sourceID, targetID)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.rebuild()
		s.pub.GraphEvent(ctx, Event{
			Kind: EventRelationshipDeleted, NodeID: sourceID, TargetID: targetID, At: s.now(),
		})
	}
	return removed, nil
}

// Query runs the conjunctive filter pipeline.
func (s *Service) Query(params domain.QueryParams) []domain.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Query(params)
}

// FindRelated returns the bidirectional neighbor set of a node, optionally
// intersected with a filtered query.
func (s *Service) FindRelated(id string, params domain.QueryParams) ([]domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.FindRelated(id, params)
}

// FindPatterns runs pattern analysis. When params carry filters, only
// patterns touching at least one node of the filtered result are kept.
func (s *Service) FindPatterns(ctx context.Context, params domain.QueryParams) Analysis {
	start := s.now()
	s.mu.RLock()
	patterns := s.analyzer.AnalyzePatterns()
	s.mu.RUnlock()

	if !params.IsZero() {
		scope := make(map[string]bool)
		for _, n := range s.Query(params) {
			scope[n.ID] = true
		}
		patterns = fn.Filter(patterns, func(p analyze.Pattern) bool {
			for _, id := range p.RelatedNodes {
				if scope[id] {
					return true
				}
			}
			return false
		})
	}

	a := s.buildAnalysis(patterns)
	if s.analysisDuration != nil {
		s.analysisDuration.Since(start)
	}
	s.pub.GraphEvent(ctx, Event{Kind: EventAnalysisCompleted, Patterns: len(patterns), At: s.now()})
	s.logger.Info("pattern analysis", "patterns", len(patterns), "duration", time.Since(start))
	return a
}

// buildAnalysis derives insights, metrics, and the workflow aggregate
// from a pattern set.
func (s *Service) buildAnalysis(patterns []analyze.Pattern) Analysis {
	insights := fn.Map(patterns, insightFromPattern)

	confidences := fn.Map(patterns, func(p analyze.Pattern) float64 { return p.Confidence })
	impacts := fn.Map(patterns, func(p analyze.Pattern) float64 { return p.Impact })
	optimal, actual, variance := analyze.Timeline(patterns)

	return Analysis{
		Patterns: patterns,
		Insights: insights,
		Metrics: []Metric{
			// Trend and benchmark/goal are fixed labels; nothing here is
			// fitted to historical runs.
			{Name: "pattern_confidence", Value: meanOf(confidences), Trend: "stable", Benchmark: 0.7, Goal: 0.85},
			{Name: "pattern_impact", Value: meanOf(impacts), Trend: "stable", Benchmark: 0.5, Goal: 0.7},
		},
		Workflow: WorkflowAnalysis{
			Efficiency:      analyze.WorkflowEfficiency(patterns),
			Bottlenecks:     analyze.Bottlenecks(patterns),
			OptimalDuration: optimal,
			ActualDuration:  actual,
			Variance:        variance,
		},
		GeneratedAt: s.now(),
	}
}

func insightFromPattern(p analyze.Pattern) Insight {
	var actions []string
	if p.Optimization != nil {
		actions = append(actions, fmt.Sprintf("rebalance steps %v to recover ~%.0f%% of pattern time",
			p.Optimization.Prerequisites, p.Optimization.PotentialGain*100))
	}
	if p.Temporal != nil && p.Temporal.Variability > 0 {
		actions = append(actions, fmt.Sprintf("reduce duration variability (currently %.2f)", p.Temporal.Variability))
	}
	if p.Type == analyze.PatternChoice {
		actions = append(actions, "consolidate low-strength alternatives")
	}
	return Insight{
		Type:             string(p.Type),
		Description:      p.Description,
		Importance:       p.Impact,
		Actionable:       true,
		SuggestedActions: actions,
		RelatedNodes:     p.RelatedNodes,
	}
}

// Learn applies reinforcement feedback from an analysis back onto the
// graph: every node referenced by a pattern gets its confidence nudged up
// by a fixed step (clamped at 1.0), its frequency accumulated by the
// pattern frequency, and its importance raised by the pattern impact
// (clamped at 1.0). Additive nudges, not gradients. Nodes deleted since
// the analysis are skipped; a stale analysis is not a hard failure.
func (s *Service) Learn(ctx context.Context, a Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type delta struct {
		frequency  int
		importance float64
	}
	deltas := make(map[string]*delta)
	for _, p := range a.Patterns {
		for _, id := range p.RelatedNodes {
			d, ok := deltas[id]
			if !ok {
				d = &delta{}
				deltas[id] = d
			}
			d.frequency += p.Frequency
			d.importance += p.Impact
		}
	}
	if len(deltas) == 0 {
		return nil
	}

	touched := 0
	for id, d := range deltas {
		n, err := s.store.GetNode(id)
		if err != nil {
			continue
		}
		meta := n.Metadata
		meta.Confidence = clamp01(meta.Confidence + learnConfidenceStep)
		meta.Frequency += d.frequency
		meta.Importance = clamp01(meta.Importance + d.importance)
		if _, err := s.store.UpdateNode(id, domain.NodePatch{Metadata: &meta}); err != nil {
			return fmt.Errorf("knowledge: learn: %w", err)
		}
		touched++
	}
	s.rebuild()
	s.logger.Info("learning feedback applied", "nodes", touched, "patterns", len(a.Patterns))
	s.pub.GraphEvent(ctx, Event{Kind: EventLearned, Patterns: len(a.Patterns), At: s.now()})
	return nil
}

// ImproveNode merges improvements into a node, bumps its version, and
// stamps the update time.
func (s *Service) ImproveNode(ctx context.Context, id string, patch domain.NodePatch) (domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.store.UpdateNode(id, patch)
	if err != nil {
		return domain.Node{}, err
	}
	meta := n.Metadata
	meta.Version++
	meta.Updated = s.now()
	n, err = s.store.UpdateNode(id, domain.NodePatch{Metadata: &meta})
	if err != nil {
		return domain.Node{}, err
	}
	s.rebuild()
	s.pub.GraphEvent(ctx, Event{Kind: EventNodeUpdated, NodeID: id, At: s.now()})
	return n, nil
}

// SuggestImprovements runs pattern analysis scoped to one node and turns
// every pattern touching it into an actionable insight.
func (s *Service) SuggestImprovements(id string) ([]Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.store.GetNode(id); err != nil {
		return nil, err
	}
	patterns := s.analyzer.AnalyzePatterns()
	var out []Insight
	for _, p := range patterns {
		if p.Touches(id) {
			out = append(out, insightFromPattern(p))
		}
	}
	return out, nil
}

// ValidateGraph scans for structural issues. Findings come back as data,
// never as an error: dangling relationship targets and workflow temporal
// cycles are errors; orphaned nodes and empty workflows are warnings.
func (s *Service) ValidateGraph() Validation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.store.Snapshot()
	exists := make(map[string]bool, len(snap.Nodes))
	for _, n := range snap.Nodes {
		exists[n.ID] = true
	}

	v := Validation{IsValid: true}
	for _, n := range snap.Nodes {
		if len(n.Relationships) == 0 {
			v.Warnings = append(v.Warnings, Issue{
				Type:     IssueOrphanedNode,
				NodeID:   n.ID,
				Message:  fmt.Sprintf("node %s has no outgoing relationships", n.ID),
				Severity: SeverityMinor,
			})
		}
		for _, r := range n.Relationships {
			if !exists[r.TargetID] {
				v.Errors = append(v.Errors, Issue{
					Type:     IssueBrokenRelationship,
					NodeID:   n.ID,
					TargetID: r.TargetID,
					Message:  fmt.Sprintf("relationship %s->%s targets a missing node", n.ID, r.TargetID),
					Severity: SeverityCritical,
				})
			}
		}
	}

	for _, n := range snap.Nodes {
		if n.Type != domain.NodeWorkflow {
			continue
		}
		steps := s.analyzer.WorkflowSteps(n.ID)
		if len(steps) == 0 {
			v.Warnings = append(v.Warnings, Issue{
				Type:     IssueEmptyWorkflow,
				NodeID:   n.ID,
				Message:  fmt.Sprintf("workflow %s has no steps", n.ID),
				Severity: SeverityMinor,
			})
			continue
		}
		if !analyze.IsAcyclic(steps, s.analyzer.StepFollows(steps)) {
			v.Errors = append(v.Errors, Issue{
				Type:     IssueTemporalCycle,
				NodeID:   n.ID,
				Message:  fmt.Sprintf("workflow %s has a cycle in its step ordering", n.ID),
				Severity: SeverityMajor,
			})
		}
	}

	v.IsValid = len(v.Errors) == 0
	return v
}

// GetStats aggregates counts, mean confidence, and per-workflow metrics.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.store.Snapshot()
	patterns := s.analyzer.AnalyzePatterns()

	stats := Stats{
		Nodes:               len(snap.Nodes),
		Relationships:       len(snap.Relationships),
		NodesByType:         s.store.NodeCounts(),
		RelationshipsByType: s.store.RelationshipCounts(),
		MeanConfidence:      s.store.MeanConfidence(),
	}

	bottlenecks := make(map[string]bool)
	for _, id := range analyze.Bottlenecks(patterns) {
		bottlenecks[id] = true
	}

	for _, n := range snap.Nodes {
		if n.Type != domain.NodeWorkflow {
			continue
		}
		steps := s.analyzer.WorkflowSteps(n.ID)
		ws := WorkflowStats{ID: n.ID, Steps: len(steps)}

		var durs []float64
		var rels []float64
		for _, stepID := range steps {
			step, err := s.store.GetNode(stepID)
			if err != nil {
				continue
			}
			if step.Content.Workflow != nil && step.Content.Workflow.EstimatedDuration > 0 {
				durs = append(durs, step.Content.Workflow.EstimatedDuration.Seconds())
			}
			if step.Metadata.Reliability > 0 {
				rels = append(rels, step.Metadata.Reliability)
			}
			if bottlenecks[stepID] {
				ws.Bottlenecks = append(ws.Bottlenecks, stepID)
			}
		}
		ws.AverageDuration = time.Duration(meanOf(durs) * float64(time.Second))
		ws.SuccessRate = meanOf(rels)
		ws.CriticalPath = analyze.LongestPath(steps, s.analyzer.StepFollows(steps))
		stats.Workflows = append(stats.Workflows, ws)
	}
	return stats
}

// Snapshot returns a consistent copy of the graph for persistence.
func (s *Service) Snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Snapshot()
}

// Restore replaces the graph from a snapshot and rebuilds analysis.
func (s *Service) Restore(ctx context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Restore(snap); err != nil {
		return err
	}
	s.rebuild()
	s.pub.GraphEvent(ctx, Event{Kind: EventRestored, Patterns: 0, At: s.now()})
	return nil
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

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
