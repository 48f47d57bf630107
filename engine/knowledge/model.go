// Package knowledge composes the graph store and the analyzer behind a
// single service façade: queries, pattern analysis, learning feedback,
// structural validation, and statistics.
package knowledge

import (
	"time"

	"github.com/cortexkg/cortex/engine/analyze"
	"github.com/cortexkg/cortex/engine/domain"
)

// Insight is an actionable reading of one detected pattern.
type Insight struct {
	Type             string   `json:"type"`
	Description      string   `json:"description"`
	Importance       float64  `json:"importance"`
	Actionable       bool     `json:"actionable"`
	SuggestedActions []string `json:"suggested_actions,omitempty"`
	RelatedNodes     []string `json:"related_nodes,omitempty"`
}

// Metric is a named analysis measurement. Trend, benchmark, and goal are
// static labels, not derived from history.
type Metric struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Trend     string  `json:"trend"`
	Benchmark float64 `json:"benchmark"`
	Goal      float64 `json:"goal"`
}

// WorkflowAnalysis aggregates the workflow-shaped patterns of an analysis.
type WorkflowAnalysis struct {
	Efficiency      float64       `json:"efficiency"`
	Bottlenecks     []string      `json:"bottlenecks,omitempty"`
	OptimalDuration time.Duration `json:"optimal_duration"`
	ActualDuration  time.Duration `json:"actual_duration"`
	Variance        float64       `json:"variance"`
}

// Analysis is the full output of a pattern run.
type Analysis struct {
	Patterns    []analyze.Pattern `json:"patterns"`
	Insights    []Insight         `json:"insights"`
	Metrics     []Metric          `json:"metrics"`
	Workflow    WorkflowAnalysis  `json:"workflow"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Issue severities and types reported by graph validation.
const (
	SeverityCritical = "critical"
	SeverityMajor    = "major"
	SeverityMinor    = "minor"

	IssueBrokenRelationship = "broken_relationship"
	IssueTemporalCycle      = "temporal_cycle"
	IssueOrphanedNode       = "orphaned_node"
	IssueEmptyWorkflow      = "empty_workflow"
)

// Issue is one structural finding. Errors break analysis assumptions;
// warnings are soft hygiene findings.
type Issue struct {
	Type     string `json:"type"`
	NodeID   string `json:"node_id"`
	TargetID string `json:"target_id,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Validation is the aggregated, non-throwing result of a graph scan.
type Validation struct {
	IsValid  bool    `json:"is_valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// WorkflowStats summarizes one workflow node.
type WorkflowStats struct {
	ID              string        `json:"id"`
	Steps           int           `json:"steps"`
	AverageDuration time.Duration `json:"average_duration"`
	SuccessRate     float64       `json:"success_rate"`
	Bottlenecks     []string      `json:"bottlenecks,omitempty"`
	CriticalPath    []string      `json:"critical_path,omitempty"`
}

// Stats is the aggregate view of the graph.
type Stats struct {
	Nodes               int                     `json:"nodes"`
	Relationships       int                     `json:"relationships"`
	NodesByType         map[domain.NodeType]int `json:"nodes_by_type"`
	RelationshipsByType map[domain.RelType]int  `json:"relationships_by_type"`
	MeanConfidence      float64                 `json:"mean_confidence"`
	Workflows           []WorkflowStats         `json:"workflows,omitempty"`
}
