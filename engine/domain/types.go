// Package domain defines the core knowledge-graph data model, constants,
// and validation for the Cortex engine. It acts as the validation gate at
// every mutation entry point.
package domain

import "time"

// NodeType classifies a knowledge node.
type NodeType string

const (
	NodeConcept  NodeType = "concept"
	NodeTask     NodeType = "task"
	NodeWorkflow NodeType = "workflow"
	NodePattern  NodeType = "pattern"
	NodeInsight  NodeType = "insight"
)

// ValidNodeTypes is the closed set of recognised node types.
var ValidNodeTypes = map[NodeType]bool{
	NodeConcept: true, NodeTask: true, NodeWorkflow: true,
	NodePattern: true, NodeInsight: true,
}

// RelType classifies a directed relationship between two nodes.
type RelType string

const (
	RelRelated    RelType = "related"
	RelDependsOn  RelType = "depends_on"
	RelPartOf     RelType = "part_of"
	RelFollows    RelType = "follows"
	RelImplements RelType = "implements"
)

// ValidRelTypes is the closed set of recognised relationship types.
var ValidRelTypes = map[RelType]bool{
	RelRelated: true, RelDependsOn: true, RelPartOf: true,
	RelFollows: true, RelImplements: true,
}

// TimeWindow is a half-open execution window for a workflow node.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two windows intersect.
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	return !w.Start.After(other.End) && !w.End.Before(other.Start)
}

// WorkflowInfo carries scheduling data for workflow-typed nodes.
type WorkflowInfo struct {
	TimeWindow        *TimeWindow   `json:"time_window,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
}

// Content is the free-form payload of a node.
type Content struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Workflow    *WorkflowInfo  `json:"workflow,omitempty"`
}

// Metadata tracks provenance and learning state of a node.
type Metadata struct {
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
	Version     int       `json:"version"`
	Confidence  float64   `json:"confidence"` // [0,1]
	Source      string    `json:"source,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Frequency   int       `json:"frequency,omitempty"`
	Importance  float64   `json:"importance,omitempty"` // [0,1]
	Reliability float64   `json:"reliability,omitempty"` // [0,1]
}

// Relationship is a directed, typed, weighted edge. It is owned exclusively
// by its source node's relationship list.
type Relationship struct {
	SourceID string         `json:"source_id"`
	TargetID string         `json:"target_id"`
	Type     RelType        `json:"type"`
	Strength float64        `json:"strength"` // [0,1]
	Metadata map[string]any `json:"metadata,omitempty"`
	Created  time.Time      `json:"created"`
	Updated  time.Time      `json:"updated"`
}

// Node is a unit of knowledge with metadata and outgoing relationships.
// Invariant: Relationships[i].SourceID == ID for all i.
type Node struct {
	ID            string         `json:"id"`
	Type          NodeType       `json:"type"`
	Content       Content        `json:"content"`
	Metadata      Metadata       `json:"metadata"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Clone returns a deep-enough copy of the node: the relationship slice and
// tag slice are copied so callers can hold results across mutations. Map
// payloads are shared; treat them as read-only.
func (n Node) Clone() Node {
	out := n
	if n.Relationships != nil {
		out.Relationships = make([]Relationship, len(n.Relationships))
		copy(out.Relationships, n.Relationships)
	}
	if n.Metadata.Tags != nil {
		out.Metadata.Tags = make([]string, len(n.Metadata.Tags))
		copy(out.Metadata.Tags, n.Metadata.Tags)
	}
	return out
}

// NodePatch is a shallow-merge patch: nil fields are preserved, non-nil
// fields replace the existing value wholesale (no deep merge of Content
// or Metadata).
type NodePatch struct {
	Type     *NodeType `json:"type,omitempty"`
	Content  *Content  `json:"content,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// RelationshipPatch is a shallow-merge patch for a relationship.
type RelationshipPatch struct {
	Type     *RelType       `json:"type,omitempty"`
	Strength *float64       `json:"strength,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// QueryParams filter a node query. All set filters compose conjunctively.
type QueryParams struct {
	Types         []NodeType  `json:"types,omitempty"`
	Tags          []string    `json:"tags,omitempty"` // all-of semantics
	MinConfidence *float64    `json:"min_confidence,omitempty"`
	MaxConfidence *float64    `json:"max_confidence,omitempty"`
	UpdatedAfter  *time.Time  `json:"updated_after,omitempty"`
	UpdatedBefore *time.Time  `json:"updated_before,omitempty"`
	RelType       *RelType    `json:"rel_type,omitempty"` // at least one outgoing edge of this type
	Window        *TimeWindow `json:"window,omitempty"`   // workflow time-window overlap
	Offset        int         `json:"offset,omitempty"`
	Limit         int         `json:"limit,omitempty"`
}

// IsZero reports whether no filters or pagination are set.
func (p QueryParams) IsZero() bool {
	return len(p.Types) == 0 && len(p.Tags) == 0 &&
		p.MinConfidence == nil && p.MaxConfidence == nil &&
		p.UpdatedAfter == nil && p.UpdatedBefore == nil &&
		p.RelType == nil && p.Window == nil &&
		p.Offset == 0 && p.Limit == 0
}

// Snapshot is the sole persistence boundary for the in-memory graph:
// all nodes plus the flattened relationship list.
type Snapshot struct {
	Nodes         []Node         `json:"nodes"`
	Relationships []Relationship `json:"relationships"`
	TakenAt       time.Time      `json:"taken_at"`
}
