package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/cortexkg/cortex/engine/domain"
)

const nodeLabel = "KnowledgeNode"

// Neo4jStore persists graph snapshots to Neo4j. A Save replaces the whole
// stored graph inside one write transaction; a Load reads it back.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

// NewNeo4j wraps an established driver.
func NewNeo4j(driver neo4j.DriverWithContext) *Neo4jStore {
	return &Neo4jStore{driver: driver}
}

// Save writes the snapshot, replacing any previously stored graph. Nodes
// and edges land in a single transaction, so a failed save leaves the old
// graph intact.
func (s *Neo4jStore) Save(ctx context.Context, snap domain.Snapshot) error {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, fmt.Sprintf(`MATCH (n:%s) DETACH DELETE n`, nodeLabel), nil); err != nil {
			return nil, fmt.Errorf("clear graph: %w", err)
		}
		for _, n := range snap.Nodes {
			props, err := nodeToProps(n)
			if err != nil {
				return nil, err
			}
			cypher := fmt.Sprintf(`MERGE (n:%s {id: $id}) SET n += $props`, nodeLabel)
			if _, err := tx.Run(ctx, cypher, map[string]any{"id": n.ID, "props": props}); err != nil {
				return nil, fmt.Errorf("save node %s: %w", n.ID, err)
			}
		}
		for _, r := range snap.Relationships {
			props, err := relToProps(r)
			if err != nil {
				return nil, err
			}
			cypher := fmt.Sprintf(
				`MATCH (a:%s {id: $source}), (b:%s {id: $target})
				 MERGE (a)-[e:%s]->(b)
				 SET e += $props`,
				nodeLabel, nodeLabel, relTypeIdent(r.Type),
			)
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"source": r.SourceID,
				"target": r.TargetID,
				"props":  props,
			}); err != nil {
				return nil, fmt.Errorf("save relationship %s->%s: %w", r.SourceID, r.TargetID, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("persist: save snapshot: %w", err)
	}
	return nil
}

// Load reads the stored graph back into a snapshot.
func (s *Neo4jStore) Load(ctx context.Context) (domain.Snapshot, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	snap := domain.Snapshot{TakenAt: time.Now()}

	result, err := sess.Run(ctx, fmt.Sprintf(`MATCH (n:%s) RETURN n ORDER BY n.id`, nodeLabel), nil)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("persist: load nodes: %w", err)
	}
	for result.Next(ctx) {
		dbNode, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("persist: read node record: %w", err)
		}
		n, err := nodeFromProps(dbNode.Props)
		if err != nil {
			return domain.Snapshot{}, err
		}
		snap.Nodes = append(snap.Nodes, n)
	}
	if err := result.Err(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("persist: iterate nodes: %w", err)
	}

	relResult, err := sess.Run(ctx, fmt.Sprintf(
		`MATCH (a:%s)-[e]->(b:%s) RETURN a.id AS source, b.id AS target, e ORDER BY source, target`,
		nodeLabel, nodeLabel), nil)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("persist: load relationships: %w", err)
	}
	for relResult.Next(ctx) {
		rec := relResult.Record()
		source, _, err := neo4j.GetRecordValue[string](rec, "source")
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("persist: read edge source: %w", err)
		}
		target, _, err := neo4j.GetRecordValue[string](rec, "target")
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("persist: read edge target: %w", err)
		}
		edge, _, err := neo4j.GetRecordValue[dbtype.Relationship](rec, "e")
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("persist: read edge record: %w", err)
		}
		r, err := relFromProps(source, target, edge.Props)
		if err != nil {
			return domain.Snapshot{}, err
		}
		snap.Relationships = append(snap.Relationships, r)
	}
	if err := relResult.Err(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("persist: iterate relationships: %w", err)
	}
	return snap, nil
}

// nodeToProps flattens a node to primitive Neo4j properties. The free-form
// content payload and workflow record are stored as JSON strings.
func nodeToProps(n domain.Node) (map[string]any, error) {
	props := map[string]any{
		"type":        string(n.Type),
		"title":       n.Content.Title,
		"description": n.Content.Description,
		"created":     n.Metadata.Created,
		"updated":     n.Metadata.Updated,
		"version":     int64(n.Metadata.Version),
		"confidence":  n.Metadata.Confidence,
		"source":      n.Metadata.Source,
		"frequency":   int64(n.Metadata.Frequency),
		"importance":  n.Metadata.Importance,
		"reliability": n.Metadata.Reliability,
	}
	if len(n.Metadata.Tags) > 0 {
		tags := make([]any, len(n.Metadata.Tags))
		for i, t := range n.Metadata.Tags {
			tags[i] = t
		}
		props["tags"] = tags
	}
	if len(n.Content.Data) > 0 {
		data, err := json.Marshal(n.Content.Data)
		if err != nil {
			return nil, fmt.Errorf("persist: encode data for %s: %w", n.ID, err)
		}
		props["data"] = string(data)
	}
	if n.Content.Workflow != nil {
		wf, err := json.Marshal(n.Content.Workflow)
		if err != nil {
			return nil, fmt.Errorf("persist: encode workflow for %s: %w", n.ID, err)
		}
		props["workflow"] = string(wf)
	}
	return props, nil
}

func nodeFromProps(props map[string]any) (domain.Node, error) {
	n := domain.Node{
		ID:   strProp(props, "id"),
		Type: domain.NodeType(strProp(props, "type")),
		Content: domain.Content{
			Title:       strProp(props, "title"),
			Description: strProp(props, "description"),
		},
		Metadata: domain.Metadata{
			Created:     timeProp(props, "created"),
			Updated:     timeProp(props, "updated"),
			Version:     int(intProp(props, "version")),
			Confidence:  floatProp(props, "confidence"),
			Source:      strProp(props, "source"),
			Frequency:   int(intProp(props, "frequency")),
			Importance:  floatProp(props, "importance"),
			Reliability: floatProp(props, "reliability"),
		},
	}
	if raw, ok := props["tags"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				n.Metadata.Tags = append(n.Metadata.Tags, s)
			}
		}
	}
	if raw := strProp(props, "data"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &n.Content.Data); err != nil {
			return domain.Node{}, fmt.Errorf("persist: decode data for %s: %w", n.ID, err)
		}
	}
	if raw := strProp(props, "workflow"); raw != "" {
		var wf domain.WorkflowInfo
		if err := json.Unmarshal([]byte(raw), &wf); err != nil {
			return domain.Node{}, fmt.Errorf("persist: decode workflow for %s: %w", n.ID, err)
		}
		n.Content.Workflow = &wf
	}
	return n, nil
}

func relToProps(r domain.Relationship) (map[string]any, error) {
	props := map[string]any{
		"type":     string(r.Type),
		"strength": r.Strength,
		"created":  r.Created,
		"updated":  r.Updated,
	}
	if len(r.Metadata) > 0 {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("persist: encode edge metadata %s->%s: %w", r.SourceID, r.TargetID, err)
		}
		props["metadata"] = string(meta)
	}
	return props, nil
}

func relFromProps(source, target string, props map[string]any) (domain.Relationship, error) {
	r := domain.Relationship{
		SourceID: source,
		TargetID: target,
		Type:     domain.RelType(strProp(props, "type")),
		Strength: floatProp(props, "strength"),
		Created:  timeProp(props, "created"),
		Updated:  timeProp(props, "updated"),
	}
	if raw := strProp(props, "metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &r.Metadata); err != nil {
			return domain.Relationship{}, fmt.Errorf("persist: decode edge metadata %s->%s: %w", source, target, err)
		}
	}
	return r, nil
}

// relTypeIdent turns a relationship type into a Cypher-safe, upper-case
// identifier. Unknown characters are dropped.
func relTypeIdent(t domain.RelType) string {
	safe := make([]byte, 0, len(t))
	for i := 0; i < len(t); i++ {
		c := t[i]
		switch {
		case c >= 'a' && c <= 'z':
			safe = append(safe, c-32)
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "RELATED"
	}
	return string(safe)
}

func strProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func intProp(props map[string]any, key string) int64 {
	n, _ := props[key].(int64)
	return n
}

func floatProp(props map[string]any, key string) float64 {
	f, _ := props[key].(float64)
	return f
}

func timeProp(props map[string]any, key string) time.Time {
	t, _ := props[key].(time.Time)
	return t
}
