package semantic

import "github.com/google/uuid"

// pointNamespace derives stable Qdrant point ids from node ids, so
// re-indexing a node overwrites its previous point instead of duplicating.
var pointNamespace = uuid.MustParse("9f2c41a4-7c80-4a2e-9b51-6f1f6de0c8b7")

// PointID returns the deterministic point id for a node.
func PointID(nodeID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(nodeID)).String()
}

// NodeVector is one node embedding to index.
type NodeVector struct {
	NodeID    string
	NodeType  string
	Title     string
	Embedding []float64
}

// Match is a similarity search hit.
type Match struct {
	NodeID   string  `json:"node_id"`
	NodeType string  `json:"node_type"`
	Title    string  `json:"title"`
	Score    float64 `json:"score"`
}
