// Package semantic owns all Qdrant operations: the node-embedding
// collection, upserts keyed by deterministic point ids, and similarity
// search used for relationship suggestion.
package semantic

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// VectorStore is the sole owner of the Qdrant connection.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New dials Qdrant over gRPC.
func New(addr, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the gRPC connection.
func (v *VectorStore) Close() error { return v.conn.Close() }

// EnsureCollection creates the cosine-distance collection if missing.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert indexes node embeddings. Point ids derive from node ids, so
// re-indexing overwrites in place.
func (v *VectorStore) Upsert(ctx context.Context, vectors []NodeVector) error {
	if len(vectors) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(vectors))
	for i, nv := range vectors {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(nv.NodeID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: toFloat32(nv.Embedding)},
				},
			},
			Payload: map[string]*pb.Value{
				"node_id":   {Kind: &pb.Value_StringValue{StringValue: nv.NodeID}},
				"node_type": {Kind: &pb.Value_StringValue{StringValue: nv.NodeType}},
				"title":     {Kind: &pb.Value_StringValue{StringValue: nv.Title}},
			},
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(vectors), err)
	}
	return nil
}

// DeleteByNode removes the point indexed for a node.
func (v *VectorStore) DeleteByNode(ctx context.Context, nodeID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{fieldMatch("node_id", nodeID)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete node %s: %w", nodeID, err)
	}
	return nil
}

// Query runs k-NN search, dropping hits below minScore. An optional
// nodeType filter restricts candidates.
func (v *VectorStore) Query(ctx context.Context, embedding []float64, topK int, minScore float64, nodeType string) ([]Match, error) {
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         toFloat32(embedding),
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if minScore > 0 {
		threshold := float32(minScore)
		req.ScoreThreshold = &threshold
	}
	if nodeType != "" {
		req.Filter = &pb.Filter{Must: []*pb.Condition{fieldMatch("node_type", nodeType)}}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	matches := make([]Match, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		m := Match{Score: float64(r.GetScore())}
		payload := r.GetPayload()
		m.NodeID = payload["node_id"].GetStringValue()
		m.NodeType = payload["node_type"].GetStringValue()
		m.Title = payload["title"].GetStringValue()
		matches[i] = m
	}
	return matches, nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
