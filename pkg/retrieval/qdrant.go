package retrieval

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Qdrant is an Index backed by a Qdrant collection over gRPC.
// Points carry "text" and optional "source" payload fields.
type Qdrant struct {
	conn       *grpc.ClientConn
	client     pb.PointsClient
	collection string
}

// NewQdrant connects to the Qdrant gRPC endpoint at addr.
func NewQdrant(addr, collection string) (*Qdrant, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	return &Qdrant{
		conn:       conn,
		client:     pb.NewPointsClient(conn),
		collection: collection,
	}, nil
}

// Search implements Index.
func (q *Qdrant) Search(ctx context.Context, vector []float32, limit int, scoreThreshold float32) ([]Chunk, error) {
	req := &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if scoreThreshold > 0 {
		req.ScoreThreshold = &scoreThreshold
	}

	resp, err := q.client.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	chunks := make([]Chunk, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		text := payloadString(r.GetPayload(), "text")
		if text == "" {
			continue
		}
		id := r.GetId().GetUuid()
		if id == "" {
			id = fmt.Sprintf("%d", r.GetId().GetNum())
		}
		chunks = append(chunks, Chunk{
			ID:     id,
			Text:   text,
			Source: payloadString(r.GetPayload(), "source"),
			Score:  r.GetScore(),
		})
	}
	return chunks, nil
}

// Close releases the gRPC connection.
func (q *Qdrant) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

func payloadString(payload map[string]*pb.Value, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	if s, ok := v.GetKind().(*pb.Value_StringValue); ok {
		return s.StringValue
	}
	return ""
}
