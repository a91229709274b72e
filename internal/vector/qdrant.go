package vector

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// Qdrant is a remote index backed by a Qdrant collection over gRPC.
type Qdrant struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	collection  string
}

// NewQdrant dials the Qdrant gRPC endpoint and ensures the collection
// exists with the given dimensionality and cosine distance.
func NewQdrant(ctx context.Context, cfg QdrantConfig, dimension int) (*Qdrant, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	q := &Qdrant{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		collection:  cfg.Collection,
	}
	if q.collection == "" {
		q.collection = "memories"
	}
	if err := q.ensureCollection(ctx, uint64(dimension)); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context, dimension uint64) error {
	_, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: q.collection})
	if err == nil {
		return nil
	}
	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", q.collection, err)
	}
	return nil
}

// Upsert inserts or updates a single point.
func (q *Qdrant) Upsert(ctx context.Context, id string, embedding []float32) error {
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: embedding}}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert %s: %w", id, err)
	}
	return nil
}

// Remove deletes the point for an id.
func (q *Qdrant) Remove(ctx context.Context, id string) error {
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete %s: %w", id, err)
	}
	return nil
}

// Search performs a nearest-neighbor search with a score threshold.
func (q *Qdrant) Search(ctx context.Context, query []float32, k int, minSimilarity float64) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	threshold := float32(minSimilarity)
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         query,
		Limit:          uint64(k),
		ScoreThreshold: &threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search %s: %w", q.collection, err)
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, Hit{ID: r.Id.GetUuid(), Similarity: float64(r.Score)})
	}
	return hits, nil
}

// Len reports the number of points in the collection.
func (q *Qdrant) Len(ctx context.Context) (int, error) {
	resp, err := q.points.Count(ctx, &pb.CountPoints{CollectionName: q.collection})
	if err != nil {
		return 0, fmt.Errorf("qdrant count %s: %w", q.collection, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Close tears down the underlying gRPC connection.
func (q *Qdrant) Close() error {
	return q.conn.Close()
}
