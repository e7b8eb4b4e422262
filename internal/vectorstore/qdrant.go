package vectorstore

import (
	"context"
	"fmt"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	CollectionPrefix string `json:"collection_prefix"`
}

// Qdrant is an Index backed by Qdrant's gRPC API. Each Kind maps to one
// collection; the owning profile is stored in the point payload and used as
// a filter.
type Qdrant struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	prefix      string

	mu      sync.Mutex
	ensured map[string]bool
}

const payloadProfile = "profile_id"

// NewQdrant dials the Qdrant gRPC endpoint.
func NewQdrant(cfg QdrantConfig) (*Qdrant, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = "mindprint_"
	}
	return &Qdrant{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		prefix:      prefix,
		ensured:     make(map[string]bool),
	}, nil
}

func (q *Qdrant) collection(kind Kind) string {
	return q.prefix + string(kind)
}

// ensureCollection creates the collection on first use, sized from the
// first vector written to it.
func (q *Qdrant) ensureCollection(ctx context.Context, name string, dimension uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ensured[name] {
		return nil
	}
	if _, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name}); err == nil {
		q.ensured[name] = true
		return nil
	}
	_, err := q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
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
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	q.ensured[name] = true
	return nil
}

func profileFilter(profileID string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   payloadProfile,
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: profileID}},
				},
			},
		}},
	}
}

// Upsert writes r as a point whose id is the record id.
func (q *Qdrant) Upsert(ctx context.Context, r Record) error {
	name := q.collection(r.Kind)
	if err := q.ensureCollection(ctx, name, uint64(len(r.Vector))); err != nil {
		return err
	}
	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: name,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Vector}}},
			Payload: map[string]*pb.Value{
				payloadProfile: {Kind: &pb.Value_StringValue{StringValue: r.ProfileID}},
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", name, r.ID, err)
	}
	return nil
}

// FindSimilar searches the kind's collection restricted to one profile.
func (q *Qdrant) FindSimilar(ctx context.Context, query Query) ([]Hit, error) {
	if query.K <= 0 {
		return nil, nil
	}
	name := q.collection(query.Kind)
	threshold := float32(query.Threshold)
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: name,
		Vector:         query.Vector,
		Filter:         profileFilter(query.ProfileID),
		Limit:          uint64(query.K),
		ScoreThreshold: &threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, Hit{ID: r.Id.GetUuid(), Score: float64(r.Score)})
	}
	return hits, nil
}

// DeleteProfile removes every point of kind owned by profileID.
func (q *Qdrant) DeleteProfile(ctx context.Context, kind Kind, profileID string) error {
	return q.deletePoints(ctx, kind, &pb.PointsSelector{
		PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: profileFilter(profileID)},
	})
}

// Delete removes the given point ids.
func (q *Qdrant) Delete(ctx context.Context, kind Kind, _ string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}
	return q.deletePoints(ctx, kind, &pb.PointsSelector{
		PointsSelectorOneOf: &pb.PointsSelector_Points{Points: &pb.PointsIdsList{Ids: pids}},
	})
}

func (q *Qdrant) deletePoints(ctx context.Context, kind Kind, sel *pb.PointsSelector) error {
	name := q.collection(kind)
	q.mu.Lock()
	known := q.ensured[name]
	q.mu.Unlock()
	if !known {
		if _, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name}); err != nil {
			// Nothing was ever written to this collection.
			return nil
		}
	}
	wait := true
	if _, err := q.points.Delete(ctx, &pb.DeletePoints{CollectionName: name, Wait: &wait, Points: sel}); err != nil {
		return fmt.Errorf("delete from %s: %w", name, err)
	}
	return nil
}

// Close tears down the underlying gRPC connection.
func (q *Qdrant) Close() error {
	return q.conn.Close()
}
