package qdrant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-fabric/internal/config"
	"github.com/chirino/memory-fabric/internal/model"
	registrymigrate "github.com/chirino/memory-fabric/internal/registry/migrate"
	registryvector "github.com/chirino/memory-fabric/internal/registry/vector"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "qdrant",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &qdrantMigrator{}})
}

// qdrantMigrator verifies the Qdrant endpoint is reachable at startup.
// Collections themselves are created lazily on first upsert.
type qdrantMigrator struct{}

func (m *qdrantMigrator) Name() string { return "qdrant" }
func (m *qdrantMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.VectorType != "qdrant" || !cfg.VectorMigrateAtStart {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	migrateCtx, cancel := context.WithTimeout(ctx, cfg.QdrantStartupTimeout)
	defer cancel()

	store, err := load(ctx)
	if err != nil {
		return fmt.Errorf("qdrant migrate: %w", err)
	}
	qs := store.(*Store)
	defer qs.conn.Close()
	return qs.Ping(migrateCtx)
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("qdrant: missing config in context")
	}
	conn, err := grpc.NewClient(cfg.QdrantAddress(), dialOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}
	return &Store{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		conn:        conn,
		dimension:   uint64(cfg.EmbeddingDimension),
	}, nil
}

// Store implements VectorStore against a Qdrant gRPC endpoint, one collection
// per agent category.
type Store struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	conn        *grpc.ClientConn
	dimension   uint64
}

func (s *Store) IsEnabled() bool { return true }
func (s *Store) Name() string    { return "qdrant" }

func (s *Store) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	if dimension == 0 {
		dimension = s.dimension
	}
	_, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		return nil // collection exists
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 newUint64(16),
			EfConstruct:       newUint64(64),
			FullScanThreshold: newUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", name, err)
	}
	log.Info("Created Qdrant collection", "name", name)
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, reqs []registryvector.UpsertRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx, collection, s.dimension); err != nil {
		return err
	}
	points := make([]*pb.PointStruct, len(reqs))
	for i, r := range reqs {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID.String()}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: map[string]*pb.Value{
				"agent_id":    {Kind: &pb.Value_StringValue{StringValue: r.AgentID}},
				"memory_type": {Kind: &pb.Value_StringValue{StringValue: string(r.MemoryType)}},
				"created_at":  {Kind: &pb.Value_StringValue{StringValue: r.CreatedAt.UTC().Format(time.RFC3339Nano)}},
			},
		}
	}
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	return err
}

func (s *Store) Search(ctx context.Context, q registryvector.SearchQuery) ([]registryvector.SearchHit, error) {
	req := &pb.SearchPoints{
		CollectionName: q.Collection,
		Vector:         q.Embedding,
		Limit:          uint64(q.Limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if q.ScoreThreshold > 0 {
		threshold := q.ScoreThreshold
		req.ScoreThreshold = &threshold
	}
	if q.AgentID != "" {
		req.Filter = &pb.Filter{
			Must: []*pb.Condition{
				{
					ConditionOneOf: &pb.Condition_Field{
						Field: &pb.FieldCondition{
							Key: "agent_id",
							Match: &pb.Match{
								MatchValue: &pb.Match_Keyword{Keyword: q.AgentID},
							},
						},
					},
				},
			},
		}
	}
	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	var hits []registryvector.SearchHit
	for _, pt := range resp.GetResult() {
		h := registryvector.SearchHit{Score: float64(pt.GetScore())}
		if id, err := uuid.Parse(pt.GetId().GetUuid()); err == nil {
			h.ID = id
		}
		payload := pt.GetPayload()
		if v, ok := payload["agent_id"]; ok {
			h.AgentID = v.GetStringValue()
		}
		if v, ok := payload["memory_type"]; ok {
			h.MemoryType = model.MemoryType(v.GetStringValue())
		}
		if v, ok := payload["created_at"]; ok {
			if ts, err := time.Parse(time.RFC3339Nano, v.GetStringValue()); err == nil {
				h.CreatedAt = ts
			}
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (s *Store) Delete(ctx context.Context, collection string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}
	}
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	return err
}

func (s *Store) CountCollection(ctx context.Context, collection string) (int64, error) {
	resp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: collection})
	if err != nil {
		return 0, err
	}
	return int64(resp.GetResult().GetCount()), nil
}

func (s *Store) listCollections(ctx context.Context) ([]string, error) {
	resp, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.GetCollections()))
	for _, c := range resp.GetCollections() {
		names = append(names, c.GetName())
	}
	return names, nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	return err
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	names, err := s.listCollections(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, name := range names {
		n, err := s.CountCollection(ctx, name)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func newUint64(v uint64) *uint64 {
	return &v
}

func dialOptions(cfg *config.Config) []grpc.DialOption {
	opts := make([]grpc.DialOption, 0, 2)
	if cfg.QdrantUseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if strings.TrimSpace(cfg.QdrantAPIKey) != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKeyCredentials{
			apiKey:     cfg.QdrantAPIKey,
			requireTLS: cfg.QdrantUseTLS,
		}))
	}
	return opts
}

type apiKeyCredentials struct {
	apiKey     string
	requireTLS bool
}

func (a apiKeyCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"api-key": a.apiKey}, nil
}

func (a apiKeyCredentials) RequireTransportSecurity() bool {
	return a.requireTLS
}
