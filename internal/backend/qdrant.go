package backend

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qdrantclient "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	qerrors "github.com/quarry-search/quarry/internal/errors"
)

// QdrantConfig configures the Qdrant vector backend.
type QdrantConfig struct {
	// Addr is the gRPC address (default: "localhost:6334").
	Addr string

	// CollectionName is the Qdrant collection holding all tenants.
	// Scope isolation uses payload filters, not separate collections.
	CollectionName string

	// Dimensions is the embedding dimension. Required.
	Dimensions int
}

// QdrantBackend implements VectorBackend against a Qdrant server over gRPC.
type QdrantBackend struct {
	conn        *grpc.ClientConn
	collections qdrantclient.CollectionsClient
	points      qdrantclient.PointsClient
	config      QdrantConfig
}

var _ VectorBackend = (*QdrantBackend)(nil)

// chunkIDNamespace derives deterministic point UUIDs from chunk IDs so
// re-indexing the same chunk overwrites its point.
var chunkIDNamespace = uuid.MustParse("9a7a1c54-33e1-4f0c-9b6a-6c2f8f0d4b21")

// NewQdrantBackend connects to Qdrant and ensures the collection exists.
func NewQdrantBackend(ctx context.Context, cfg QdrantConfig) (*QdrantBackend, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6334"
	}
	if cfg.CollectionName == "" {
		cfg.CollectionName = "quarry_chunks"
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("qdrant: dimensions must be positive, got %d", cfg.Dimensions)
	}

	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeBackendUnreachable,
			fmt.Sprintf("failed to connect to Qdrant at %s", cfg.Addr), err)
	}

	b := &QdrantBackend{
		conn:        conn,
		collections: qdrantclient.NewCollectionsClient(conn),
		points:      qdrantclient.NewPointsClient(conn),
		config:      cfg,
	}

	if err := b.ensureCollection(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return b, nil
}

func (b *QdrantBackend) ensureCollection(ctx context.Context) error {
	list, err := b.collections.List(ctx, &qdrantclient.ListCollectionsRequest{})
	if err != nil {
		return qerrors.New(qerrors.ErrCodeBackendUnreachable,
			"failed to list Qdrant collections", err)
	}

	for _, c := range list.Collections {
		if c.Name == b.config.CollectionName {
			return nil
		}
	}

	_, err = b.collections.Create(ctx, &qdrantclient.CreateCollection{
		CollectionName: b.config.CollectionName,
		VectorsConfig: &qdrantclient.VectorsConfig{
			Config: &qdrantclient.VectorsConfig_Params{
				Params: &qdrantclient.VectorParams{
					Size:     uint64(b.config.Dimensions),
					Distance: qdrantclient.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return qerrors.BackendError("failed to create Qdrant collection", err)
	}
	return nil
}

// searchFilter limits a query to one tenant and collection, plus any
// metadata predicates. Metadata lives under prefixed payload keys so a
// filter can never shadow the scope fields.
func searchFilter(scope Scope, filters map[string]string) *qdrantclient.Filter {
	must := []*qdrantclient.Condition{
		keywordCondition("tenant_id", scope.TenantID),
		keywordCondition("collection", scope.Collection),
	}
	for key, value := range filters {
		must = append(must, keywordCondition("meta_"+key, value))
	}
	return &qdrantclient.Filter{Must: must}
}

func keywordCondition(field, value string) *qdrantclient.Condition {
	return &qdrantclient.Condition{
		ConditionOneOf: &qdrantclient.Condition_Field{
			Field: &qdrantclient.FieldCondition{
				Key: field,
				Match: &qdrantclient.Match{
					MatchValue: &qdrantclient.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// SearchVector runs a scoped nearest-neighbor search. Qdrant returns
// cosine similarity directly for cosine collections.
func (b *QdrantBackend) SearchVector(ctx context.Context, scope Scope, vector []float32, filters map[string]string, limit int) ([]Hit, error) {
	resp, err := b.points.Search(ctx, &qdrantclient.SearchPoints{
		CollectionName: b.config.CollectionName,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         searchFilter(scope, filters),
		WithPayload: &qdrantclient.WithPayloadSelector{
			SelectorOptions: &qdrantclient.WithPayloadSelector_Include{
				Include: &qdrantclient.PayloadIncludeSelector{
					Fields: []string{"chunk_id"},
				},
			},
		},
	})
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeBackendUnreachable,
			"qdrant search failed", err)
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, point := range resp.Result {
		chunkID := ""
		if v, ok := point.Payload["chunk_id"]; ok {
			chunkID = v.GetStringValue()
		}
		if chunkID == "" {
			continue
		}
		hits = append(hits, Hit{ChunkID: chunkID, Score: float64(point.GetScore())})
	}
	return hits, nil
}

// AddVectors upserts embeddings as points with scope and metadata
// payload.
func (b *QdrantBackend) AddVectors(ctx context.Context, scope Scope, docs []VectorDoc) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrantclient.PointStruct, len(docs))
	for i, d := range docs {
		payload := map[string]*qdrantclient.Value{
			"chunk_id":   stringValue(d.ID),
			"tenant_id":  stringValue(scope.TenantID),
			"collection": stringValue(scope.Collection),
		}
		for key, value := range d.Metadata {
			payload["meta_"+key] = stringValue(value)
		}
		points[i] = &qdrantclient.PointStruct{
			Id: pointID(d.ID),
			Vectors: &qdrantclient.Vectors{
				VectorsOptions: &qdrantclient.Vectors_Vector{
					Vector: &qdrantclient.Vector{Data: d.Vector},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := b.points.Upsert(ctx, &qdrantclient.UpsertPoints{
		CollectionName: b.config.CollectionName,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return qerrors.BackendError("qdrant upsert failed", err)
	}
	return nil
}

// DeleteVectors removes points by chunk ID.
func (b *QdrantBackend) DeleteVectors(ctx context.Context, _ Scope, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrantclient.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	wait := true
	_, err := b.points.Delete(ctx, &qdrantclient.DeletePoints{
		CollectionName: b.config.CollectionName,
		Points: &qdrantclient.PointsSelector{
			PointsSelectorOneOf: &qdrantclient.PointsSelector_Points{
				Points: &qdrantclient.PointsIdsList{Ids: pointIDs},
			},
		},
		Wait: &wait,
	})
	if err != nil {
		return qerrors.BackendError("qdrant delete failed", err)
	}
	return nil
}

func pointID(chunkID string) *qdrantclient.PointId {
	return &qdrantclient.PointId{
		PointIdOptions: &qdrantclient.PointId_Uuid{
			Uuid: uuid.NewSHA1(chunkIDNamespace, []byte(chunkID)).String(),
		},
	}
}

func stringValue(s string) *qdrantclient.Value {
	return &qdrantclient.Value{Kind: &qdrantclient.Value_StringValue{StringValue: s}}
}

// ScoreKind reports cosine similarity scores.
func (b *QdrantBackend) ScoreKind() ScoreKind {
	return ScoreSimilarity
}

// Name identifies the backend.
func (b *QdrantBackend) Name() string {
	return "qdrant"
}

// Close closes the gRPC connection.
func (b *QdrantBackend) Close() error {
	return b.conn.Close()
}
