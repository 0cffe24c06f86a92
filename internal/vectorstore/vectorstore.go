// Package vectorstore adapts github.com/qdrant/go-client to the embedding
// index every project shares: one collection, isolated per project by a
// payload filter on project_id rather than one collection per project,
// since Qdrant collections are comparatively expensive to multiply while
// payload filters are cheap to evaluate at query time.
package vectorstore

import (
	"context"
	"crypto/sha1"
	"sort"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/graphragerr"
)

const (
	payloadProjectID  = "project_id"
	payloadKind       = "kind"
	payloadDocumentID = "document_id"
	payloadChunkID    = "chunk_id"
	payloadEntityName = "entity_name"
	payloadContent    = "content"
)

// Filter selects which payload kind a query should match against.
type Filter string

const (
	FilterChunks   Filter = "chunks"
	FilterEntities Filter = "entities"
	FilterBoth     Filter = "both"
)

// Result is one ranked hit from Query. Distance is ascending (0 = identical);
// callers that mix vector hits with graph results derive a [0,1] relevance
// score from it via Relevance.
type Result struct {
	ID         string
	Kind       domain.VectorKind
	DocumentID string
	ChunkID    string
	EntityName string
	Content    string
	Distance   float32
	Metadata   map[string]any
}

// Relevance maps Distance (cosine distance, 0..2) onto a [0,1] relevance
// score where 1 is a perfect match.
func (r Result) Relevance() float32 {
	score := 1 - r.Distance
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Store wraps a single Qdrant collection shared by every project.
type Store struct {
	client         *qdrant.Client
	collectionName string
}

// New connects to Qdrant and ensures the shared collection exists, created
// with the given embedding dimension and cosine distance if absent.
func New(ctx context.Context, client *qdrant.Client, collectionName string, vectorSize uint64) (*Store, error) {
	exists, err := client.CollectionExists(ctx, collectionName)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageTransient, "", "check collection existence", err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, graphragerr.Wrap(graphragerr.StorageFatal, "", "create collection "+collectionName, err)
		}
	}
	return &Store{client: client, collectionName: collectionName}, nil
}

// pointID derives a deterministic point id from the project-scoped key so
// repeated upserts of the same chunk/entity overwrite rather than duplicate.
func pointID(projectID string, kind domain.VectorKind, naturalKey string) string {
	key := projectID + "|" + string(kind) + "|" + naturalKey
	return uuid.NewHash(sha1.New(), uuid.Nil, []byte(key), 5).String()
}

func boolPtr(b bool) *bool { return &b }

func rowPayload(projectID string, row domain.VectorRow) (map[string]*qdrant.Value, error) {
	raw := map[string]any{
		payloadProjectID: projectID,
		payloadKind:      string(row.Kind),
		payloadContent:   row.Content,
	}
	if row.DocumentID != "" {
		raw[payloadDocumentID] = row.DocumentID
	}
	if row.ChunkID != "" {
		raw[payloadChunkID] = row.ChunkID
	}
	if row.EntityName != "" {
		raw[payloadEntityName] = row.EntityName
	}
	for k, v := range row.Metadata {
		raw["meta_"+k] = v
	}
	return qdrant.TryValueMap(raw)
}

func (s *Store) upsert(ctx context.Context, projectID string, rows []domain.VectorRow) error {
	if len(rows) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(rows))
	for _, row := range rows {
		naturalKey := row.ChunkID
		if row.Kind == domain.VectorEntity {
			naturalKey = row.EntityName
		}
		payload, err := rowPayload(projectID, row)
		if err != nil {
			return graphragerr.Wrap(graphragerr.StorageFatal, projectID, "build vector payload", err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(projectID, row.Kind, naturalKey)),
			Vectors: qdrant.NewVectors(row.Embedding...),
			Payload: payload,
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName,
		Wait:           boolPtr(true),
		Points:         points,
	})
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageTransient, projectID, "upsert vectors", err)
	}
	return nil
}

// UpsertChunks stores or replaces chunk embeddings.
func (s *Store) UpsertChunks(ctx context.Context, projectID string, rows []domain.VectorRow) error {
	return s.upsert(ctx, projectID, rows)
}

// UpsertEntities stores or replaces entity embeddings, used by LOCAL mode
// retrieval.
func (s *Store) UpsertEntities(ctx context.Context, projectID string, rows []domain.VectorRow) error {
	return s.upsert(ctx, projectID, rows)
}

func kindFilterCondition(filter Filter) *qdrant.Condition {
	switch filter {
	case FilterChunks:
		return qdrant.NewMatchKeyword(payloadKind, string(domain.VectorChunk))
	case FilterEntities:
		return qdrant.NewMatchKeyword(payloadKind, string(domain.VectorEntity))
	default:
		return nil
	}
}

// Query searches the shared collection for the nearest neighbors of
// embedding within a project, optionally narrowed to chunks or entities.
// Results are ordered by ascending distance with ties broken by id.
func (s *Store) Query(ctx context.Context, projectID string, embedding []float32, topK int, filter Filter) ([]Result, error) {
	must := []*qdrant.Condition{qdrant.NewMatchKeyword(payloadProjectID, projectID)}
	if cond := kindFilterCondition(filter); cond != nil {
		must = append(must, cond)
	}

	queryPoints := &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qdrant.NewQuery(embedding...),
		Filter:         &qdrant.Filter{Must: must},
		Limit:          ptrUint64(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	scored, err := s.client.Query(ctx, queryPoints)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageTransient, projectID, "query vectors", err)
	}

	results := make([]Result, 0, len(scored))
	for _, point := range scored {
		results = append(results, resultFromScoredPoint(point))
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

func resultFromScoredPoint(point *qdrant.ScoredPoint) Result {
	r := Result{Distance: 1 - point.GetScore()}
	if id := point.GetId(); id != nil {
		r.ID = id.GetUuid()
	}
	payload := point.GetPayload()
	if payload == nil {
		return r
	}
	if v, ok := payload[payloadKind]; ok {
		r.Kind = domain.VectorKind(v.GetStringValue())
	}
	if v, ok := payload[payloadDocumentID]; ok {
		r.DocumentID = v.GetStringValue()
	}
	if v, ok := payload[payloadChunkID]; ok {
		r.ChunkID = v.GetStringValue()
	}
	if v, ok := payload[payloadEntityName]; ok {
		r.EntityName = v.GetStringValue()
	}
	if v, ok := payload[payloadContent]; ok {
		r.Content = v.GetStringValue()
	}
	meta := make(map[string]any)
	for k, v := range payload {
		const prefix = "meta_"
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			meta[k[len(prefix):]] = v.GetStringValue()
		}
	}
	if len(meta) > 0 {
		r.Metadata = meta
	}
	return r
}

func ptrUint64(v uint64) *uint64 { return &v }

// DeleteByDocument removes every chunk embedding belonging to a document.
func (s *Store) DeleteByDocument(ctx context.Context, projectID, documentID string) error {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatchKeyword(payloadProjectID, projectID),
		qdrant.NewMatchKeyword(payloadDocumentID, documentID),
	}}
	return s.deleteByFilter(ctx, projectID, filter)
}

// DeleteEntityEmbeddings removes named entity embeddings.
func (s *Store) DeleteEntityEmbeddings(ctx context.Context, projectID string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatchKeyword(payloadProjectID, projectID),
		qdrant.NewMatchKeywords(payloadEntityName, names...),
	}}
	return s.deleteByFilter(ctx, projectID, filter)
}

// DeleteChunkEmbeddings removes chunk embeddings by chunk id.
func (s *Store) DeleteChunkEmbeddings(ctx context.Context, projectID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatchKeyword(payloadProjectID, projectID),
		qdrant.NewMatchKeywords(payloadChunkID, chunkIDs...),
	}}
	return s.deleteByFilter(ctx, projectID, filter)
}

// HasDocument reports whether any chunk embedding already exists for a
// document, the signal the ingestion scheduler uses to recognize a
// document that reached the vector-write step on a prior, interrupted run.
func (s *Store) HasDocument(ctx context.Context, projectID, documentID string) (bool, error) {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatchKeyword(payloadProjectID, projectID),
		qdrant.NewMatchKeyword(payloadDocumentID, documentID),
	}}
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collectionName,
		Filter:         filter,
	})
	if err != nil {
		return false, graphragerr.Wrap(graphragerr.StorageTransient, projectID, "count vectors for document", err)
	}
	return count > 0, nil
}

func (s *Store) deleteByFilter(ctx context.Context, projectID string, filter *qdrant.Filter) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageTransient, projectID, "delete vectors", err)
	}
	return nil
}
