package rebuild

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/summarize"
)

type fakeGraph struct {
	entities          map[string]*domain.Entity
	relations         []domain.Relation
	bySourceEntities  map[string]struct{}
	bySourceRelations map[string]struct{}

	deletedEntities  []string
	deletedRelations []domain.Relation
	updatedEntities  map[string][]string
	updatedRelations map[string][]string

	updatedEntityDescriptions   map[string]string
	updatedRelationDescriptions map[string]string
}

func (f *fakeGraph) GetEntitiesBySourceChunks(ctx context.Context, projectID string, chunkIDs []string) (map[string]struct{}, error) {
	return f.bySourceEntities, nil
}
func (f *fakeGraph) GetRelationsBySourceChunks(ctx context.Context, projectID string, chunkIDs []string) (map[string]struct{}, error) {
	return f.bySourceRelations, nil
}
func (f *fakeGraph) GetEntity(ctx context.Context, projectID, name string) (*domain.Entity, error) {
	return f.entities[name], nil
}
func (f *fakeGraph) GetAllRelations(ctx context.Context, projectID string) ([]domain.Relation, error) {
	return f.relations, nil
}
func (f *fakeGraph) DeleteEntities(ctx context.Context, projectID string, names []string) error {
	f.deletedEntities = append(f.deletedEntities, names...)
	return nil
}
func (f *fakeGraph) DeleteRelations(ctx context.Context, projectID string, keys []domain.Relation) error {
	f.deletedRelations = append(f.deletedRelations, keys...)
	return nil
}
func (f *fakeGraph) UpdateEntityDescription(ctx context.Context, projectID, name, description string, sourceChunkIDs []string) error {
	if f.updatedEntities == nil {
		f.updatedEntities = make(map[string][]string)
	}
	f.updatedEntities[name] = sourceChunkIDs
	if f.updatedEntityDescriptions == nil {
		f.updatedEntityDescriptions = make(map[string]string)
	}
	f.updatedEntityDescriptions[name] = description
	return nil
}
func (f *fakeGraph) UpdateRelationProvenance(ctx context.Context, projectID, source, target, keywords, description string, sourceChunkIDs []string) error {
	if f.updatedRelations == nil {
		f.updatedRelations = make(map[string][]string)
	}
	f.updatedRelations[relationKey(source, target, keywords)] = sourceChunkIDs
	if f.updatedRelationDescriptions == nil {
		f.updatedRelationDescriptions = make(map[string]string)
	}
	f.updatedRelationDescriptions[relationKey(source, target, keywords)] = description
	return nil
}

type fakeVectors struct {
	deletedDocs      []string
	deletedEntities  []string
	deletedChunkIDs  []string
}

func (f *fakeVectors) DeleteByDocument(ctx context.Context, projectID, documentID string) error {
	f.deletedDocs = append(f.deletedDocs, documentID)
	return nil
}
func (f *fakeVectors) DeleteEntityEmbeddings(ctx context.Context, projectID string, names []string) error {
	f.deletedEntities = append(f.deletedEntities, names...)
	return nil
}
func (f *fakeVectors) DeleteChunkEmbeddings(ctx context.Context, projectID string, chunkIDs []string) error {
	f.deletedChunkIDs = append(f.deletedChunkIDs, chunkIDs...)
	return nil
}

type fakeChunks struct {
	chunks  []*domain.Chunk
	deleted []string
}

func (f *fakeChunks) ReplaceChunks(ctx context.Context, documentID string, chunks []*domain.Chunk) error {
	return nil
}
func (f *fakeChunks) ListChunks(ctx context.Context, projectID, documentID string) ([]*domain.Chunk, error) {
	return f.chunks, nil
}
func (f *fakeChunks) GetChunks(ctx context.Context, projectID string, chunkIDs []string) ([]*domain.Chunk, error) {
	return nil, nil
}
func (f *fakeChunks) DeleteChunksForDocument(ctx context.Context, projectID, documentID string) error {
	f.deleted = append(f.deleted, documentID)
	return nil
}

type fakeDocs struct {
	deleted []string
}

func (f *fakeDocs) CreateDocument(ctx context.Context, doc *domain.Document) error { return nil }
func (f *fakeDocs) GetDocument(ctx context.Context, projectID, id string) (*domain.Document, error) {
	return nil, nil
}
func (f *fakeDocs) ListDocuments(ctx context.Context, projectID string) ([]*domain.Document, error) {
	return nil, nil
}
func (f *fakeDocs) DeleteDocument(ctx context.Context, projectID, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}
func (f *fakeDocs) LeaseBatch(ctx context.Context, batchSize int) ([]*domain.Document, error) {
	return nil, nil
}
func (f *fakeDocs) CompleteDocument(ctx context.Context, projectID, id string) error { return nil }
func (f *fakeDocs) FailDocument(ctx context.Context, projectID, id string) error     { return nil }

type fakeCache struct {
	entries []*domain.ExtractionCacheEntry
	deleted []string
}

func (f *fakeCache) Put(ctx context.Context, entry *domain.ExtractionCacheEntry) error { return nil }
func (f *fakeCache) Get(ctx context.Context, projectID string, cacheType domain.CacheType, contentHash string) (*domain.ExtractionCacheEntry, error) {
	return nil, nil
}
func (f *fakeCache) GetByChunkIDs(ctx context.Context, projectID string, cacheType domain.CacheType, chunkIDs []string) ([]*domain.ExtractionCacheEntry, error) {
	wanted := make(map[string]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		wanted[id] = struct{}{}
	}
	var out []*domain.ExtractionCacheEntry
	for _, e := range f.entries {
		if e.Type != cacheType || e.ChunkID == nil {
			continue
		}
		if _, ok := wanted[*e.ChunkID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeCache) DeleteForDocument(ctx context.Context, projectID, documentID string) error {
	f.deleted = append(f.deleted, documentID)
	return nil
}

type fakeSummarizer struct {
	calls int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, projectID, name string, descriptions []string) (summarize.Result, error) {
	f.calls++
	joined := ""
	for i, d := range descriptions {
		if i > 0 {
			joined += " | "
		}
		joined += d
	}
	return summarize.Result{Description: "regenerated: " + joined}, nil
}

func TestDeleteDocumentRejectsMissingProjectID(t *testing.T) {
	svc := New(&fakeGraph{}, &fakeVectors{}, &fakeChunks{}, &fakeDocs{}, &fakeCache{}, nil)
	_, err := svc.DeleteDocument(context.Background(), "", "d1", false)
	assert.Error(t, err)
}

func TestDeleteDocumentDeletesEntityWithNoRemainingSources(t *testing.T) {
	graph := &fakeGraph{
		entities: map[string]*domain.Entity{
			"Alice": {Name: "Alice", Description: "x", SourceChunkIDs: []string{"c1"}},
		},
		bySourceEntities: map[string]struct{}{"Alice": {}},
	}
	vectors := &fakeVectors{}
	chunks := &fakeChunks{chunks: []*domain.Chunk{{ID: "c1", DocumentID: "d1"}}}
	docs := &fakeDocs{}
	cache := &fakeCache{}

	svc := New(graph, vectors, chunks, docs, cache, nil)
	result, err := svc.DeleteDocument(context.Background(), "p1", "d1", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"Alice"}, result.EntitiesDeleted)
	assert.Empty(t, result.EntitiesRebuilt)
	assert.Equal(t, []string{"Alice"}, graph.deletedEntities)
	assert.Equal(t, 1, result.ChunksDeleted)
	assert.Equal(t, []string{"d1"}, vectors.deletedDocs)
	assert.Equal(t, []string{"d1"}, docs.deleted)
}

func TestDeleteDocumentRebuildsEntityDescriptionFromRemainingChunks(t *testing.T) {
	graph := &fakeGraph{
		entities: map[string]*domain.Entity{
			"Alice": {Name: "Alice", Description: "a researcher who studies bees", SourceChunkIDs: []string{"c1", "c2"}},
		},
		bySourceEntities: map[string]struct{}{"Alice": {}},
	}
	// d1 contributed c1 (deleted); c2 belongs to a surviving document and is
	// not touched, so Alice should keep existing but have her description
	// regenerated from only c2's cached extraction.
	chunks := &fakeChunks{chunks: []*domain.Chunk{{ID: "c1", DocumentID: "d1"}}}
	c2 := "c2"
	cache := &fakeCache{entries: []*domain.ExtractionCacheEntry{
		{ID: "cache-1", Type: domain.CacheEntityExtraction, ChunkID: &c2, Result: "ENTITY|Alice|PERSON|a beekeeper in rural France"},
	}}
	summary := &fakeSummarizer{}

	svc := New(graph, &fakeVectors{}, chunks, &fakeDocs{}, cache, summary)
	result, err := svc.DeleteDocument(context.Background(), "p1", "d1", false)
	require.NoError(t, err)

	assert.Empty(t, result.EntitiesDeleted)
	assert.Equal(t, []string{"Alice"}, result.EntitiesRebuilt)
	assert.Equal(t, []string{"c2"}, graph.updatedEntities["Alice"])
	assert.Equal(t, 1, summary.calls)
	assert.Equal(t, "regenerated: a beekeeper in rural France", graph.updatedEntityDescriptions["Alice"])
	assert.NotContains(t, graph.updatedEntityDescriptions["Alice"], "bees",
		"the deleted document's content must not survive in the regenerated description")
}

func TestDeleteDocumentKeepsExistingDescriptionWhenNoCachedExtractionSurvives(t *testing.T) {
	graph := &fakeGraph{
		entities: map[string]*domain.Entity{
			"Alice": {Name: "Alice", Description: "a researcher", SourceChunkIDs: []string{"c1", "c2"}},
		},
		bySourceEntities: map[string]struct{}{"Alice": {}},
	}
	chunks := &fakeChunks{chunks: []*domain.Chunk{{ID: "c1", DocumentID: "d1"}}}
	summary := &fakeSummarizer{}

	svc := New(graph, &fakeVectors{}, chunks, &fakeDocs{}, &fakeCache{}, summary)
	result, err := svc.DeleteDocument(context.Background(), "p1", "d1", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"Alice"}, result.EntitiesRebuilt)
	assert.Equal(t, 0, summary.calls, "no cache entries for the remaining chunk means no summarizer call")
	assert.Equal(t, "a researcher", graph.updatedEntityDescriptions["Alice"])
}

func TestDeleteDocumentSkipRebuildForcesDeletion(t *testing.T) {
	graph := &fakeGraph{
		entities: map[string]*domain.Entity{
			"Alice": {Name: "Alice", Description: "x", SourceChunkIDs: []string{"c1", "c2"}},
		},
		bySourceEntities: map[string]struct{}{"Alice": {}},
	}
	chunks := &fakeChunks{chunks: []*domain.Chunk{{ID: "c1", DocumentID: "d1"}}}

	svc := New(graph, &fakeVectors{}, chunks, &fakeDocs{}, &fakeCache{}, nil)
	result, err := svc.DeleteDocument(context.Background(), "p1", "d1", true)
	require.NoError(t, err)

	assert.Equal(t, []string{"Alice"}, result.EntitiesDeleted)
}

func TestDeleteDocumentDeletesRelationWhenEndpointDeleted(t *testing.T) {
	graph := &fakeGraph{
		entities: map[string]*domain.Entity{
			"Alice": {Name: "Alice", Description: "x", SourceChunkIDs: []string{"c1"}},
			"Bob":   {Name: "Bob", Description: "y", SourceChunkIDs: []string{"c1", "c2"}},
		},
		bySourceEntities:  map[string]struct{}{"Alice": {}, "Bob": {}},
		bySourceRelations: map[string]struct{}{"Alice|Bob|knows": {}},
		relations:         []domain.Relation{{Source: "Alice", Target: "Bob", Keywords: "knows", SourceChunkIDs: []string{"c1"}}},
	}
	chunks := &fakeChunks{chunks: []*domain.Chunk{{ID: "c1", DocumentID: "d1"}}}

	svc := New(graph, &fakeVectors{}, chunks, &fakeDocs{}, &fakeCache{}, nil)
	result, err := svc.DeleteDocument(context.Background(), "p1", "d1", false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.RelationsDeleted)
	require.Len(t, graph.deletedRelations, 1)
	assert.Equal(t, "Alice", graph.deletedRelations[0].Source)
}

func TestDeleteDocumentRebuildsRelationDescriptionFromRemainingChunks(t *testing.T) {
	graph := &fakeGraph{
		entities: map[string]*domain.Entity{
			"Alice": {Name: "Alice", Description: "x", SourceChunkIDs: []string{"c1", "c2"}},
			"Bob":   {Name: "Bob", Description: "y", SourceChunkIDs: []string{"c1", "c2"}},
		},
		bySourceEntities:  map[string]struct{}{"Alice": {}, "Bob": {}},
		bySourceRelations: map[string]struct{}{"Alice|Bob|knows": {}},
		relations: []domain.Relation{
			{Source: "Alice", Target: "Bob", Keywords: "knows", Description: "met at a conference", SourceChunkIDs: []string{"c1", "c2"}},
		},
	}
	chunks := &fakeChunks{chunks: []*domain.Chunk{{ID: "c1", DocumentID: "d1"}}}
	c2 := "c2"
	cache := &fakeCache{entries: []*domain.ExtractionCacheEntry{
		{ID: "cache-1", Type: domain.CacheEntityExtraction, ChunkID: &c2, Result: "RELATION|Alice|Bob|knows|co-authored a paper together|1"},
	}}
	summary := &fakeSummarizer{}

	svc := New(graph, &fakeVectors{}, chunks, &fakeDocs{}, cache, summary)
	result, err := svc.DeleteDocument(context.Background(), "p1", "d1", false)
	require.NoError(t, err)

	assert.Equal(t, 0, result.RelationsDeleted)
	assert.Equal(t, 1, result.RelationsRebuilt)
	assert.Equal(t, 1, summary.calls)
	assert.Equal(t, "regenerated: co-authored a paper together", graph.updatedRelationDescriptions["Alice|Bob|knows"])
}
