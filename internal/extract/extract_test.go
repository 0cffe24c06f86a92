package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/llmclient"
)

type scriptedGenerator struct {
	responses []string
	calls     int
}

func (g *scriptedGenerator) Generate(ctx context.Context, model, prompt string, maxTokens int) (string, llmclient.TokenUsage, error) {
	i := g.calls
	g.calls++
	if i >= len(g.responses) {
		return "", llmclient.TokenUsage{}, nil
	}
	return g.responses[i], llmclient.TokenUsage{InputTokens: 10, OutputTokens: 5}, nil
}

type memCache struct {
	entries map[string]*domain.ExtractionCacheEntry
}

func newMemCache() *memCache { return &memCache{entries: map[string]*domain.ExtractionCacheEntry{}} }

func (m *memCache) key(projectID string, t domain.CacheType, hash string) string {
	return projectID + "|" + string(t) + "|" + hash
}

func (m *memCache) Put(ctx context.Context, entry *domain.ExtractionCacheEntry) error {
	m.entries[m.key(entry.ProjectID, entry.Type, entry.ContentHash)] = entry
	return nil
}

func (m *memCache) Get(ctx context.Context, projectID string, t domain.CacheType, hash string) (*domain.ExtractionCacheEntry, error) {
	return m.entries[m.key(projectID, t, hash)], nil
}

func (m *memCache) GetByChunkIDs(ctx context.Context, projectID string, t domain.CacheType, chunkIDs []string) ([]*domain.ExtractionCacheEntry, error) {
	return nil, nil
}

func (m *memCache) DeleteForDocument(ctx context.Context, projectID, documentID string) error {
	return nil
}

func TestChunkParsesEntitiesAndRelationsAndStopsGleaningWhenEmpty(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		"ENTITY|Alice|PERSON|A researcher\nENTITY|Bob|PERSON|A collaborator\nRELATION|Alice|Bob|collaboration|works with|2",
		"",
	}}
	ex := New(gen, newMemCache(), Config{Model: "test-model", MaxTokens: 500, GleaningPasses: 2})

	chunk := domain.Chunk{ID: "chunk-1", DocumentID: "doc-1", Content: "Alice and Bob work together."}
	result, err := ex.Chunk(context.Background(), "proj-1", chunk, "notes.txt")
	require.NoError(t, err)

	assert.Len(t, result.Entities, 2)
	assert.Len(t, result.Relations, 1)
	assert.Equal(t, 2, gen.calls, "gleaning should stop after the first empty pass")
	assert.Equal(t, []string{"notes.txt"}, result.Entities[0].SourceFilePaths)
	assert.Len(t, result.CacheIDs, 2, "base pass plus the one gleaning pass that ran before breaking")
}

func TestChunkRejectsMissingProjectID(t *testing.T) {
	ex := New(&scriptedGenerator{}, newMemCache(), Config{})
	_, err := ex.Chunk(context.Background(), "", domain.Chunk{ID: "c1", Content: "x"}, "")
	assert.Error(t, err)
}

func TestChunkFallsBackToDocumentIDWhenFileNameMissing(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"ENTITY|Alice|PERSON|desc"}}
	ex := New(gen, newMemCache(), Config{GleaningPasses: 0})

	chunk := domain.Chunk{ID: "chunk-1", DocumentID: "doc-1", Content: "x"}
	result, err := ex.Chunk(context.Background(), "proj-1", chunk, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, result.Entities[0].SourceFilePaths)
}

func TestChunkReusesCachedExtraction(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"ENTITY|Alice|PERSON|desc"}}
	cache := newMemCache()
	ex := New(gen, cache, Config{GleaningPasses: 0})

	chunk := domain.Chunk{ID: "chunk-1", Content: "same content"}
	_, err := ex.Chunk(context.Background(), "proj-1", chunk, "")
	require.NoError(t, err)
	_, err = ex.Chunk(context.Background(), "proj-1", chunk, "")
	require.NoError(t, err)

	assert.Equal(t, 1, gen.calls, "second call should be served from cache")
}

func TestNormalizeEntitiesDedupsCaseInsensitively(t *testing.T) {
	chunk := domain.Chunk{ID: "c1", DocumentID: "d1"}
	entities := []domain.Entity{
		{Name: "Alice", Description: ""},
		{Name: "alice", Description: "A researcher"},
		{Name: " Bob ", Description: "x"},
	}
	out := normalizeEntities(entities, chunk, "file.txt")
	assert.Len(t, out, 2)
	assert.Equal(t, "A researcher", out[0].Description)
	assert.Equal(t, "Bob", out[1].Name)
	assert.Equal(t, []string{"file.txt"}, out[0].SourceFilePaths)
}

func TestNormalizeRelationsDropsSelfLoops(t *testing.T) {
	chunk := domain.Chunk{ID: "c1"}
	relations := []domain.Relation{
		{Source: "Alice", Target: "Alice", Keywords: "self"},
		{Source: "Alice", Target: "Bob", Keywords: "collab", Weight: 1},
		{Source: "alice", Target: "bob", Keywords: "collab", Weight: 1},
	}
	out := normalizeRelations(relations, chunk, "file.txt")
	require.Len(t, out, 1)
	assert.Equal(t, 2.0, out[0].Weight, "duplicate relation weights should accumulate")
}

func TestParseExtractionSkipsMalformedLines(t *testing.T) {
	entities, relations := ParseExtraction("ENTITY|OnlyName\nRELATION|A|B|kw|desc|1.5\ngarbage line")
	assert.Empty(t, entities)
	require.Len(t, relations, 1)
	assert.Equal(t, 1.5, relations[0].Weight)
}
