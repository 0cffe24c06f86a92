package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/store"
)

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.CreateProject(ctx, "proj-1")
	require.NoError(t, err)

	doc := &domain.Document{ID: "doc-1", ProjectID: "proj-1", Type: domain.DocumentText, Content: "hello world"}
	require.NoError(t, s.CreateDocument(ctx, doc))
	require.False(t, doc.CreatedAt.IsZero())
	require.Equal(t, domain.StatusNotProcessed, doc.Status)

	got, err := s.GetDocument(ctx, "proj-1", "doc-1")
	require.NoError(t, err)
	require.Equal(t, "hello world", got.Content)

	require.NoError(t, s.CompleteDocument(ctx, "proj-1", "doc-1"))
	got, err = s.GetDocument(ctx, "proj-1", "doc-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessed, got.Status)
}

func TestSQLiteStoreLeaseBatchClaimsOncePerDocument(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.CreateProject(ctx, "proj-1")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		id := "doc-" + string(rune('a'+i))
		require.NoError(t, s.CreateDocument(ctx, &domain.Document{ID: id, ProjectID: "proj-1", Type: domain.DocumentText, Content: "x"}))
	}

	leased, err := s.LeaseBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, leased, 2)
	for _, d := range leased {
		require.Equal(t, domain.StatusProcessing, d.Status)
	}

	rest, err := s.LeaseBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
}

func TestSQLiteStoreReplaceChunksAndExtractionCache(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.CreateProject(ctx, "proj-1")
	require.NoError(t, err)
	require.NoError(t, s.CreateDocument(ctx, &domain.Document{ID: "doc-1", ProjectID: "proj-1", Type: domain.DocumentText, Content: "x"}))

	chunks := []*domain.Chunk{
		{ID: "c1", DocumentID: "doc-1", ProjectID: "proj-1", Content: "part one", OrderIndex: 0, Tokens: 2},
		{ID: "c2", DocumentID: "doc-1", ProjectID: "proj-1", Content: "part two", OrderIndex: 1, Tokens: 2,
			Code: &domain.CodeMeta{Language: "go", StartLine: 1, EndLine: 4, ScopeName: "Foo", ScopeType: domain.ScopeFunction}},
	}
	require.NoError(t, s.ReplaceChunks(ctx, "doc-1", chunks))

	listed, err := s.ListChunks(ctx, "proj-1", "doc-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, "Foo", listed[1].Code.ScopeName)

	entry := &domain.ExtractionCacheEntry{ID: "e1", ProjectID: "proj-1", Type: domain.CacheEntityExtraction, ContentHash: "h1", Result: "{}"}
	require.NoError(t, s.Put(ctx, entry))

	got, err := s.Get(ctx, "proj-1", domain.CacheEntityExtraction, "h1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "{}", got.Result)

	require.NoError(t, s.DeleteChunksForDocument(ctx, "proj-1", "doc-1"))
	listed, err = s.ListChunks(ctx, "proj-1", "doc-1")
	require.NoError(t, err)
	require.Empty(t, listed)
}
