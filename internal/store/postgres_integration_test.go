//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/store"
)

func TestPostgresStoreLeaseBatchExcludesLockedRows(t *testing.T) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("graphrag_test"),
		tcpostgres.WithUsername("graphrag"),
		tcpostgres.WithPassword("graphrag"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := store.OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.CreateProject(ctx, "proj-1")
	require.NoError(t, err)

	doc := &domain.Document{ID: "doc-1", ProjectID: "proj-1", Type: domain.DocumentText, Content: "hello"}
	require.NoError(t, s.CreateDocument(ctx, doc))

	leased, err := s.LeaseBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	require.Equal(t, domain.StatusProcessing, leased[0].Status)

	again, err := s.LeaseBatch(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, again)

	require.NoError(t, s.CompleteDocument(ctx, "proj-1", "doc-1"))
	got, err := s.GetDocument(ctx, "proj-1", "doc-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessed, got.Status)
}
