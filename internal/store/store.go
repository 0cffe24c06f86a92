// Package store defines the relational persistence contract for projects,
// documents, chunks, and the extraction cache, with two concrete
// implementations: a PostgreSQL backend (pgx/v5, SELECT ... FOR UPDATE
// SKIP LOCKED leasing) and a modernc.org/sqlite backend for single-node
// deployments, selected at startup via config.StorageConfig.Backend.
package store

import (
	"context"
	"time"

	"github.com/vasic-digital/graphrag-core/internal/domain"
)

// ProjectStore creates and removes tenant records.
type ProjectStore interface {
	CreateProject(ctx context.Context, id string) (*domain.Project, error)
	DeleteProject(ctx context.Context, id string) error
	GetProject(ctx context.Context, id string) (*domain.Project, error)
}

// DocumentStore persists documents and drives the ingestion state machine.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *domain.Document) error
	GetDocument(ctx context.Context, projectID, id string) (*domain.Document, error)
	ListDocuments(ctx context.Context, projectID string) ([]*domain.Document, error)
	DeleteDocument(ctx context.Context, projectID, id string) error

	// LeaseBatch atomically claims up to batchSize NOT_PROCESSED documents,
	// flipping them to PROCESSING so no two workers lease the same row.
	LeaseBatch(ctx context.Context, batchSize int) ([]*domain.Document, error)
	CompleteDocument(ctx context.Context, projectID, id string) error
	// FailDocument returns a leased document to NOT_PROCESSED so it is
	// re-leased on the next marking pass.
	FailDocument(ctx context.Context, projectID, id string) error
}

// ChunkStore persists the ordered chunks produced for a document.
type ChunkStore interface {
	ReplaceChunks(ctx context.Context, documentID string, chunks []*domain.Chunk) error
	ListChunks(ctx context.Context, projectID, documentID string) ([]*domain.Chunk, error)
	GetChunks(ctx context.Context, projectID string, chunkIDs []string) ([]*domain.Chunk, error)
	DeleteChunksForDocument(ctx context.Context, projectID, documentID string) error
}

// ExtractionCacheStore persists raw LLM outputs keyed by content hash so a
// rebuild pass can skip re-calling the LLM for unchanged content.
type ExtractionCacheStore interface {
	Put(ctx context.Context, entry *domain.ExtractionCacheEntry) error
	Get(ctx context.Context, projectID string, cacheType domain.CacheType, contentHash string) (*domain.ExtractionCacheEntry, error)
	// GetByChunkIDs returns every cached entry of the given type whose
	// chunk_id is one of chunkIDs, letting a rebuild re-derive a surviving
	// entity or relation's description from the chunks that still exist
	// without calling the LLM again.
	GetByChunkIDs(ctx context.Context, projectID string, cacheType domain.CacheType, chunkIDs []string) ([]*domain.ExtractionCacheEntry, error)
	DeleteForDocument(ctx context.Context, projectID, documentID string) error
}

// Store is the full relational contract the ingestion and rebuild
// pipelines depend on.
type Store interface {
	ProjectStore
	DocumentStore
	ChunkStore
	ExtractionCacheStore
	Close() error
}

// leaseWindow bounds how long a PROCESSING document is considered owned by
// the worker that leased it before a watchdog could reasonably reclaim it.
// Not enforced by the stores themselves; recorded here for callers that
// implement a reclaim sweep.
const leaseWindow = 10 * time.Minute
