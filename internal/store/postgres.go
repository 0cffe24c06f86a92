package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/graphragerr"
)

// postgresMigrations creates the four tables this package owns. Run once at
// startup; each statement is idempotent so repeated runs are harmless.
var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'NOT_PROCESSED',
		file_name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_project_status ON documents(project_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_lease ON documents(status, created_at) WHERE status = 'NOT_PROCESSED'`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		project_id TEXT NOT NULL,
		content TEXT NOT NULL,
		order_index INTEGER NOT NULL,
		tokens INTEGER NOT NULL DEFAULT 0,
		code_meta JSONB,
		cache_ids JSONB NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, order_index)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_project ON chunks(project_id)`,
	`CREATE TABLE IF NOT EXISTS extraction_cache (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		type TEXT NOT NULL,
		chunk_id TEXT,
		content_hash TEXT NOT NULL,
		result TEXT NOT NULL,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_extraction_cache_lookup ON extraction_cache(project_id, type, content_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_extraction_cache_chunk ON extraction_cache(chunk_id)`,
}

// PostgresStore is the pgx/v5-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects and applies migrations.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, "", "connect to postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, graphragerr.Wrap(graphragerr.StorageTransient, "", "ping postgres", err)
	}
	for _, stmt := range postgresMigrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, graphragerr.Wrap(graphragerr.StorageFatal, "", "run migration", err)
		}
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, id string) (*domain.Project, error) {
	p := &domain.Project{ID: id}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO projects (id) VALUES ($1) RETURNING created_at`, id,
	).Scan(&p.CreatedAt)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, id, "create project", err)
	}
	return p, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, id, "delete project", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	p := &domain.Project{ID: id}
	err := s.pool.QueryRow(ctx, `SELECT created_at FROM projects WHERE id = $1`, id).Scan(&p.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, graphragerr.New(graphragerr.GraphNotFound, id, "project not found")
	}
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, id, "get project", err)
	}
	return p, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *domain.Document) error {
	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, doc.ProjectID, "marshal document metadata", err)
	}
	if doc.Status == "" {
		doc.Status = domain.StatusNotProcessed
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO documents (id, project_id, type, status, file_name, content, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, doc.ID, doc.ProjectID, doc.Type, doc.Status, doc.FileName, doc.Content, metaJSON,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, doc.ProjectID, "create document", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, projectID, id string) (*domain.Document, error) {
	doc := &domain.Document{}
	var metaJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, type, status, file_name, content, metadata, created_at, updated_at
		FROM documents WHERE project_id = $1 AND id = $2
	`, projectID, id).Scan(&doc.ID, &doc.ProjectID, &doc.Type, &doc.Status, &doc.FileName,
		&doc.Content, &metaJSON, &doc.CreatedAt, &doc.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, graphragerr.New(graphragerr.GraphNotFound, projectID, "document not found: "+id)
	}
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "get document", err)
	}
	_ = json.Unmarshal(metaJSON, &doc.Metadata)
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, projectID string) ([]*domain.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, type, status, file_name, content, metadata, created_at, updated_at
		FROM documents WHERE project_id = $1 ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "list documents", err)
	}
	defer rows.Close()

	var out []*domain.Document
	for rows.Next() {
		doc := &domain.Document{}
		var metaJSON []byte
		if err := rows.Scan(&doc.ID, &doc.ProjectID, &doc.Type, &doc.Status, &doc.FileName,
			&doc.Content, &metaJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "scan document", err)
		}
		_ = json.Unmarshal(metaJSON, &doc.Metadata)
		out = append(out, doc)
	}
	return out, nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, projectID, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE project_id = $1 AND id = $2`, projectID, id)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, projectID, "delete document", err)
	}
	return nil
}

// LeaseBatch locks up to batchSize NOT_PROCESSED rows with SKIP LOCKED so
// concurrent scheduler instances never double-lease the same document, then
// flips them to PROCESSING within the same transaction.
func (s *PostgresStore) LeaseBatch(ctx context.Context, batchSize int) ([]*domain.Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageTransient, "", "begin lease tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, project_id, type, status, file_name, content, metadata, created_at, updated_at
		FROM documents
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, domain.StatusNotProcessed, batchSize)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageTransient, "", "select lease batch", err)
	}

	var leased []*domain.Document
	for rows.Next() {
		doc := &domain.Document{}
		var metaJSON []byte
		if err := rows.Scan(&doc.ID, &doc.ProjectID, &doc.Type, &doc.Status, &doc.FileName,
			&doc.Content, &metaJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			rows.Close()
			return nil, graphragerr.Wrap(graphragerr.StorageTransient, "", "scan lease row", err)
		}
		_ = json.Unmarshal(metaJSON, &doc.Metadata)
		leased = append(leased, doc)
	}
	rows.Close()

	for _, doc := range leased {
		if _, err := tx.Exec(ctx, `UPDATE documents SET status = $1, updated_at = NOW() WHERE id = $2`,
			domain.StatusProcessing, doc.ID); err != nil {
			return nil, graphragerr.Wrap(graphragerr.StorageTransient, doc.ProjectID, "mark leased document processing", err)
		}
		doc.Status = domain.StatusProcessing
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageTransient, "", "commit lease tx", err)
	}
	return leased, nil
}

func (s *PostgresStore) CompleteDocument(ctx context.Context, projectID, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = NOW() WHERE project_id = $2 AND id = $3`,
		domain.StatusProcessed, projectID, id)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, projectID, "complete document", err)
	}
	return nil
}

func (s *PostgresStore) FailDocument(ctx context.Context, projectID, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = NOW() WHERE project_id = $2 AND id = $3`,
		domain.StatusNotProcessed, projectID, id)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, projectID, "fail document", err)
	}
	return nil
}

func (s *PostgresStore) ReplaceChunks(ctx context.Context, documentID string, chunks []*domain.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageTransient, "", "begin replace-chunks tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, "", "delete existing chunks", err)
	}

	for _, c := range chunks {
		var codeJSON, cacheJSON []byte
		codeJSON, err = json.Marshal(c.Code)
		if err != nil {
			return graphragerr.Wrap(graphragerr.StorageFatal, c.ProjectID, "marshal code meta", err)
		}
		cacheJSON, err = json.Marshal(c.CacheIDs)
		if err != nil {
			return graphragerr.Wrap(graphragerr.StorageFatal, c.ProjectID, "marshal cache ids", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, document_id, project_id, content, order_index, tokens, code_meta, cache_ids)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, c.ID, documentID, c.ProjectID, c.Content, c.OrderIndex, c.Tokens, codeJSON, cacheJSON); err != nil {
			return graphragerr.Wrap(graphragerr.StorageFatal, c.ProjectID, "insert chunk", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return graphragerr.Wrap(graphragerr.StorageTransient, "", "commit replace-chunks tx", err)
	}
	return nil
}

func (s *PostgresStore) ListChunks(ctx context.Context, projectID, documentID string) ([]*domain.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, project_id, content, order_index, tokens, code_meta, cache_ids
		FROM chunks WHERE project_id = $1 AND document_id = $2 ORDER BY order_index
	`, projectID, documentID)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "list chunks", err)
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func (s *PostgresStore) GetChunks(ctx context.Context, projectID string, chunkIDs []string) ([]*domain.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, project_id, content, order_index, tokens, code_meta, cache_ids
		FROM chunks WHERE project_id = $1 AND id = ANY($2)
	`, projectID, chunkIDs)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "get chunks", err)
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func scanChunkRows(rows pgx.Rows) ([]*domain.Chunk, error) {
	var out []*domain.Chunk
	for rows.Next() {
		c := &domain.Chunk{}
		var codeJSON, cacheJSON []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ProjectID, &c.Content, &c.OrderIndex,
			&c.Tokens, &codeJSON, &cacheJSON); err != nil {
			return nil, graphragerr.Wrap(graphragerr.StorageFatal, c.ProjectID, "scan chunk", err)
		}
		if len(codeJSON) > 0 {
			var meta domain.CodeMeta
			if json.Unmarshal(codeJSON, &meta) == nil && meta != (domain.CodeMeta{}) {
				c.Code = &meta
			}
		}
		_ = json.Unmarshal(cacheJSON, &c.CacheIDs)
		out = append(out, c)
	}
	return out, nil
}

func (s *PostgresStore) DeleteChunksForDocument(ctx context.Context, projectID, documentID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE project_id = $1 AND document_id = $2`, projectID, documentID)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, projectID, "delete chunks for document", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, entry *domain.ExtractionCacheEntry) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO extraction_cache (id, project_id, type, chunk_id, content_hash, result, tokens_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, type, content_hash)
		DO UPDATE SET result = EXCLUDED.result, tokens_used = EXCLUDED.tokens_used
		RETURNING created_at
	`, entry.ID, entry.ProjectID, entry.Type, entry.ChunkID, entry.ContentHash, entry.Result, entry.TokensUsed,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, entry.ProjectID, "put extraction cache entry", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, projectID string, cacheType domain.CacheType, contentHash string) (*domain.ExtractionCacheEntry, error) {
	e := &domain.ExtractionCacheEntry{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, type, chunk_id, content_hash, result, tokens_used, created_at
		FROM extraction_cache WHERE project_id = $1 AND type = $2 AND content_hash = $3
	`, projectID, cacheType, contentHash).Scan(
		&e.ID, &e.ProjectID, &e.Type, &e.ChunkID, &e.ContentHash, &e.Result, &e.TokensUsed, &e.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "get extraction cache entry", err)
	}
	return e, nil
}

func (s *PostgresStore) GetByChunkIDs(ctx context.Context, projectID string, cacheType domain.CacheType, chunkIDs []string) ([]*domain.ExtractionCacheEntry, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, type, chunk_id, content_hash, result, tokens_used, created_at
		FROM extraction_cache WHERE project_id = $1 AND type = $2 AND chunk_id = ANY($3)
	`, projectID, cacheType, chunkIDs)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "get extraction cache entries by chunk", err)
	}
	defer rows.Close()

	var out []*domain.ExtractionCacheEntry
	for rows.Next() {
		e := &domain.ExtractionCacheEntry{}
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Type, &e.ChunkID, &e.ContentHash, &e.Result, &e.TokensUsed, &e.CreatedAt); err != nil {
			return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "scan extraction cache entry", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "iterate extraction cache entries", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteForDocument(ctx context.Context, projectID, documentID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM extraction_cache
		WHERE project_id = $1 AND chunk_id IN (SELECT id FROM chunks WHERE document_id = $2)
	`, projectID, documentID)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, projectID, "delete extraction cache for document", err)
	}
	return nil
}
