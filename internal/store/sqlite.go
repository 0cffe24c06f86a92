package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/graphragerr"
)

// sqliteMigrations mirrors postgresMigrations with SQLite-compatible types:
// no JSONB (stored as TEXT), no partial indexes with a boolean predicate
// referencing enum text the way Postgres allows, TEXT timestamps.
var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'NOT_PROCESSED',
		file_name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_project_status ON documents(project_id, status)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		project_id TEXT NOT NULL,
		content TEXT NOT NULL,
		order_index INTEGER NOT NULL,
		tokens INTEGER NOT NULL DEFAULT 0,
		code_meta TEXT,
		cache_ids TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, order_index)`,
	`CREATE TABLE IF NOT EXISTS extraction_cache (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		type TEXT NOT NULL,
		chunk_id TEXT,
		content_hash TEXT NOT NULL,
		result TEXT NOT NULL,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_extraction_cache_lookup ON extraction_cache(project_id, type, content_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_extraction_cache_chunk ON extraction_cache(chunk_id)`,
}

// SQLiteStore is the modernc.org/sqlite-backed Store, for single-node
// deployments that don't want an external Postgres instance. SQLite has no
// SKIP LOCKED; LeaseBatch instead serializes through leaseMu and the pool's
// single connection, running the select and the status flip in one
// default (deferred) transaction. That is sufficient within one process;
// across processes sharing one file only SQLite's own file locking applies.
type SQLiteStore struct {
	db      *sql.DB
	leaseMu sync.Mutex
}

// OpenSQLite opens (creating if absent) the database at dsn and applies
// migrations.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, "", "open sqlite", err)
	}
	db.SetMaxOpenConns(1) // a single writer avoids SQLITE_BUSY without a busy-timeout dance
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, graphragerr.Wrap(graphragerr.StorageTransient, "", "ping sqlite", err)
	}
	for _, stmt := range sqliteMigrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, graphragerr.Wrap(graphragerr.StorageFatal, "", "run migration", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateProject(ctx context.Context, id string) (*domain.Project, error) {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO projects (id) VALUES (?)`, id); err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, id, "create project", err)
	}
	return s.GetProject(ctx, id)
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, id, "delete project", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	p := &domain.Project{ID: id}
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM projects WHERE id = ?`, id).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return nil, graphragerr.New(graphragerr.GraphNotFound, id, "project not found")
	}
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, id, "get project", err)
	}
	p.CreatedAt = parseSQLiteTime(createdAt)
	return p, nil
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *domain.Document) error {
	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, doc.ProjectID, "marshal document metadata", err)
	}
	if doc.Status == "" {
		doc.Status = domain.StatusNotProcessed
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, type, status, file_name, content, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.ProjectID, doc.Type, doc.Status, doc.FileName, doc.Content, string(metaJSON))
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, doc.ProjectID, "create document", err)
	}
	created, err := s.GetDocument(ctx, doc.ProjectID, doc.ID)
	if err != nil {
		return err
	}
	doc.CreatedAt, doc.UpdatedAt = created.CreatedAt, created.UpdatedAt
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, projectID, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, type, status, file_name, content, metadata, created_at, updated_at
		FROM documents WHERE project_id = ? AND id = ?
	`, projectID, id)
	doc, err := scanDocumentRow(row)
	if err == sql.ErrNoRows {
		return nil, graphragerr.New(graphragerr.GraphNotFound, projectID, "document not found: "+id)
	}
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "get document", err)
	}
	return doc, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocumentRow(row scanner) (*domain.Document, error) {
	doc := &domain.Document{}
	var metaJSON, createdAt, updatedAt string
	if err := row.Scan(&doc.ID, &doc.ProjectID, &doc.Type, &doc.Status, &doc.FileName,
		&doc.Content, &metaJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(metaJSON), &doc.Metadata)
	doc.CreatedAt, doc.UpdatedAt = parseSQLiteTime(createdAt), parseSQLiteTime(updatedAt)
	return doc, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, projectID string) ([]*domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, type, status, file_name, content, metadata, created_at, updated_at
		FROM documents WHERE project_id = ? ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "list documents", err)
	}
	defer rows.Close()

	var out []*domain.Document
	for rows.Next() {
		doc, err := scanDocumentRow(rows)
		if err != nil {
			return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "scan document", err)
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, projectID, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE project_id = ? AND id = ?`, projectID, id)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, projectID, "delete document", err)
	}
	return nil
}

// LeaseBatch holds leaseMu for the duration of the claim so two goroutines
// in this process never race on the same lease transaction.
func (s *SQLiteStore) LeaseBatch(ctx context.Context, batchSize int) ([]*domain.Document, error) {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageTransient, "", "begin lease tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, project_id, type, status, file_name, content, metadata, created_at, updated_at
		FROM documents WHERE status = ? ORDER BY created_at LIMIT ?
	`, domain.StatusNotProcessed, batchSize)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageTransient, "", "select lease batch", err)
	}
	var leased []*domain.Document
	for rows.Next() {
		doc, err := scanDocumentRow(rows)
		if err != nil {
			rows.Close()
			return nil, graphragerr.Wrap(graphragerr.StorageTransient, "", "scan lease row", err)
		}
		leased = append(leased, doc)
	}
	rows.Close()

	for _, doc := range leased {
		if _, err := tx.ExecContext(ctx, `UPDATE documents SET status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`,
			domain.StatusProcessing, doc.ID); err != nil {
			return nil, graphragerr.Wrap(graphragerr.StorageTransient, doc.ProjectID, "mark leased document processing", err)
		}
		doc.Status = domain.StatusProcessing
	}

	if err := tx.Commit(); err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageTransient, "", "commit lease tx", err)
	}
	return leased, nil
}

func (s *SQLiteStore) CompleteDocument(ctx context.Context, projectID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE project_id = ? AND id = ?`,
		domain.StatusProcessed, projectID, id)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, projectID, "complete document", err)
	}
	return nil
}

func (s *SQLiteStore) FailDocument(ctx context.Context, projectID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE project_id = ? AND id = ?`,
		domain.StatusNotProcessed, projectID, id)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, projectID, "fail document", err)
	}
	return nil
}

func (s *SQLiteStore) ReplaceChunks(ctx context.Context, documentID string, chunks []*domain.Chunk) error {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageTransient, "", "begin replace-chunks tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, "", "delete existing chunks", err)
	}
	for _, c := range chunks {
		codeJSON, err := json.Marshal(c.Code)
		if err != nil {
			return graphragerr.Wrap(graphragerr.StorageFatal, c.ProjectID, "marshal code meta", err)
		}
		cacheJSON, err := json.Marshal(c.CacheIDs)
		if err != nil {
			return graphragerr.Wrap(graphragerr.StorageFatal, c.ProjectID, "marshal cache ids", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, project_id, content, order_index, tokens, code_meta, cache_ids)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, documentID, c.ProjectID, c.Content, c.OrderIndex, c.Tokens, string(codeJSON), string(cacheJSON)); err != nil {
			return graphragerr.Wrap(graphragerr.StorageFatal, c.ProjectID, "insert chunk", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return graphragerr.Wrap(graphragerr.StorageTransient, "", "commit replace-chunks tx", err)
	}
	return nil
}

func (s *SQLiteStore) ListChunks(ctx context.Context, projectID, documentID string) ([]*domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, project_id, content, order_index, tokens, code_meta, cache_ids
		FROM chunks WHERE project_id = ? AND document_id = ? ORDER BY order_index
	`, projectID, documentID)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "list chunks", err)
	}
	defer rows.Close()
	return scanSQLiteChunkRows(rows)
}

func (s *SQLiteStore) GetChunks(ctx context.Context, projectID string, chunkIDs []string) ([]*domain.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]any, 0, len(chunkIDs)+1)
	placeholders = append(placeholders, projectID)
	query := `SELECT id, document_id, project_id, content, order_index, tokens, code_meta, cache_ids FROM chunks WHERE project_id = ? AND id IN (`
	for i, id := range chunkIDs {
		if i > 0 {
			query += ","
		}
		query += "?"
		placeholders = append(placeholders, id)
	}
	query += ")"

	rows, err := s.db.QueryContext(ctx, query, placeholders...)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "get chunks", err)
	}
	defer rows.Close()
	return scanSQLiteChunkRows(rows)
}

func scanSQLiteChunkRows(rows *sql.Rows) ([]*domain.Chunk, error) {
	var out []*domain.Chunk
	for rows.Next() {
		c := &domain.Chunk{}
		var codeJSON, cacheJSON sql.NullString
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ProjectID, &c.Content, &c.OrderIndex,
			&c.Tokens, &codeJSON, &cacheJSON); err != nil {
			return nil, graphragerr.Wrap(graphragerr.StorageFatal, c.ProjectID, "scan chunk", err)
		}
		if codeJSON.Valid && codeJSON.String != "" && codeJSON.String != "null" {
			var meta domain.CodeMeta
			if json.Unmarshal([]byte(codeJSON.String), &meta) == nil && meta != (domain.CodeMeta{}) {
				c.Code = &meta
			}
		}
		if cacheJSON.Valid {
			_ = json.Unmarshal([]byte(cacheJSON.String), &c.CacheIDs)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteChunksForDocument(ctx context.Context, projectID, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE project_id = ? AND document_id = ?`, projectID, documentID)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, projectID, "delete chunks for document", err)
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, entry *domain.ExtractionCacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extraction_cache (id, project_id, type, chunk_id, content_hash, result, tokens_used)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, type, content_hash)
		DO UPDATE SET result = excluded.result, tokens_used = excluded.tokens_used
	`, entry.ID, entry.ProjectID, entry.Type, entry.ChunkID, entry.ContentHash, entry.Result, entry.TokensUsed)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, entry.ProjectID, "put extraction cache entry", err)
	}
	got, err := s.Get(ctx, entry.ProjectID, entry.Type, entry.ContentHash)
	if err != nil {
		return err
	}
	if got != nil {
		entry.ID, entry.CreatedAt = got.ID, got.CreatedAt
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, projectID string, cacheType domain.CacheType, contentHash string) (*domain.ExtractionCacheEntry, error) {
	e := &domain.ExtractionCacheEntry{}
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, type, chunk_id, content_hash, result, tokens_used, created_at
		FROM extraction_cache WHERE project_id = ? AND type = ? AND content_hash = ?
	`, projectID, cacheType, contentHash).Scan(
		&e.ID, &e.ProjectID, &e.Type, &e.ChunkID, &e.ContentHash, &e.Result, &e.TokensUsed, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "get extraction cache entry", err)
	}
	e.CreatedAt = parseSQLiteTime(createdAt)
	return e, nil
}

func (s *SQLiteStore) GetByChunkIDs(ctx context.Context, projectID string, cacheType domain.CacheType, chunkIDs []string) ([]*domain.ExtractionCacheEntry, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(chunkIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(chunkIDs)+2)
	args = append(args, projectID, cacheType)
	for _, id := range chunkIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, type, chunk_id, content_hash, result, tokens_used, created_at
		FROM extraction_cache WHERE project_id = ? AND type = ? AND chunk_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "get extraction cache entries by chunk", err)
	}
	defer rows.Close()

	var out []*domain.ExtractionCacheEntry
	for rows.Next() {
		e := &domain.ExtractionCacheEntry{}
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Type, &e.ChunkID, &e.ContentHash, &e.Result, &e.TokensUsed, &createdAt); err != nil {
			return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "scan extraction cache entry", err)
		}
		e.CreatedAt = parseSQLiteTime(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageFatal, projectID, "iterate extraction cache entries", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteForDocument(ctx context.Context, projectID, documentID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM extraction_cache
		WHERE project_id = ? AND chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)
	`, projectID, documentID)
	if err != nil {
		return graphragerr.Wrap(graphragerr.StorageFatal, projectID, "delete extraction cache for document", err)
	}
	return nil
}

func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02T15:04:05.999Z", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
