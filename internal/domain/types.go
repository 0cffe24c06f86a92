// Package domain holds the data model shared across the ingestion and
// query pipelines: Project, Document, Chunk, Entity, Relation,
// ExtractionCacheEntry, VectorRow, and KeywordResult. Keeping these in one
// leaf package (rather than duplicated per-store) avoids the import
// cycles a repository-per-package layout would otherwise create between
// internal/store, internal/graphstore, and internal/vectorstore.
package domain

import "time"

// DocumentType enumerates the recognized document kinds.
type DocumentType string

const (
	DocumentFile    DocumentType = "FILE"
	DocumentText    DocumentType = "TEXT"
	DocumentWebsite DocumentType = "WEBSITE"
	DocumentCode    DocumentType = "CODE"
)

// DocumentStatus is the strict ingestion state machine.
type DocumentStatus string

const (
	StatusNotProcessed DocumentStatus = "NOT_PROCESSED"
	StatusProcessing   DocumentStatus = "PROCESSING"
	StatusProcessed    DocumentStatus = "PROCESSED"
)

// Project is the tenant boundary: root of isolation, owner of exactly one
// graph namespace and one vector-index slice.
type Project struct {
	ID        string
	CreatedAt time.Time
}

// Document is a single ingestible unit belonging to a Project.
type Document struct {
	ID        string
	ProjectID string
	Type      DocumentType
	Status    DocumentStatus
	FileName  string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScopeType mirrors codechunk.ScopeType for chunks persisted to storage.
type ScopeType string

const (
	ScopeClass    ScopeType = "CLASS"
	ScopeFunction ScopeType = "FUNCTION"
	ScopeModule   ScopeType = "MODULE"
	ScopeFile     ScopeType = "FILE"
)

// CodeMeta carries the optional code-chunk metadata.
type CodeMeta struct {
	Language  string
	StartLine int
	EndLine   int
	ScopeName string
	ScopeType ScopeType
	ChunkType string
}

// Chunk is an ordered, contiguous segment of a Document's content.
type Chunk struct {
	ID         string
	DocumentID string
	ProjectID  string
	Content    string
	OrderIndex int
	Tokens     int
	Code       *CodeMeta
	CacheIDs   []string
}

// Entity is a named vertex in a project's graph.
type Entity struct {
	Name            string
	Type            string
	Description     string
	SourceChunkIDs  []string
	SourceFilePaths []string
}

// Relation is a directed, keyed edge between two entities.
type Relation struct {
	Source          string
	Target          string
	Keywords        string
	Description     string
	Weight          float64
	SourceChunkIDs  []string
	SourceFilePaths []string
}

// CacheType enumerates the extraction-cache entry kinds.
type CacheType string

const (
	CacheEntityExtraction  CacheType = "ENTITY_EXTRACTION"
	CacheGleaning          CacheType = "GLEANING"
	CacheSummarization     CacheType = "SUMMARIZATION"
	CacheKeywordExtraction CacheType = "KEYWORD_EXTRACTION"
)

// ExtractionCacheEntry is a persisted raw LLM output keyed by content hash.
type ExtractionCacheEntry struct {
	ID          string
	ProjectID   string
	Type        CacheType
	ChunkID     *string
	ContentHash string
	Result      string
	TokensUsed  int
	CreatedAt   time.Time
}

// VectorKind distinguishes the two payload shapes a VectorRow can carry.
type VectorKind string

const (
	VectorChunk  VectorKind = "chunk"
	VectorEntity VectorKind = "entity"
)

// VectorRow is a single embedded row in the vector index.
type VectorRow struct {
	ID         string
	ProjectID  string
	Kind       VectorKind
	DocumentID string // set iff Kind == VectorChunk
	ChunkID    string // set iff Kind == VectorChunk
	EntityName string // set iff Kind == VectorEntity
	Content    string
	Embedding  []float32
	Metadata   map[string]any
}

// KeywordResult is the cached output of query keyword extraction.
type KeywordResult struct {
	HighLevel []string
	LowLevel  []string
	QueryHash string
}

// SourceChunk is a piece of retrieved evidence returned to query callers.
type SourceChunk struct {
	ChunkID        string
	DocumentID     string
	Content        string
	ChunkIndex     int
	SourceLabel    string
	RelevanceScore float64
}
