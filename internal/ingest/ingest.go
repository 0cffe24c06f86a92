// Package ingest runs the two cooperating jobs that turn a leased
// NOT_PROCESSED document into graph and vector state: a marker that claims
// batches of documents, and a processor that chunks, extracts, summarizes,
// and stores them, reverting a document to NOT_PROCESSED on any failure so
// the next marking pass retries it.
package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vasic-digital/graphrag-core/internal/codechunk"
	"github.com/vasic-digital/graphrag-core/internal/config"
	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/extract"
	"github.com/vasic-digital/graphrag-core/internal/langdetect"
	"github.com/vasic-digital/graphrag-core/internal/llmclient"
	"github.com/vasic-digital/graphrag-core/internal/store"
	"github.com/vasic-digital/graphrag-core/internal/summarize"
	"github.com/vasic-digital/graphrag-core/internal/tokenchunk"
)

// defaultChunkMaxTokens and defaultChunkOverlapTokens size the sliding
// window C1/C3 chunk with; there is no per-project override in the
// recognized configuration, so every project shares these.
const (
	defaultChunkMaxTokens     = 1200
	defaultChunkOverlapTokens = 100
)

// namespaceManager is the narrow slice of *namespace.Manager the scheduler
// needs: ensure a project's graph database exists before writing to it.
type namespaceManager interface {
	Exists(ctx context.Context, projectID string) (bool, error)
	Create(ctx context.Context, projectID string) error
}

// graphWriter is the narrow slice of *graphstore.Store the scheduler needs.
type graphWriter interface {
	UpsertEntities(ctx context.Context, projectID string, entities []domain.Entity, separator string) error
	UpsertRelation(ctx context.Context, projectID string, r domain.Relation, separator string) error
}

// vectorWriter is the narrow slice of *vectorstore.Store the scheduler needs.
type vectorWriter interface {
	UpsertChunks(ctx context.Context, projectID string, rows []domain.VectorRow) error
	UpsertEntities(ctx context.Context, projectID string, rows []domain.VectorRow) error
	HasDocument(ctx context.Context, projectID, documentID string) (bool, error)
}

// blobWriter is the narrow slice of *blobstore.Store the scheduler needs.
// It may be nil, in which case original bytes are not archived.
type blobWriter interface {
	Put(ctx context.Context, projectID, documentID string, content io.Reader, size int64, contentType string) error
}

type entityExtractor interface {
	Chunk(ctx context.Context, projectID string, chunk domain.Chunk, sourceFilePath string) (extract.Result, error)
}

type descriptionSummarizer interface {
	Summarize(ctx context.Context, projectID, name string, descriptions []string) (summarize.Result, error)
}

// Scheduler owns the marker and processor background loops.
type Scheduler struct {
	docs    store.DocumentStore
	chunks  store.ChunkStore
	graph   graphWriter
	vectors vectorWriter
	blobs   blobWriter
	ns      namespaceManager

	embedder   llmclient.Embedder
	embedModel string
	extractor  entityExtractor
	summarizer descriptionSummarizer

	cfg       config.ScheduleConfig
	entityCfg config.EntityConfig
	separator string
	log       *logrus.Logger

	leased  chan *domain.Document
	marking int32

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// New builds a Scheduler. blobs may be nil to skip original-byte archival.
func New(
	docs store.DocumentStore,
	chunks store.ChunkStore,
	graph graphWriter,
	vectors vectorWriter,
	blobs blobWriter,
	ns namespaceManager,
	embedder llmclient.Embedder,
	embedModel string,
	extractor entityExtractor,
	summarizer descriptionSummarizer,
	cfg config.ScheduleConfig,
	entityCfg config.EntityConfig,
	separator string,
	log *logrus.Logger,
) *Scheduler {
	cfg.SetDefaults()
	entityCfg.SetDefaults()
	if separator == "" {
		separator = " | "
	}
	if log == nil {
		log = logrus.New()
	}
	return &Scheduler{
		docs: docs, chunks: chunks, graph: graph, vectors: vectors, blobs: blobs, ns: ns,
		embedder: embedder, embedModel: embedModel, extractor: extractor, summarizer: summarizer,
		cfg: cfg, entityCfg: entityCfg, separator: separator, log: log,
		leased: make(chan *domain.Document, cfg.BatchSize*4),
	}
}

// Start launches the marker and processor loops. It is not reentrant: call
// Stop before calling Start again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("ingestion scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.log.WithFields(logrus.Fields{
		"marking_period":    s.cfg.Marking,
		"processing_period": s.cfg.Processing,
		"batch_size":        s.cfg.BatchSize,
	}).Info("starting ingestion scheduler")

	s.wg.Add(2)
	go s.markerLoop()
	go s.processorLoop()

	s.started = true
	return nil
}

// Stop cancels both loops and waits up to gracePeriod for them to exit.
func (s *Scheduler) Stop(gracePeriod time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("ingestion scheduler stopped")
	case <-time.After(gracePeriod):
		s.log.Warn("ingestion scheduler stop timed out")
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) markerLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Marking)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runMarker()
		}
	}
}

// runMarker leases a batch of NOT_PROCESSED documents and hands them to the
// processor over a channel. It is single-threaded by construction: the
// atomic guard skips a tick if the previous lease pass is still draining.
func (s *Scheduler) runMarker() {
	if !atomic.CompareAndSwapInt32(&s.marking, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&s.marking, 0)

	docs, err := s.docs.LeaseBatch(s.ctx, s.cfg.BatchSize)
	if err != nil {
		s.log.WithError(err).Warn("lease batch failed")
		return
	}
	if len(docs) == 0 {
		return
	}
	s.log.WithField("count", len(docs)).Debug("leased documents for processing")

	for _, doc := range docs {
		select {
		case s.leased <- doc:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processorLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Processing)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.drainLeased()
		}
	}
}

// drainLeased processes every document currently queued, one at a time:
// the processor is single-threaded so a project's documents are never
// touched by two goroutines concurrently.
func (s *Scheduler) drainLeased() {
	for {
		select {
		case doc := <-s.leased:
			s.processDocument(s.ctx, doc)
		default:
			return
		}
	}
}

func (s *Scheduler) processDocument(ctx context.Context, doc *domain.Document) {
	log := s.log.WithFields(logrus.Fields{"project_id": doc.ProjectID, "document_id": doc.ID})

	if err := s.runDocument(ctx, doc); err != nil {
		log.WithError(err).Warn("document processing failed, reverting to NOT_PROCESSED")
		if failErr := s.docs.FailDocument(ctx, doc.ProjectID, doc.ID); failErr != nil {
			log.WithError(failErr).Error("failed to revert document status")
		}
		return
	}

	if err := s.docs.CompleteDocument(ctx, doc.ProjectID, doc.ID); err != nil {
		log.WithError(err).Error("failed to mark document processed")
		return
	}
	log.Info("document processed")
}

// runDocument runs the full ensure-namespace -> chunk -> embed -> extract ->
// summarize -> store pipeline for one document.
func (s *Scheduler) runDocument(ctx context.Context, doc *domain.Document) error {
	recovered, err := s.vectors.HasDocument(ctx, doc.ProjectID, doc.ID)
	if err != nil {
		return err
	}
	if recovered {
		s.log.WithField("document_id", doc.ID).Info("vectors already present, treating as recovered")
		return nil
	}

	if err := s.ensureNamespace(ctx, doc.ProjectID); err != nil {
		return err
	}

	if s.blobs != nil {
		if err := s.blobs.Put(ctx, doc.ProjectID, doc.ID, strings.NewReader(doc.Content), int64(len(doc.Content)), "text/plain"); err != nil {
			return err
		}
	}

	chunks, err := s.chunkDocument(doc)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	if err := s.chunks.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return err
	}
	if err := s.embedAndStoreChunks(ctx, doc.ProjectID, chunks); err != nil {
		return err
	}

	entities, relations, err := s.extractDocument(ctx, doc, chunks)
	if err != nil {
		return err
	}
	// Persist the cache ids extraction stamped onto each chunk so a later
	// rebuild can look up that chunk's cached extractions directly.
	if err := s.chunks.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return err
	}
	if err := s.storeEntities(ctx, doc.ProjectID, entities); err != nil {
		return err
	}
	s.storeRelations(ctx, doc.ProjectID, relations)
	return nil
}

func (s *Scheduler) ensureNamespace(ctx context.Context, projectID string) error {
	exists, err := s.ns.Exists(ctx, projectID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.ns.Create(ctx, projectID)
}

// chunkDocument runs C2 (binary rejection) then dispatches to C3 (code) or
// C1 (prose). A binary document has nothing ingestible and is treated as a
// vacuous success rather than a retryable failure.
func (s *Scheduler) chunkDocument(doc *domain.Document) ([]*domain.Chunk, error) {
	content := []byte(doc.Content)
	if langdetect.IsBinary(doc.FileName, content) {
		s.log.WithField("document_id", doc.ID).Info("binary document, skipping chunking")
		return nil, nil
	}

	if doc.Type == domain.DocumentCode {
		detection := langdetect.DetectLanguage(doc.FileName, content)
		raw := codechunk.Chunk(doc.Content, defaultChunkMaxTokens, defaultChunkOverlapTokens)
		out := make([]*domain.Chunk, 0, len(raw))
		for _, c := range raw {
			out = append(out, &domain.Chunk{
				ID:         uuid.NewString(),
				DocumentID: doc.ID,
				ProjectID:  doc.ProjectID,
				Content:    c.Content,
				OrderIndex: c.OrderIndex,
				Tokens:     tokenchunk.CountTokens(c.Content),
				Code: &domain.CodeMeta{
					Language:  detection.Language,
					StartLine: c.StartLine,
					EndLine:   c.EndLine,
					ScopeName: c.ScopeName,
					ScopeType: domain.ScopeType(c.ScopeType),
					ChunkType: string(c.ChunkType),
				},
			})
		}
		return out, nil
	}

	raw := tokenchunk.Chunk(doc.Content, defaultChunkMaxTokens, defaultChunkOverlapTokens)
	out := make([]*domain.Chunk, 0, len(raw))
	for _, c := range raw {
		out = append(out, &domain.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			ProjectID:  doc.ProjectID,
			Content:    c.Content,
			OrderIndex: c.OrderIndex,
			Tokens:     c.Tokens,
		})
	}
	return out, nil
}

func (s *Scheduler) embedAndStoreChunks(ctx context.Context, projectID string, chunks []*domain.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, _, err := s.embedder.Embed(ctx, s.embedModel, texts)
	if err != nil {
		return err
	}

	rows := make([]domain.VectorRow, 0, len(chunks))
	for i, c := range chunks {
		if i >= len(vectors) {
			break
		}
		rows = append(rows, domain.VectorRow{
			ProjectID:  projectID,
			Kind:       domain.VectorChunk,
			DocumentID: c.DocumentID,
			ChunkID:    c.ID,
			Content:    c.Content,
			Embedding:  vectors[i],
		})
	}
	return s.vectors.UpsertChunks(ctx, projectID, rows)
}

// entityAccumulator collects every description, source chunk id, and file
// path a named entity picked up across every chunk of one document.
type entityAccumulator struct {
	entityType   string
	descriptions []string
	chunkIDs     []string
	filePaths    []string
}

// relationAccumulator is the same bookkeeping for a (source, target,
// keywords) relation triple.
type relationAccumulator struct {
	source, target, keywords string
	descriptions             []string
	weight                   float64
	chunkIDs                 []string
	filePaths                []string
}

func relationKey(source, target, keywords string) string {
	return source + "\x00" + target + "\x00" + keywords
}

// extractDocument runs C8 (with gleaning) over every chunk, then groups the
// resulting entities/relations by identity so each gets exactly one C9
// summarization pass over its accumulated descriptions for this document,
// matching a single storage transaction per document batch rather than one
// per chunk. It also stamps each chunk (in place) with the cache entry ids
// its extraction used, for a later rebuild to read back.
func (s *Scheduler) extractDocument(ctx context.Context, doc *domain.Document, chunks []*domain.Chunk) ([]domain.Entity, []domain.Relation, error) {
	projectID := doc.ProjectID
	entityAcc := make(map[string]*entityAccumulator)
	relationAcc := make(map[string]*relationAccumulator)

	for _, chunk := range chunks {
		result, err := s.extractor.Chunk(ctx, projectID, *chunk, doc.FileName)
		if err != nil {
			return nil, nil, err
		}
		chunk.CacheIDs = result.CacheIDs

		for _, e := range result.Entities {
			acc, ok := entityAcc[e.Name]
			if !ok {
				acc = &entityAccumulator{entityType: e.Type}
				entityAcc[e.Name] = acc
			}
			if e.Description != "" {
				acc.descriptions = append(acc.descriptions, e.Description)
			}
			acc.chunkIDs = append(acc.chunkIDs, e.SourceChunkIDs...)
			acc.filePaths = append(acc.filePaths, e.SourceFilePaths...)
		}

		for _, r := range result.Relations {
			key := relationKey(r.Source, r.Target, r.Keywords)
			acc, ok := relationAcc[key]
			if !ok {
				acc = &relationAccumulator{source: r.Source, target: r.Target, keywords: r.Keywords}
				relationAcc[key] = acc
			}
			if r.Description != "" {
				acc.descriptions = append(acc.descriptions, r.Description)
			}
			acc.weight += r.Weight
			acc.chunkIDs = append(acc.chunkIDs, r.SourceChunkIDs...)
			acc.filePaths = append(acc.filePaths, r.SourceFilePaths...)
		}
	}

	entities := make([]domain.Entity, 0, len(entityAcc))
	for name, acc := range entityAcc {
		result, err := s.summarizer.Summarize(ctx, projectID, name, acc.descriptions)
		if err != nil {
			return nil, nil, err
		}
		if result.Warning != "" {
			s.log.WithFields(logrus.Fields{"entity": name}).Warn(result.Warning)
		}
		entities = append(entities, domain.Entity{
			Name:            name,
			Type:            acc.entityType,
			Description:     result.Description,
			SourceChunkIDs:  capFIFO(acc.chunkIDs, s.entityCfg.MaxSourceIDs),
			SourceFilePaths: capFIFO(acc.filePaths, s.entityCfg.MaxSourceIDs),
		})
	}

	relations := make([]domain.Relation, 0, len(relationAcc))
	for key, acc := range relationAcc {
		result, err := s.summarizer.Summarize(ctx, projectID, key, acc.descriptions)
		if err != nil {
			return nil, nil, err
		}
		relations = append(relations, domain.Relation{
			Source:          acc.source,
			Target:          acc.target,
			Keywords:        acc.keywords,
			Description:     result.Description,
			Weight:          acc.weight,
			SourceChunkIDs:  capFIFO(acc.chunkIDs, s.entityCfg.MaxSourceIDs),
			SourceFilePaths: capFIFO(acc.filePaths, s.entityCfg.MaxSourceIDs),
		})
	}

	return entities, relations, nil
}

func capFIFO(ids []string, max int) []string {
	if max <= 0 || len(ids) <= max {
		return ids
	}
	return ids[len(ids)-max:]
}

func (s *Scheduler) storeEntities(ctx context.Context, projectID string, entities []domain.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	if err := s.graph.UpsertEntities(ctx, projectID, entities, s.separator); err != nil {
		return err
	}

	texts := make([]string, len(entities))
	for i, e := range entities {
		texts[i] = e.Description
	}
	vectors, _, err := s.embedder.Embed(ctx, s.embedModel, texts)
	if err != nil {
		return err
	}

	rows := make([]domain.VectorRow, 0, len(entities))
	for i, e := range entities {
		if i >= len(vectors) {
			break
		}
		rows = append(rows, domain.VectorRow{
			ProjectID:  projectID,
			Kind:       domain.VectorEntity,
			EntityName: e.Name,
			Content:    e.Description,
			Embedding:  vectors[i],
		})
	}
	return s.vectors.UpsertEntities(ctx, projectID, rows)
}

// storeRelations upserts each relation independently: a self-loop rejected
// by the graph store is a data-quality issue in one triple, not a reason to
// fail the whole document.
func (s *Scheduler) storeRelations(ctx context.Context, projectID string, relations []domain.Relation) {
	for _, r := range relations {
		if err := s.graph.UpsertRelation(ctx, projectID, r, s.separator); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"source": r.Source, "target": r.Target,
			}).Warn("skipping relation")
		}
	}
}
