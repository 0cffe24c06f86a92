// Package rebuild implements document deletion: removing a document's
// chunks and embeddings while repairing the entities and relations that
// referenced them, rather than leaving the graph with dangling provenance.
// An entity or relation that survives has its description regenerated by
// re-running summarization over the cached extractions of the chunks that
// still exist, so the deleted document's content does not linger in a
// description it merely contributed to; only when no cached extraction
// mentions it anymore does the prior description carry over unchanged.
package rebuild

import (
	"context"
	"strings"

	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/extract"
	"github.com/vasic-digital/graphrag-core/internal/graphragerr"
	"github.com/vasic-digital/graphrag-core/internal/store"
	"github.com/vasic-digital/graphrag-core/internal/summarize"
)

// graphRebuilder is the narrow slice of *graphstore.Store the service needs.
type graphRebuilder interface {
	GetEntitiesBySourceChunks(ctx context.Context, projectID string, chunkIDs []string) (map[string]struct{}, error)
	GetRelationsBySourceChunks(ctx context.Context, projectID string, chunkIDs []string) (map[string]struct{}, error)
	GetEntity(ctx context.Context, projectID, name string) (*domain.Entity, error)
	GetAllRelations(ctx context.Context, projectID string) ([]domain.Relation, error)
	DeleteEntities(ctx context.Context, projectID string, names []string) error
	DeleteRelations(ctx context.Context, projectID string, keys []domain.Relation) error
	UpdateEntityDescription(ctx context.Context, projectID, name, description string, sourceChunkIDs []string) error
	UpdateRelationProvenance(ctx context.Context, projectID, source, target, keywords, description string, sourceChunkIDs []string) error
}

// vectorRebuilder is the narrow slice of *vectorstore.Store the service needs.
type vectorRebuilder interface {
	DeleteByDocument(ctx context.Context, projectID, documentID string) error
	DeleteEntityEmbeddings(ctx context.Context, projectID string, names []string) error
	DeleteChunkEmbeddings(ctx context.Context, projectID string, chunkIDs []string) error
}

// summarizer is the narrow slice of *summarize.Summarizer the service needs.
type summarizer interface {
	Summarize(ctx context.Context, projectID, name string, descriptions []string) (summarize.Result, error)
}

// Result reports what a deletion pass did.
type Result struct {
	EntitiesDeleted  []string
	EntitiesRebuilt  []string
	RelationsDeleted int
	RelationsRebuilt int
	ChunksDeleted    int
	Errors           []string
}

// Service runs the deletion/rebuild flow.
type Service struct {
	graph   graphRebuilder
	vectors vectorRebuilder
	chunks  store.ChunkStore
	docs    store.DocumentStore
	cache   store.ExtractionCacheStore
	summary summarizer
}

// New builds a Service.
func New(graph graphRebuilder, vectors vectorRebuilder, chunks store.ChunkStore, docs store.DocumentStore, cache store.ExtractionCacheStore, summary summarizer) *Service {
	return &Service{graph: graph, vectors: vectors, chunks: chunks, docs: docs, cache: cache, summary: summary}
}

// DeleteDocument removes a document's chunks and embeddings and repairs
// every entity/relation that referenced one of those chunks: an entity (or
// relation) whose remaining sources become empty, or skipRebuild is set, is
// deleted outright; otherwise it is kept with the deleted chunk ids pruned
// from its provenance list.
//
// There is no single cross-store transaction spanning Neo4j, Qdrant, and
// the relational store: each step runs in a fixed, recoverable order
// (graph repair, then vector deletes, then relational deletes) and a
// failure in one entity/relation's repair is recorded in Result.Errors
// rather than aborting the whole pass, so one bad record cannot block
// cleanup of everything else.
func (s *Service) DeleteDocument(ctx context.Context, projectID, documentID string, skipRebuild bool) (Result, error) {
	if projectID == "" {
		return Result{}, graphragerr.New(graphragerr.MissingProjectID, projectID, "delete document requires a project id")
	}

	chunks, err := s.chunks.ListChunks(ctx, projectID, documentID)
	if err != nil {
		return Result{}, err
	}
	chunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = c.ID
	}
	deleted := toSet(chunkIDs)

	result := Result{}

	deletedEntities, rebuiltEntities, errs := s.repairEntities(ctx, projectID, chunkIDs, deleted, skipRebuild)
	result.EntitiesDeleted = deletedEntities
	result.EntitiesRebuilt = rebuiltEntities
	result.Errors = append(result.Errors, errs...)

	relationsDeleted, relationsRebuilt, errs := s.repairRelations(ctx, projectID, chunkIDs, deleted, toSet(deletedEntities), skipRebuild)
	result.RelationsDeleted = relationsDeleted
	result.RelationsRebuilt = relationsRebuilt
	result.Errors = append(result.Errors, errs...)

	if err := s.vectors.DeleteByDocument(ctx, projectID, documentID); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	if len(deletedEntities) > 0 {
		if err := s.vectors.DeleteEntityEmbeddings(ctx, projectID, deletedEntities); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}
	if len(chunkIDs) > 0 {
		if err := s.vectors.DeleteChunkEmbeddings(ctx, projectID, chunkIDs); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	if err := s.chunks.DeleteChunksForDocument(ctx, projectID, documentID); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	if err := s.cache.DeleteForDocument(ctx, projectID, documentID); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	if err := s.docs.DeleteDocument(ctx, projectID, documentID); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	result.ChunksDeleted = len(chunkIDs)

	return result, nil
}

func (s *Service) repairEntities(ctx context.Context, projectID string, chunkIDs []string, deleted map[string]struct{}, skipRebuild bool) ([]string, []string, []string) {
	if len(chunkIDs) == 0 {
		return nil, nil, nil
	}
	affected, err := s.graph.GetEntitiesBySourceChunks(ctx, projectID, chunkIDs)
	if err != nil {
		return nil, nil, []string{err.Error()}
	}

	var toDelete, rebuilt, errs []string
	for name := range affected {
		entity, err := s.graph.GetEntity(ctx, projectID, name)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if entity == nil {
			continue
		}
		remaining := subtract(entity.SourceChunkIDs, deleted)
		if len(remaining) == 0 || skipRebuild {
			toDelete = append(toDelete, name)
			continue
		}
		description := s.regenerateEntityDescription(ctx, projectID, name, remaining, entity.Description)
		if err := s.graph.UpdateEntityDescription(ctx, projectID, name, description, remaining); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		rebuilt = append(rebuilt, name)
	}

	if len(toDelete) > 0 {
		if err := s.graph.DeleteEntities(ctx, projectID, toDelete); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return toDelete, rebuilt, errs
}

func (s *Service) repairRelations(ctx context.Context, projectID string, chunkIDs []string, deletedChunks, deletedEntities map[string]struct{}, skipRebuild bool) (int, int, []string) {
	if len(chunkIDs) == 0 {
		return 0, 0, nil
	}
	affected, err := s.graph.GetRelationsBySourceChunks(ctx, projectID, chunkIDs)
	if err != nil {
		return 0, 0, []string{err.Error()}
	}
	if len(affected) == 0 {
		return 0, 0, nil
	}

	all, err := s.graph.GetAllRelations(ctx, projectID)
	if err != nil {
		return 0, 0, []string{err.Error()}
	}
	byKey := make(map[string]domain.Relation, len(all))
	for _, r := range all {
		byKey[relationKey(r.Source, r.Target, r.Keywords)] = r
	}

	var errs []string
	var toDelete []domain.Relation
	rebuilt := 0
	for key := range affected {
		rel, ok := byKey[key]
		if !ok {
			continue
		}
		_, srcDeleted := deletedEntities[rel.Source]
		_, tgtDeleted := deletedEntities[rel.Target]
		remaining := subtract(rel.SourceChunkIDs, deletedChunks)
		if len(remaining) == 0 || skipRebuild || srcDeleted || tgtDeleted {
			toDelete = append(toDelete, rel)
			continue
		}
		description := s.regenerateRelationDescription(ctx, projectID, rel.Source, rel.Target, remaining, rel.Description)
		if err := s.graph.UpdateRelationProvenance(ctx, projectID, rel.Source, rel.Target, rel.Keywords, description, remaining); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		rebuilt++
	}

	if len(toDelete) > 0 {
		if err := s.graph.DeleteRelations(ctx, projectID, toDelete); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return len(toDelete), rebuilt, errs
}

// regenerateEntityDescription re-derives name's description from the cached
// extractions of the chunks it still has after a document deletion, rather
// than keeping a description that may have been worded around content that
// no longer exists. It falls back to the entity's prior description when
// there is no summarizer wired, or none of the surviving chunks' cached
// extractions still mention the entity.
func (s *Service) regenerateEntityDescription(ctx context.Context, projectID, name string, remaining []string, fallback string) string {
	if s.summary == nil || s.cache == nil {
		return fallback
	}
	descriptions := s.cachedEntityDescriptions(ctx, projectID, name, remaining)
	if len(descriptions) == 0 {
		return fallback
	}
	result, err := s.summary.Summarize(ctx, projectID, name, descriptions)
	if err != nil {
		return fallback
	}
	return result.Description
}

// regenerateRelationDescription is the relation analogue of
// regenerateEntityDescription.
func (s *Service) regenerateRelationDescription(ctx context.Context, projectID, source, target string, remaining []string, fallback string) string {
	if s.summary == nil || s.cache == nil {
		return fallback
	}
	descriptions := s.cachedRelationDescriptions(ctx, projectID, source, target, remaining)
	if len(descriptions) == 0 {
		return fallback
	}
	result, err := s.summary.Summarize(ctx, projectID, source+" -> "+target, descriptions)
	if err != nil {
		return fallback
	}
	return result.Description
}

func (s *Service) cachedEntityDescriptions(ctx context.Context, projectID, name string, chunkIDs []string) []string {
	var out []string
	for _, entry := range s.cachedExtractions(ctx, projectID, chunkIDs) {
		entities, _ := extract.ParseExtraction(entry.Result)
		for _, e := range entities {
			if strings.EqualFold(e.Name, name) && e.Description != "" {
				out = append(out, e.Description)
			}
		}
	}
	return out
}

func (s *Service) cachedRelationDescriptions(ctx context.Context, projectID, source, target string, chunkIDs []string) []string {
	var out []string
	for _, entry := range s.cachedExtractions(ctx, projectID, chunkIDs) {
		_, relations := extract.ParseExtraction(entry.Result)
		for _, r := range relations {
			if strings.EqualFold(r.Source, source) && strings.EqualFold(r.Target, target) && r.Description != "" {
				out = append(out, r.Description)
			}
		}
	}
	return out
}

func (s *Service) cachedExtractions(ctx context.Context, projectID string, chunkIDs []string) []*domain.ExtractionCacheEntry {
	var out []*domain.ExtractionCacheEntry
	for _, cacheType := range []domain.CacheType{domain.CacheEntityExtraction, domain.CacheGleaning} {
		entries, err := s.cache.GetByChunkIDs(ctx, projectID, cacheType, chunkIDs)
		if err != nil {
			continue
		}
		out = append(out, entries...)
	}
	return out
}

func relationKey(source, target, keywords string) string {
	return source + "|" + target + "|" + keywords
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}

func subtract(items []string, remove map[string]struct{}) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := remove[item]; ok {
			continue
		}
		out = append(out, item)
	}
	return out
}
