// Package merge implements entity merging: folding a set of source
// entities into one target, redirecting their relations, and deduplicating
// any edge collisions that the redirect produces.
package merge

import (
	"context"

	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/graphragerr"
	"github.com/vasic-digital/graphrag-core/internal/summarize"
)

// Strategy picks how the target's merged description is produced.
type Strategy string

const (
	// Concatenate joins descriptions the same way a repeated extraction
	// of the same entity does, with no LLM call.
	Concatenate Strategy = "CONCATENATE"
	// LLMSummarize invokes a summarizer and caches the result.
	LLMSummarize Strategy = "LLM_SUMMARIZE"
)

// Overrides applies caller-supplied fields to the target entity once the
// merge completes.
type Overrides struct {
	Type        string
	Description string
}

// Result reports what a merge did.
type Result struct {
	Target              string
	RelationsRedirected int
	SourceEntitiesDeleted []string
	RelationsDeduped    int
}

type graphMerger interface {
	GetEntity(ctx context.Context, projectID, name string) (*domain.Entity, error)
	GetRelationsForEntity(ctx context.Context, projectID, name string) ([]domain.Relation, error)
	UpsertEntity(ctx context.Context, projectID string, e domain.Entity, separator string) error
	UpsertRelation(ctx context.Context, projectID string, r domain.Relation, separator string) error
	DeleteEntities(ctx context.Context, projectID string, names []string) error
	DeleteRelations(ctx context.Context, projectID string, keys []domain.Relation) error
}

type vectorMerger interface {
	DeleteEntityEmbeddings(ctx context.Context, projectID string, names []string) error
}

type summarizer interface {
	Summarize(ctx context.Context, projectID, name string, descriptions []string) (summarize.Result, error)
}

// Service runs entity merges.
type Service struct {
	graph     graphMerger
	vectors   vectorMerger
	summary   summarizer
	separator string
}

// New builds a Service.
func New(graph graphMerger, vectors vectorMerger, summary summarizer, separator string) *Service {
	if separator == "" {
		separator = " | "
	}
	return &Service{graph: graph, vectors: vectors, summary: summary, separator: separator}
}

// MergeEntities folds sources into target, redirecting their relations and
// deleting the source entities and embeddings. There is no cross-store
// transaction spanning Neo4j and Qdrant; a failure partway through leaves
// whatever graph writes already landed in place rather than rolling them
// back, since the underlying drivers offer no cross-store rollback.
func (s *Service) MergeEntities(ctx context.Context, projectID string, sources []string, target string, strategy Strategy, overrides *Overrides) (Result, error) {
	if projectID == "" {
		return Result{}, graphragerr.New(graphragerr.MissingProjectID, projectID, "merge requires a project id")
	}

	sourceSet := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		if src == target {
			continue
		}
		sourceSet[src] = struct{}{}
	}

	targetEntity, err := s.graph.GetEntity(ctx, projectID, target)
	if err != nil {
		return Result{}, err
	}
	if targetEntity == nil {
		return Result{}, graphragerr.New(graphragerr.GraphNotFound, projectID, "merge target does not exist: "+target)
	}

	descriptions := []string{targetEntity.Description}
	for src := range sourceSet {
		entity, err := s.graph.GetEntity(ctx, projectID, src)
		if err != nil {
			return Result{}, err
		}
		if entity == nil {
			return Result{}, graphragerr.New(graphragerr.GraphNotFound, projectID, "merge source does not exist: "+src)
		}
		descriptions = append(descriptions, entity.Description)
	}

	mergedDescription, err := s.mergeDescriptions(ctx, projectID, target, strategy, descriptions)
	if err != nil {
		return Result{}, err
	}

	redirected, deduped, err := s.redirectRelations(ctx, projectID, sourceSet, target)
	if err != nil {
		return Result{}, err
	}

	deletedNames := make([]string, 0, len(sourceSet))
	for src := range sourceSet {
		deletedNames = append(deletedNames, src)
	}
	if len(deletedNames) > 0 {
		if err := s.graph.DeleteEntities(ctx, projectID, deletedNames); err != nil {
			return Result{}, err
		}
		if err := s.vectors.DeleteEntityEmbeddings(ctx, projectID, deletedNames); err != nil {
			return Result{}, err
		}
	}

	finalType := targetEntity.Type
	finalDescription := mergedDescription
	if overrides != nil {
		if overrides.Type != "" {
			finalType = overrides.Type
		}
		if overrides.Description != "" {
			finalDescription = overrides.Description
		}
	}
	if err := s.graph.UpsertEntity(ctx, projectID, domain.Entity{
		Name: target, Type: finalType, Description: finalDescription,
		SourceChunkIDs: targetEntity.SourceChunkIDs, SourceFilePaths: targetEntity.SourceFilePaths,
	}, ""); err != nil {
		return Result{}, err
	}

	return Result{
		Target:                target,
		RelationsRedirected:   redirected,
		SourceEntitiesDeleted: deletedNames,
		RelationsDeduped:      deduped,
	}, nil
}

func (s *Service) mergeDescriptions(ctx context.Context, projectID, target string, strategy Strategy, descriptions []string) (string, error) {
	if strategy == LLMSummarize && s.summary != nil {
		res, err := s.summary.Summarize(ctx, projectID, target, descriptions)
		if err != nil {
			return "", err
		}
		return res.Description, nil
	}
	joined := ""
	for _, d := range descriptions {
		if d == "" {
			continue
		}
		if joined != "" {
			joined += s.separator
		}
		joined += d
	}
	return joined, nil
}

// redirectRelations rewrites every relation touching a source entity to
// point at target instead, dropping self-loops and merging descriptions,
// weights, and source lists into an existing (target, x, keywords) edge
// rather than creating a duplicate.
func (s *Service) redirectRelations(ctx context.Context, projectID string, sources map[string]struct{}, target string) (int, int, error) {
	seen := make(map[string]struct{})
	var toDelete []domain.Relation
	redirected := 0
	deduped := 0

	for src := range sources {
		relations, err := s.graph.GetRelationsForEntity(ctx, projectID, src)
		if err != nil {
			return 0, 0, err
		}
		for _, r := range relations {
			newSource, newTarget := r.Source, r.Target
			if newSource == src {
				newSource = target
			}
			if newTarget == src {
				newTarget = target
			}
			toDelete = append(toDelete, r)

			if newSource == newTarget {
				continue
			}

			key := newSource + "|" + newTarget + "|" + r.Keywords
			if _, ok := seen[key]; ok {
				deduped++
			}
			seen[key] = struct{}{}

			redirectedRelation := domain.Relation{
				Source: newSource, Target: newTarget, Keywords: r.Keywords,
				Description: r.Description, Weight: r.Weight,
				SourceChunkIDs: r.SourceChunkIDs, SourceFilePaths: r.SourceFilePaths,
			}
			if err := s.graph.UpsertRelation(ctx, projectID, redirectedRelation, s.separator); err != nil {
				return 0, 0, err
			}
			redirected++
		}
	}

	if len(toDelete) > 0 {
		if err := s.graph.DeleteRelations(ctx, projectID, toDelete); err != nil {
			return 0, 0, err
		}
	}

	return redirected, deduped, nil
}
