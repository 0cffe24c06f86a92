// Package graphstore implements project-scoped entity/relation persistence
// over Neo4j, routed through internal/namespace so every Cypher statement
// runs against the calling project's own database rather than a shared one.
package graphstore

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/graphragerr"
	"github.com/vasic-digital/graphrag-core/internal/namespace"
)

// Stats is the observability summary returned by GetStats.
type Stats struct {
	EntityCount   int64
	RelationCount int64
}

// Store implements the C5 graph-store contract: MERGE-based upserts with
// FIFO-capped source provenance, batched reads, and degree queries.
type Store struct {
	ns        *namespace.Manager
	batchSize int
	maxSource int
}

// New creates a Store. batchSize bounds IN-clause batching; maxSourceIDs
// bounds the FIFO-capped source_chunk_ids/source_file_paths lists kept on
// every entity and relation.
func New(ns *namespace.Manager, batchSize, maxSourceIDs int) *Store {
	if batchSize <= 0 {
		batchSize = 500
	}
	if maxSourceIDs <= 0 {
		maxSourceIDs = 50
	}
	return &Store{ns: ns, batchSize: batchSize, maxSource: maxSourceIDs}
}

func (s *Store) requireGraph(ctx context.Context, projectID string) error {
	exists, err := s.ns.Exists(ctx, projectID)
	if err != nil {
		return err
	}
	if !exists {
		return graphragerr.New(graphragerr.GraphNotFound, projectID, "graph namespace not provisioned")
	}
	return nil
}

func (s *Store) write(ctx context.Context, projectID string, fn func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	if err := s.requireGraph(ctx, projectID); err != nil {
		return nil, err
	}
	session := s.ns.SessionFor(ctx, projectID, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	result, err := session.ExecuteWrite(ctx, fn)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageTransient, projectID, "graph write", err)
	}
	return result, nil
}

func (s *Store) read(ctx context.Context, projectID string, fn func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	if err := s.requireGraph(ctx, projectID); err != nil {
		return nil, err
	}
	session := s.ns.SessionFor(ctx, projectID, neo4j.AccessModeRead)
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, fn)
	if err != nil {
		return nil, graphragerr.Wrap(graphragerr.StorageTransient, projectID, "graph read", err)
	}
	return result, nil
}

// capFIFO trims the head of the list so it never exceeds maxSource,
// keeping the most recently appended items.
func capFIFO(existing []string, appended string, max int) []string {
	out := append(append([]string{}, existing...), appended)
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

// UpsertEntity merges an entity by name, concatenating the new description
// onto the existing one and, on match, appending the new source ids to its
// source lists (an id already present moves to the tail) and FIFO-capping
// them at maxSourceIDs.
func (s *Store) UpsertEntity(ctx context.Context, projectID string, e domain.Entity, separator string) error {
	_, err := s.write(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (e:Entity {name: $name})
			ON CREATE SET e.type = $type, e.description = $description,
				e.source_chunk_ids = $source_chunk_ids, e.source_file_paths = $source_file_paths
			ON MATCH SET e.type = coalesce(e.type, $type),
				e.description = CASE WHEN $description = '' THEN e.description
					ELSE e.description + $separator + $description END,
				e.source_chunk_ids = ([x IN coalesce(e.source_chunk_ids, []) WHERE NOT x IN coalesce($source_chunk_ids, [])] + coalesce($source_chunk_ids, []))[-$max_source..],
				e.source_file_paths = ([x IN coalesce(e.source_file_paths, []) WHERE NOT x IN coalesce($source_file_paths, [])] + coalesce($source_file_paths, []))[-$max_source..]
		`, map[string]any{
			"name": e.Name, "type": e.Type, "description": e.Description, "separator": separator,
			"source_chunk_ids":  e.SourceChunkIDs,
			"source_file_paths": e.SourceFilePaths,
			"max_source":        s.maxSource,
		})
		return nil, err
	})
	if err != nil {
		return err
	}
	return nil
}

// UpsertEntities batches UpsertEntity calls within a single transaction.
func (s *Store) UpsertEntities(ctx context.Context, projectID string, entities []domain.Entity, separator string) error {
	_, err := s.write(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, e := range entities {
			_, err := tx.Run(ctx, `
				MERGE (e:Entity {name: $name})
				ON CREATE SET e.type = $type, e.description = $description,
					e.source_chunk_ids = $source_chunk_ids, e.source_file_paths = $source_file_paths
				ON MATCH SET e.description = CASE WHEN $description = '' THEN e.description
						ELSE e.description + $separator + $description END,
					e.source_chunk_ids = ([x IN coalesce(e.source_chunk_ids, []) WHERE NOT x IN coalesce($source_chunk_ids, [])] + coalesce($source_chunk_ids, []))[-$max_source..],
					e.source_file_paths = ([x IN coalesce(e.source_file_paths, []) WHERE NOT x IN coalesce($source_file_paths, [])] + coalesce($source_file_paths, []))[-$max_source..]
			`, map[string]any{
				"name": e.Name, "type": e.Type, "description": e.Description, "separator": separator,
				"source_chunk_ids": e.SourceChunkIDs, "source_file_paths": e.SourceFilePaths,
				"max_source": s.maxSource,
			})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// UpsertRelation merges a relation keyed by (source, target, keywords).
// Self-loops are rejected and both endpoints must already exist as entities.
func (s *Store) UpsertRelation(ctx context.Context, projectID string, r domain.Relation, separator string) error {
	if r.Source == r.Target {
		return graphragerr.New(graphragerr.SelfLoopRelation, projectID, "relation source and target are identical: "+r.Source)
	}
	res, err := s.write(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (a:Entity {name: $source}), (b:Entity {name: $target})
			MERGE (a)-[rel:RELATED {keywords: $keywords}]->(b)
			ON CREATE SET rel.description = $description, rel.weight = $weight,
				rel.source_chunk_ids = $source_chunk_ids, rel.source_file_paths = $source_file_paths
			ON MATCH SET rel.description = CASE WHEN $description = '' THEN rel.description
					ELSE rel.description + $separator + $description END,
				rel.weight = rel.weight + $weight,
				rel.source_chunk_ids = ([x IN coalesce(rel.source_chunk_ids, []) WHERE NOT x IN coalesce($source_chunk_ids, [])] + coalesce($source_chunk_ids, []))[-$max_source..],
				rel.source_file_paths = ([x IN coalesce(rel.source_file_paths, []) WHERE NOT x IN coalesce($source_file_paths, [])] + coalesce($source_file_paths, []))[-$max_source..]
			RETURN count(rel) AS matched
		`, map[string]any{
			"source": r.Source, "target": r.Target, "keywords": r.Keywords,
			"description": r.Description, "weight": r.Weight, "separator": separator,
			"source_chunk_ids": r.SourceChunkIDs, "source_file_paths": r.SourceFilePaths,
			"max_source": s.maxSource,
		})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		matched, _ := record.Get("matched")
		return matched, nil
	})
	if err != nil {
		return err
	}
	if n, ok := res.(int64); !ok || n == 0 {
		return graphragerr.New(graphragerr.GraphNotFound, projectID, "relation endpoints not present: "+r.Source+" -> "+r.Target)
	}
	return nil
}

// GetEntity fetches a single entity by name, nil if absent.
func (s *Store) GetEntity(ctx context.Context, projectID, name string) (*domain.Entity, error) {
	res, err := s.read(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `MATCH (e:Entity {name: $name}) RETURN e`, map[string]any{"name": name})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return nil, result.Err()
		}
		return entityFromNode(result.Record())
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	e := res.(domain.Entity)
	return &e, nil
}

// GetEntitiesBatch fetches entities for names in IN-clause batches of
// s.batchSize, returning a map; missing names are simply absent.
func (s *Store) GetEntitiesBatch(ctx context.Context, projectID string, names []string) (map[string]domain.Entity, error) {
	out := make(map[string]domain.Entity)
	for _, batch := range chunkStrings(names, s.batchSize) {
		res, err := s.read(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, `MATCH (e:Entity) WHERE e.name IN $names RETURN e`, map[string]any{"names": batch})
			if err != nil {
				return nil, err
			}
			var entities []domain.Entity
			for result.Next(ctx) {
				e, err := entityFromNode(result.Record())
				if err != nil {
					return nil, err
				}
				entities = append(entities, e)
			}
			return entities, result.Err()
		})
		if err != nil {
			return nil, err
		}
		for _, e := range res.([]domain.Entity) {
			out[e.Name] = e
		}
	}
	return out, nil
}

// GetAllEntities returns every entity in the project's graph, for export
// and rebuild.
func (s *Store) GetAllEntities(ctx context.Context, projectID string) ([]domain.Entity, error) {
	res, err := s.read(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `MATCH (e:Entity) RETURN e`, nil)
		if err != nil {
			return nil, err
		}
		var entities []domain.Entity
		for result.Next(ctx) {
			e, err := entityFromNode(result.Record())
			if err != nil {
				return nil, err
			}
			entities = append(entities, e)
		}
		return entities, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return res.([]domain.Entity), nil
}

// GetEntitiesPage returns a paginated slice of entities ordered by name.
func (s *Store) GetEntitiesPage(ctx context.Context, projectID string, offset, limit int) ([]domain.Entity, error) {
	res, err := s.read(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity) RETURN e ORDER BY e.name SKIP $offset LIMIT $limit
		`, map[string]any{"offset": offset, "limit": limit})
		if err != nil {
			return nil, err
		}
		var entities []domain.Entity
		for result.Next(ctx) {
			e, err := entityFromNode(result.Record())
			if err != nil {
				return nil, err
			}
			entities = append(entities, e)
		}
		return entities, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return res.([]domain.Entity), nil
}

// GetRelationsForEntity returns every relation touching the named entity.
func (s *Store) GetRelationsForEntity(ctx context.Context, projectID, name string) ([]domain.Relation, error) {
	res, err := s.read(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (:Entity {name: $name})-[rel:RELATED]-(:Entity)
			RETURN startNode(rel).name AS src, endNode(rel).name AS tgt, rel
		`, map[string]any{"name": name})
		if err != nil {
			return nil, err
		}
		var relations []domain.Relation
		for result.Next(ctx) {
			r, err := relationFromRecord(result.Record())
			if err != nil {
				return nil, err
			}
			relations = append(relations, r)
		}
		return relations, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return res.([]domain.Relation), nil
}

// GetAllRelations returns every relation in the project's graph.
func (s *Store) GetAllRelations(ctx context.Context, projectID string) ([]domain.Relation, error) {
	res, err := s.read(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `MATCH (a:Entity)-[rel:RELATED]->(b:Entity) RETURN a.name AS src, b.name AS tgt, rel`, nil)
		if err != nil {
			return nil, err
		}
		var relations []domain.Relation
		for result.Next(ctx) {
			r, err := relationFromRecord(result.Record())
			if err != nil {
				return nil, err
			}
			relations = append(relations, r)
		}
		return relations, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return res.([]domain.Relation), nil
}

// GetNodeDegreesBatch returns the relationship degree of each named entity.
func (s *Store) GetNodeDegreesBatch(ctx context.Context, projectID string, names []string) (map[string]int, error) {
	out := make(map[string]int)
	for _, batch := range chunkStrings(names, s.batchSize) {
		res, err := s.read(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, `
				MATCH (e:Entity) WHERE e.name IN $names
				OPTIONAL MATCH (e)-[rel:RELATED]-()
				RETURN e.name AS name, count(rel) AS degree
			`, map[string]any{"names": batch})
			if err != nil {
				return nil, err
			}
			degrees := make(map[string]int)
			for result.Next(ctx) {
				rec := result.Record()
				name, _ := rec.Get("name")
				degree, _ := rec.Get("degree")
				degrees[name.(string)] = int(degree.(int64))
			}
			return degrees, result.Err()
		})
		if err != nil {
			return nil, err
		}
		for k, v := range res.(map[string]int) {
			out[k] = v
		}
	}
	return out, nil
}

// GetEntitiesBySourceChunks returns the set of entity names that carry any
// of the given chunk ids in their source_chunk_ids list.
func (s *Store) GetEntitiesBySourceChunks(ctx context.Context, projectID string, chunkIDs []string) (map[string]struct{}, error) {
	res, err := s.read(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity) WHERE any(id IN e.source_chunk_ids WHERE id IN $chunk_ids)
			RETURN e.name AS name
		`, map[string]any{"chunk_ids": chunkIDs})
		if err != nil {
			return nil, err
		}
		names := make(map[string]struct{})
		for result.Next(ctx) {
			rec := result.Record()
			name, _ := rec.Get("name")
			names[name.(string)] = struct{}{}
		}
		return names, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string]struct{}), nil
}

// GetRelationsBySourceChunks is the relation analogue of
// GetEntitiesBySourceChunks, returning a set of "src|tgt|keywords" keys.
func (s *Store) GetRelationsBySourceChunks(ctx context.Context, projectID string, chunkIDs []string) (map[string]struct{}, error) {
	res, err := s.read(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (a:Entity)-[rel:RELATED]->(b:Entity)
			WHERE any(id IN rel.source_chunk_ids WHERE id IN $chunk_ids)
			RETURN a.name AS src, b.name AS tgt, rel.keywords AS keywords
		`, map[string]any{"chunk_ids": chunkIDs})
		if err != nil {
			return nil, err
		}
		keys := make(map[string]struct{})
		for result.Next(ctx) {
			rec := result.Record()
			src, _ := rec.Get("src")
			tgt, _ := rec.Get("tgt")
			keywords, _ := rec.Get("keywords")
			keys[relationKey(src.(string), tgt.(string), keywords.(string))] = struct{}{}
		}
		return keys, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string]struct{}), nil
}

func relationKey(src, tgt, keywords string) string {
	return src + "|" + tgt + "|" + keywords
}

// DeleteEntities removes entities (and their relations, via DETACH DELETE)
// in batches.
func (s *Store) DeleteEntities(ctx context.Context, projectID string, names []string) error {
	for _, batch := range chunkStrings(names, s.batchSize) {
		_, err := s.write(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, `MATCH (e:Entity) WHERE e.name IN $names DETACH DELETE e`, map[string]any{"names": batch})
			return nil, err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteRelations removes relations identified by (source, target, keywords)
// keys, in batches.
func (s *Store) DeleteRelations(ctx context.Context, projectID string, keys []domain.Relation) error {
	for i := 0; i < len(keys); i += s.batchSize {
		end := i + s.batchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[i:end]
		_, err := s.write(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
			for _, r := range batch {
				_, err := tx.Run(ctx, `
					MATCH (a:Entity {name: $source})-[rel:RELATED {keywords: $keywords}]->(b:Entity {name: $target})
					DELETE rel
				`, map[string]any{"source": r.Source, "target": r.Target, "keywords": r.Keywords})
				if err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateEntityDescription overwrites an entity's description and source
// chunk list directly, used by the rebuild repair path rather than the
// accumulate-on-MERGE semantics of UpsertEntity.
func (s *Store) UpdateEntityDescription(ctx context.Context, projectID, name, description string, sourceChunkIDs []string) error {
	_, err := s.write(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (e:Entity {name: $name})
			SET e.description = $description, e.source_chunk_ids = $source_chunk_ids
		`, map[string]any{"name": name, "description": description, "source_chunk_ids": sourceChunkIDs})
		return nil, err
	})
	return err
}

// UpdateRelationProvenance overwrites a relation's description and source
// chunk list directly, the relation analogue of UpdateEntityDescription, used
// by the rebuild repair path when a relation survives a document deletion
// but loses one of its contributing chunks.
func (s *Store) UpdateRelationProvenance(ctx context.Context, projectID, source, target, keywords, description string, sourceChunkIDs []string) error {
	_, err := s.write(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (a:Entity {name: $source})-[rel:RELATED {keywords: $keywords}]->(b:Entity {name: $target})
			SET rel.description = $description, rel.source_chunk_ids = $source_chunk_ids
		`, map[string]any{"source": source, "target": target, "keywords": keywords, "description": description, "source_chunk_ids": sourceChunkIDs})
		return nil, err
	})
	return err
}

// GetRelationsPage returns a paginated slice of relations ordered by
// (source, target, keywords).
func (s *Store) GetRelationsPage(ctx context.Context, projectID string, offset, limit int) ([]domain.Relation, error) {
	res, err := s.read(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (a:Entity)-[rel:RELATED]->(b:Entity)
			RETURN a.name AS src, b.name AS tgt, rel
			ORDER BY src, tgt, rel.keywords
			SKIP $offset LIMIT $limit
		`, map[string]any{"offset": offset, "limit": limit})
		if err != nil {
			return nil, err
		}
		var relations []domain.Relation
		for result.Next(ctx) {
			r, err := relationFromRecord(result.Record())
			if err != nil {
				return nil, err
			}
			relations = append(relations, r)
		}
		return relations, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return res.([]domain.Relation), nil
}

// ExportEntities streams every entity in the project's graph to visit, one
// page at a time, stopping early if visit returns an error.
func (s *Store) ExportEntities(ctx context.Context, projectID string, visit func(domain.Entity) error) error {
	offset := 0
	for {
		page, err := s.GetEntitiesPage(ctx, projectID, offset, s.batchSize)
		if err != nil {
			return err
		}
		for _, e := range page {
			if err := visit(e); err != nil {
				return err
			}
		}
		if len(page) < s.batchSize {
			return nil
		}
		offset += len(page)
	}
}

// ExportRelations streams every relation in the project's graph to visit,
// one page at a time, stopping early if visit returns an error.
func (s *Store) ExportRelations(ctx context.Context, projectID string, visit func(domain.Relation) error) error {
	offset := 0
	for {
		page, err := s.GetRelationsPage(ctx, projectID, offset, s.batchSize)
		if err != nil {
			return err
		}
		for _, r := range page {
			if err := visit(r); err != nil {
				return err
			}
		}
		if len(page) < s.batchSize {
			return nil
		}
		offset += len(page)
	}
}

// GetStats returns entity/relation counts for observability.
func (s *Store) GetStats(ctx context.Context, projectID string) (Stats, error) {
	res, err := s.read(ctx, projectID, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity)
			OPTIONAL MATCH ()-[rel:RELATED]->()
			RETURN count(DISTINCT e) AS entities, count(DISTINCT rel) AS relations
		`, nil)
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		entities, _ := record.Get("entities")
		relations, _ := record.Get("relations")
		return Stats{EntityCount: entities.(int64), RelationCount: relations.(int64)}, nil
	})
	if err != nil {
		return Stats{}, err
	}
	return res.(Stats), nil
}

func entityFromNode(record *neo4j.Record) (domain.Entity, error) {
	raw, ok := record.Get("e")
	if !ok {
		return domain.Entity{}, graphragerr.New(graphragerr.StorageFatal, "", "entity node missing from record")
	}
	node := raw.(neo4j.Node)
	e := domain.Entity{
		Name:        stringProp(node.Props, "name"),
		Type:        stringProp(node.Props, "type"),
		Description: stringProp(node.Props, "description"),
	}
	e.SourceChunkIDs = stringListProp(node.Props, "source_chunk_ids")
	e.SourceFilePaths = stringListProp(node.Props, "source_file_paths")
	return e, nil
}

func relationFromRecord(record *neo4j.Record) (domain.Relation, error) {
	srcRaw, _ := record.Get("src")
	tgtRaw, _ := record.Get("tgt")
	relRaw, ok := record.Get("rel")
	if !ok {
		return domain.Relation{}, graphragerr.New(graphragerr.StorageFatal, "", "relation missing from record")
	}
	rel := relRaw.(neo4j.Relationship)
	r := domain.Relation{
		Source:      srcRaw.(string),
		Target:      tgtRaw.(string),
		Keywords:    stringProp(rel.Props, "keywords"),
		Description: stringProp(rel.Props, "description"),
	}
	if w, ok := rel.Props["weight"].(float64); ok {
		r.Weight = w
	}
	r.SourceChunkIDs = stringListProp(rel.Props, "source_chunk_ids")
	r.SourceFilePaths = stringListProp(rel.Props, "source_file_paths")
	return r, nil
}

func stringProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func stringListProp(props map[string]any, key string) []string {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func chunkStrings(items []string, size int) [][]string {
	if size <= 0 {
		size = len(items)
	}
	var out [][]string
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}
