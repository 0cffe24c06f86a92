// Package query implements the five retrieval modes (LOCAL, GLOBAL,
// HYBRID, MIX, NAIVE) that turn a user query into a token-budgeted
// context ready for synthesis, by combining vector search, graph
// expansion, and keyword-biased retrieval.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vasic-digital/graphrag-core/internal/config"
	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/graphragerr"
	"github.com/vasic-digital/graphrag-core/internal/llmclient"
	"github.com/vasic-digital/graphrag-core/internal/store"
	"github.com/vasic-digital/graphrag-core/internal/vectorstore"
)

// vectorSearcher is the slice of *vectorstore.Store this package depends
// on, narrowed to an interface so tests can substitute a fake instead of
// a live Qdrant client.
type vectorSearcher interface {
	Query(ctx context.Context, projectID string, embedding []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Result, error)
}

// graphReader is the slice of *graphstore.Store this package depends on.
type graphReader interface {
	GetEntitiesBatch(ctx context.Context, projectID string, names []string) (map[string]domain.Entity, error)
	GetRelationsForEntity(ctx context.Context, projectID, name string) ([]domain.Relation, error)
	GetEntitiesBySourceChunks(ctx context.Context, projectID string, chunkIDs []string) (map[string]struct{}, error)
}

// keywordExtractor is the slice of *keyword.Extractor this package depends on.
type keywordExtractor interface {
	Extract(ctx context.Context, projectID, query string) (domain.KeywordResult, error)
}

// Mode selects one of the five retrieval strategies.
type Mode string

const (
	ModeLocal  Mode = "LOCAL"
	ModeGlobal Mode = "GLOBAL"
	ModeHybrid Mode = "HYBRID"
	ModeMix    Mode = "MIX"
	ModeNaive  Mode = "NAIVE"
)

// relationsPerEntity caps how many incident relations (by descending
// weight) are pulled into context for each retrieved entity, scaled by
// the configured relation budget ratio.
const relationsPerEntity = 10

func (e *Executor) relationCap() int {
	n := int(float64(relationsPerEntity) * e.cfg.RelationRatio / 0.3)
	return maxInt(n, 1)
}

// baseTopK is the retrieval volume for a source whose budget ratio is 1.0;
// LOCAL/GLOBAL/MIX scale it by their configured entity/relation/chunk ratio.
const baseTopK = 20

// Result is one mode's budgeted retrieval, ready to hand to the synthesizer.
type Result struct {
	Mode         Mode
	Context      string
	TokensUsed   int
	ItemsSkipped int
	Entities     []domain.Entity
	Relations    []domain.Relation
	Chunks       []domain.SourceChunk
}

// Executor runs the five retrieval modes against a project's graph and
// vector index.
type Executor struct {
	embedder   llmclient.Embedder
	embedModel string
	vectors    vectorSearcher
	graph      graphReader
	chunks     store.ChunkStore
	docs       store.DocumentStore
	keywords   keywordExtractor
	cfg        config.QueryConfig
}

// New builds an Executor.
func New(embedder llmclient.Embedder, embedModel string, vectors vectorSearcher, graph graphReader,
	chunks store.ChunkStore, docs store.DocumentStore, keywords keywordExtractor, cfg config.QueryConfig) *Executor {
	cfg.SetDefaults()
	return &Executor{
		embedder: embedder, embedModel: embedModel, vectors: vectors, graph: graph,
		chunks: chunks, docs: docs, keywords: keywords, cfg: cfg,
	}
}

// Run executes mode for query against project P.
func (e *Executor) Run(ctx context.Context, projectID, query string, mode Mode) (Result, error) {
	if mode != ModeNaive && projectID == "" {
		return Result{}, graphragerr.New(graphragerr.MissingProjectID, projectID, "query requires a project id")
	}

	switch mode {
	case ModeNaive:
		return e.runNaive(ctx, projectID, query)
	case ModeLocal:
		return e.runLocal(ctx, projectID, query)
	case ModeGlobal:
		return e.runGlobal(ctx, projectID, query)
	case ModeHybrid:
		return e.runHybrid(ctx, projectID, query)
	case ModeMix:
		return e.runMix(ctx, projectID, query)
	default:
		return Result{}, graphragerr.New(graphragerr.InvalidMode, projectID, "unknown query mode: "+string(mode))
	}
}

func (e *Executor) embedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, _, err := e.embedder.Embed(ctx, e.embedModel, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, graphragerr.New(graphragerr.StorageFatal, "", "embedder returned no vectors")
	}
	return vectors[0], nil
}

func (e *Executor) runNaive(ctx context.Context, projectID, query string) (Result, error) {
	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return Result{}, err
	}
	hits, err := e.vectors.Query(ctx, projectID, vec, baseTopK, vectorstore.FilterChunks)
	if err != nil {
		return Result{}, err
	}
	chunks, err := e.resolveHitChunks(ctx, projectID, hits)
	if err != nil {
		return Result{}, err
	}
	merged := Merge([]Source{chunkSource(chunks)}, e.cfg.MaxContextTokens)
	return Result{
		Mode: ModeNaive, Context: merged.Text, TokensUsed: merged.TokensUsed,
		ItemsSkipped: merged.ItemsSkipped, Chunks: chunks,
	}, nil
}

func (e *Executor) runLocal(ctx context.Context, projectID, query string) (Result, error) {
	kw, err := e.keywords.Extract(ctx, projectID, query)
	if err != nil {
		return Result{}, err
	}
	entities, relations, chunks, err := e.localRetrieval(ctx, projectID, query, kw)
	if err != nil {
		return Result{}, err
	}
	merged := Merge([]Source{entitySource(entities), relationSource(relations), chunkSource(chunks)}, e.cfg.MaxContextTokens)
	return Result{
		Mode: ModeLocal, Context: merged.Text, TokensUsed: merged.TokensUsed,
		ItemsSkipped: merged.ItemsSkipped, Entities: entities, Relations: relations, Chunks: chunks,
	}, nil
}

// localRetrieval embeds query biased toward LOW_LEVEL keywords, vector
// searches entity embeddings, fetches the canonical entities from the
// graph, and pulls each entity's top incident relations and source chunks.
func (e *Executor) localRetrieval(ctx context.Context, projectID, query string, kw domain.KeywordResult) ([]domain.Entity, []domain.Relation, []domain.SourceChunk, error) {
	vec, err := e.embedQuery(ctx, biasedQuery(query, kw.LowLevel))
	if err != nil {
		return nil, nil, nil, err
	}
	topK := int(float64(baseTopK) * e.cfg.EntityRatio)
	hits, err := e.vectors.Query(ctx, projectID, vec, maxInt(topK, 1), vectorstore.FilterEntities)
	if err != nil {
		return nil, nil, nil, err
	}

	names := orderedNames(hits)
	entMap, err := e.graph.GetEntitiesBatch(ctx, projectID, names)
	if err != nil {
		return nil, nil, nil, err
	}
	entities := make([]domain.Entity, 0, len(names))
	for _, n := range names {
		if ent, ok := entMap[n]; ok {
			entities = append(entities, ent)
		}
	}

	var relations []domain.Relation
	var chunkIDs []string
	for _, ent := range entities {
		rels, err := e.graph.GetRelationsForEntity(ctx, projectID, ent.Name)
		if err != nil {
			return nil, nil, nil, err
		}
		relations = append(relations, topByWeight(rels, e.relationCap())...)
		chunkIDs = append(chunkIDs, ent.SourceChunkIDs...)
	}

	chunks, err := e.resolveChunksByID(ctx, projectID, dedupeStrings(chunkIDs))
	if err != nil {
		return nil, nil, nil, err
	}
	return entities, relations, chunks, nil
}

func (e *Executor) runGlobal(ctx context.Context, projectID, query string) (Result, error) {
	kw, err := e.keywords.Extract(ctx, projectID, query)
	if err != nil {
		return Result{}, err
	}
	relations, entities, chunks, err := e.globalRetrieval(ctx, projectID, query, kw)
	if err != nil {
		return Result{}, err
	}
	merged := Merge([]Source{entitySource(entities), relationSource(relations), chunkSource(chunks)}, e.cfg.MaxContextTokens)
	return Result{
		Mode: ModeGlobal, Context: merged.Text, TokensUsed: merged.TokensUsed,
		ItemsSkipped: merged.ItemsSkipped, Entities: entities, Relations: relations, Chunks: chunks,
	}, nil
}

// globalRetrieval embeds query biased toward HIGH_LEVEL keywords, vector
// searches chunk embeddings to locate the entities those chunks mention,
// then pulls the relations and one-hop neighbors around those entities.
func (e *Executor) globalRetrieval(ctx context.Context, projectID, query string, kw domain.KeywordResult) ([]domain.Relation, []domain.Entity, []domain.SourceChunk, error) {
	vec, err := e.embedQuery(ctx, biasedQuery(query, kw.HighLevel))
	if err != nil {
		return nil, nil, nil, err
	}
	topK := int(float64(baseTopK) * e.cfg.ChunkRatio)
	hits, err := e.vectors.Query(ctx, projectID, vec, maxInt(topK, 1), vectorstore.FilterChunks)
	if err != nil {
		return nil, nil, nil, err
	}
	chunks, err := e.resolveHitChunks(ctx, projectID, hits)
	if err != nil {
		return nil, nil, nil, err
	}

	chunkIDs := make([]string, 0, len(chunks))
	for _, c := range chunks {
		chunkIDs = append(chunkIDs, c.ChunkID)
	}
	matchedNames, err := e.graph.GetEntitiesBySourceChunks(ctx, projectID, chunkIDs)
	if err != nil {
		return nil, nil, nil, err
	}
	names := make([]string, 0, len(matchedNames))
	for n := range matchedNames {
		names = append(names, n)
	}
	sort.Strings(names)

	entMap, err := e.graph.GetEntitiesBatch(ctx, projectID, names)
	if err != nil {
		return nil, nil, nil, err
	}
	entities := make([]domain.Entity, 0, len(names))
	for _, n := range names {
		if ent, ok := entMap[n]; ok {
			entities = append(entities, ent)
		}
	}

	var relations []domain.Relation
	for _, ent := range entities {
		rels, err := e.graph.GetRelationsForEntity(ctx, projectID, ent.Name)
		if err != nil {
			return nil, nil, nil, err
		}
		relations = append(relations, topByWeight(rels, e.relationCap())...)
	}
	return relations, entities, chunks, nil
}

func (e *Executor) runHybrid(ctx context.Context, projectID, query string) (Result, error) {
	kw, err := e.keywords.Extract(ctx, projectID, query)
	if err != nil {
		return Result{}, err
	}
	localEntities, localRelations, localChunks, err := e.localRetrieval(ctx, projectID, query, kw)
	if err != nil {
		return Result{}, err
	}
	globalRelations, globalEntities, globalChunks, err := e.globalRetrieval(ctx, projectID, query, kw)
	if err != nil {
		return Result{}, err
	}

	entities := dedupeEntities(append(append([]domain.Entity{}, localEntities...), globalEntities...))
	relations := dedupeRelations(append(append([]domain.Relation{}, localRelations...), globalRelations...))
	chunks := dedupeChunks(append(append([]domain.SourceChunk{}, localChunks...), globalChunks...))

	merged := Merge([]Source{
		interleaveEntitySource(localEntities, globalEntities),
		interleaveRelationSource(localRelations, globalRelations),
		chunkSource(chunks),
	}, e.cfg.MaxContextTokens)

	return Result{
		Mode: ModeHybrid, Context: merged.Text, TokensUsed: merged.TokensUsed,
		ItemsSkipped: merged.ItemsSkipped, Entities: entities, Relations: relations, Chunks: chunks,
	}, nil
}

func (e *Executor) runMix(ctx context.Context, projectID, query string) (Result, error) {
	kw, err := e.keywords.Extract(ctx, projectID, query)
	if err != nil {
		return Result{}, err
	}

	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return Result{}, err
	}
	topK := int(float64(baseTopK) * e.cfg.ChunkRatio)
	hits, err := e.vectors.Query(ctx, projectID, vec, maxInt(topK, 1), vectorstore.FilterChunks)
	if err != nil {
		return Result{}, err
	}
	chunks, err := e.resolveHitChunks(ctx, projectID, hits)
	if err != nil {
		return Result{}, err
	}

	var names []string
	for _, n := range kw.LowLevel {
		names = append(names, n)
	}
	entMap, err := e.graph.GetEntitiesBatch(ctx, projectID, names)
	if err != nil {
		return Result{}, err
	}
	var entities []domain.Entity
	var relations []domain.Relation
	for _, n := range names {
		ent, ok := entMap[n]
		if !ok {
			continue
		}
		entities = append(entities, ent)
		rels, err := e.graph.GetRelationsForEntity(ctx, projectID, ent.Name)
		if err != nil {
			return Result{}, err
		}
		relations = append(relations, topByWeight(rels, e.relationCap())...)
	}

	merged := Merge([]Source{entitySource(entities), relationSource(relations), chunkSource(chunks)}, e.cfg.MaxContextTokens)
	return Result{
		Mode: ModeMix, Context: merged.Text, TokensUsed: merged.TokensUsed,
		ItemsSkipped: merged.ItemsSkipped, Entities: entities, Relations: relations, Chunks: chunks,
	}, nil
}

// biasedQuery appends keyword terms to the embedded text so the vector
// search leans toward them without discarding the query's own meaning.
func biasedQuery(query string, keywords []string) string {
	if len(keywords) == 0 {
		return query
	}
	return query + " " + strings.Join(keywords, " ")
}

func orderedNames(hits []vectorstore.Result) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, h := range hits {
		if h.EntityName == "" {
			continue
		}
		if _, ok := seen[h.EntityName]; ok {
			continue
		}
		seen[h.EntityName] = struct{}{}
		names = append(names, h.EntityName)
	}
	return names
}

func topByWeight(relations []domain.Relation, n int) []domain.Relation {
	sorted := append([]domain.Relation{}, relations...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Weight > sorted[j].Weight })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func dedupeStrings(items []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func dedupeEntities(entities []domain.Entity) []domain.Entity {
	seen := make(map[string]struct{})
	var out []domain.Entity
	for _, e := range entities {
		if _, ok := seen[e.Name]; ok {
			continue
		}
		seen[e.Name] = struct{}{}
		out = append(out, e)
	}
	return out
}

func dedupeRelations(relations []domain.Relation) []domain.Relation {
	seen := make(map[string]struct{})
	var out []domain.Relation
	for _, r := range relations {
		key := r.Source + "|" + r.Target + "|" + r.Keywords
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func dedupeChunks(chunks []domain.SourceChunk) []domain.SourceChunk {
	seen := make(map[string]struct{})
	var out []domain.SourceChunk
	for _, c := range chunks {
		if _, ok := seen[c.ChunkID]; ok {
			continue
		}
		seen[c.ChunkID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func entitySource(entities []domain.Entity) Source {
	items := make([]Item, 0, len(entities))
	for _, e := range entities {
		items = append(items, Item{
			Label: e.Name,
			Text:  fmt.Sprintf("Entity: %s (%s)\n%s", e.Name, e.Type, e.Description),
		})
	}
	return Source{Name: "entities", Items: items}
}

func relationSource(relations []domain.Relation) Source {
	items := make([]Item, 0, len(relations))
	for _, r := range relations {
		items = append(items, Item{
			Label: r.Source + "->" + r.Target,
			Text:  fmt.Sprintf("Relation: %s -> %s (%s)\n%s", r.Source, r.Target, r.Keywords, r.Description),
		})
	}
	return Source{Name: "relations", Items: items}
}

func chunkSource(chunks []domain.SourceChunk) Source {
	items := make([]Item, 0, len(chunks))
	for _, c := range chunks {
		items = append(items, Item{Label: c.ChunkID, Text: c.Content})
	}
	return Source{Name: "chunks", Items: items}
}

func interleaveEntitySource(a, b []domain.Entity) Source {
	return entitySource(interleaveEntities(a, b))
}

func interleaveRelationSource(a, b []domain.Relation) Source {
	return relationSource(interleaveRelations(a, b))
}

func interleaveEntities(a, b []domain.Entity) []domain.Entity {
	var out []domain.Entity
	for i := 0; i < len(a) || i < len(b); i++ {
		if i < len(a) {
			out = append(out, a[i])
		}
		if i < len(b) {
			out = append(out, b[i])
		}
	}
	return dedupeEntities(out)
}

func interleaveRelations(a, b []domain.Relation) []domain.Relation {
	var out []domain.Relation
	for i := 0; i < len(a) || i < len(b); i++ {
		if i < len(a) {
			out = append(out, a[i])
		}
		if i < len(b) {
			out = append(out, b[i])
		}
	}
	return dedupeRelations(out)
}

// resolveHitChunks turns vector-search chunk hits (which already carry
// content and document id from the payload) into SourceChunks, filling in
// chunk_index and file_name from the relational store.
func (e *Executor) resolveHitChunks(ctx context.Context, projectID string, hits []vectorstore.Result) ([]domain.SourceChunk, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ChunkID)
	}
	indexAndDoc, fileNames, err := e.citationLookup(ctx, projectID, ids)
	if err != nil {
		return nil, err
	}

	out := make([]domain.SourceChunk, 0, len(hits))
	for _, h := range hits {
		meta := indexAndDoc[h.ChunkID]
		out = append(out, domain.SourceChunk{
			ChunkID:        h.ChunkID,
			DocumentID:     h.DocumentID,
			Content:        h.Content,
			ChunkIndex:     meta.orderIndex,
			SourceLabel:    fileNames[h.DocumentID],
			RelevanceScore: float64(h.Relevance()),
		})
	}
	return out, nil
}

// resolveChunksByID fetches chunk content directly from the relational
// store for chunk ids that didn't come from a vector hit (e.g. an
// entity's source_chunk_ids).
func (e *Executor) resolveChunksByID(ctx context.Context, projectID string, chunkIDs []string) ([]domain.SourceChunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	records, err := e.chunks.GetChunks(ctx, projectID, chunkIDs)
	if err != nil {
		return nil, err
	}
	fileNames, err := e.fileNamesForDocuments(ctx, projectID, documentIDs(records))
	if err != nil {
		return nil, err
	}
	out := make([]domain.SourceChunk, 0, len(records))
	for _, c := range records {
		out = append(out, domain.SourceChunk{
			ChunkID: c.ID, DocumentID: c.DocumentID, Content: c.Content,
			ChunkIndex: c.OrderIndex, SourceLabel: fileNames[c.DocumentID],
		})
	}
	return out, nil
}

type chunkMeta struct {
	orderIndex int
}

func (e *Executor) citationLookup(ctx context.Context, projectID string, chunkIDs []string) (map[string]chunkMeta, map[string]string, error) {
	records, err := e.chunks.GetChunks(ctx, projectID, chunkIDs)
	if err != nil {
		return nil, nil, err
	}
	meta := make(map[string]chunkMeta, len(records))
	for _, c := range records {
		meta[c.ID] = chunkMeta{orderIndex: c.OrderIndex}
	}
	fileNames, err := e.fileNamesForDocuments(ctx, projectID, documentIDs(records))
	if err != nil {
		return nil, nil, err
	}
	return meta, fileNames, nil
}

func documentIDs(chunks []*domain.Chunk) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range chunks {
		if _, ok := seen[c.DocumentID]; ok {
			continue
		}
		seen[c.DocumentID] = struct{}{}
		out = append(out, c.DocumentID)
	}
	return out
}

func (e *Executor) fileNamesForDocuments(ctx context.Context, projectID string, documentIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(documentIDs))
	for _, id := range documentIDs {
		doc, err := e.docs.GetDocument(ctx, projectID, id)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			out[id] = doc.FileName
		}
	}
	return out, nil
}
