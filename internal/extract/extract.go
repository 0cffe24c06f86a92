// Package extract runs the per-chunk entity/relation extraction pass: a
// cached LLM call followed by a bounded number of gleaning follow-ups that
// ask the model for anything it missed the first time.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/graphragerr"
	"github.com/vasic-digital/graphrag-core/internal/llmclient"
	"github.com/vasic-digital/graphrag-core/internal/store"
)

// promptTemplateVersion is mixed into the cache key so a prompt-wording
// change invalidates previously cached extractions rather than silently
// reusing output produced under the old prompt.
const promptTemplateVersion = "extract-v1"

// Result is the accumulated, normalized output of extracting one chunk.
type Result struct {
	Entities  []domain.Entity
	Relations []domain.Relation
	// TokensUsed sums every LLM call spent on this chunk (initial plus gleaning).
	TokensUsed llmclient.TokenUsage
	// CacheIDs lists every extraction-cache entry (initial pass plus
	// gleaning passes) that backed this chunk's result, so the chunk row
	// can be stamped with them for a later rebuild to look up by chunk id.
	CacheIDs []string
}

// Config mirrors config.ExtractionConfig's gleaning knobs.
type Config struct {
	Model          string
	MaxTokens      int
	GleaningPasses int
}

// Extractor runs the cached extraction + gleaning loop for one chunk at a
// time, relying on the caller to batch chunk-level results into the graph
// and vector stores.
type Extractor struct {
	gen   llmclient.Generator
	cache store.ExtractionCacheStore
	cfg   Config
}

// New builds an Extractor. cache may be nil to disable cache
// read/write — extraction always calls the LLM in that case.
func New(gen llmclient.Generator, cache store.ExtractionCacheStore, cfg Config) *Extractor {
	if cfg.GleaningPasses < 0 {
		cfg.GleaningPasses = 0
	}
	return &Extractor{gen: gen, cache: cache, cfg: cfg}
}

func addUsage(a, b llmclient.TokenUsage) llmclient.TokenUsage {
	return llmclient.TokenUsage{
		InputTokens:  a.InputTokens + b.InputTokens,
		OutputTokens: a.OutputTokens + b.OutputTokens,
	}
}

func contentHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Chunk extracts entities and relations from a single chunk's content.
// sourceFilePath is the owning document's file name, stamped onto every
// entity/relation this chunk contributes so LOCAL-mode citations can show
// a readable path instead of a document id.
func (e *Extractor) Chunk(ctx context.Context, projectID string, chunk domain.Chunk, sourceFilePath string) (Result, error) {
	if projectID == "" {
		return Result{}, graphragerr.New(graphragerr.MissingProjectID, projectID, "extract chunk requires a project id")
	}

	var result Result

	baseHash := contentHash(promptTemplateVersion, chunk.Content)
	raw, tokens, cacheID, err := e.callCached(ctx, projectID, domain.CacheEntityExtraction, &chunk.ID, baseHash,
		extractionPrompt(chunk.Content))
	if err != nil {
		return Result{}, err
	}
	result.TokensUsed = addUsage(result.TokensUsed, tokens)
	result.CacheIDs = append(result.CacheIDs, cacheID)

	entities, relations := ParseExtraction(raw)

	for pass := 0; pass < e.cfg.GleaningPasses; pass++ {
		passHash := contentHash(promptTemplateVersion, chunk.Content, "gleaning", strconv.Itoa(pass))
		raw, tokens, cacheID, err := e.callCached(ctx, projectID, domain.CacheGleaning, &chunk.ID, passHash,
			gleaningPrompt(chunk.Content, raw))
		if err != nil {
			return Result{}, err
		}
		result.TokensUsed = addUsage(result.TokensUsed, tokens)
		result.CacheIDs = append(result.CacheIDs, cacheID)

		passEntities, passRelations := ParseExtraction(raw)
		if len(passEntities) == 0 && len(passRelations) == 0 {
			break
		}
		entities = append(entities, passEntities...)
		relations = append(relations, passRelations...)
	}

	result.Entities = normalizeEntities(entities, chunk, sourceFilePath)
	result.Relations = normalizeRelations(relations, chunk, sourceFilePath)
	return result, nil
}

func (e *Extractor) callCached(ctx context.Context, projectID string, cacheType domain.CacheType, chunkID *string, hash, prompt string) (string, llmclient.TokenUsage, string, error) {
	if e.cache != nil {
		entry, err := e.cache.Get(ctx, projectID, cacheType, hash)
		if err != nil {
			return "", llmclient.TokenUsage{}, "", err
		}
		if entry != nil {
			return entry.Result, llmclient.TokenUsage{}, entry.ID, nil
		}
	}

	text, usage, err := e.gen.Generate(ctx, e.cfg.Model, prompt, e.cfg.MaxTokens)
	if err != nil {
		return "", llmclient.TokenUsage{}, "", err
	}

	if e.cache != nil {
		entry := &domain.ExtractionCacheEntry{
			ID:          uuid.NewString(),
			ProjectID:   projectID,
			Type:        cacheType,
			ChunkID:     chunkID,
			ContentHash: hash,
			Result:      text,
			TokensUsed:  usage.InputTokens + usage.OutputTokens,
		}
		if err := e.cache.Put(ctx, entry); err != nil {
			return "", llmclient.TokenUsage{}, "", err
		}
		return text, usage, entry.ID, nil
	}
	return text, usage, "", nil
}

func extractionPrompt(content string) string {
	var b strings.Builder
	b.WriteString("Identify all entities and the relations between them in the following text. ")
	b.WriteString("Respond using one record per line: entities as ENTITY|name|type|description, ")
	b.WriteString("relations as RELATION|source|target|keywords|description|weight.\n\nText:\n")
	b.WriteString(content)
	return b.String()
}

func gleaningPrompt(content, priorOutput string) string {
	var b strings.Builder
	b.WriteString("Some entities or relations in the text below may have been missed. ")
	b.WriteString("Using the same record format as before (ENTITY|... and RELATION|...), ")
	b.WriteString("list ONLY the ones not already present in the prior extraction. ")
	b.WriteString("If nothing was missed, respond with an empty line.\n\nText:\n")
	b.WriteString(content)
	b.WriteString("\n\nPrior extraction:\n")
	b.WriteString(priorOutput)
	return b.String()
}

// ParseExtraction turns the pipe-delimited record format emitted by
// extractionPrompt/gleaningPrompt into tentative entities and relations.
// Malformed lines are skipped rather than failing the whole chunk. Exported
// so a rebuild pass can re-parse cached raw extractions without duplicating
// the record format here.
func ParseExtraction(raw string) ([]domain.Entity, []domain.Relation) {
	var entities []domain.Entity
	var relations []domain.Relation

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		switch strings.ToUpper(strings.TrimSpace(fields[0])) {
		case "ENTITY":
			if len(fields) < 4 {
				continue
			}
			entities = append(entities, domain.Entity{
				Name:        strings.TrimSpace(fields[1]),
				Type:        strings.TrimSpace(fields[2]),
				Description: strings.TrimSpace(fields[3]),
			})
		case "RELATION":
			if len(fields) < 6 {
				continue
			}
			weight, err := strconv.ParseFloat(strings.TrimSpace(fields[5]), 64)
			if err != nil {
				weight = 1.0
			}
			relations = append(relations, domain.Relation{
				Source:      strings.TrimSpace(fields[1]),
				Target:      strings.TrimSpace(fields[2]),
				Keywords:    strings.TrimSpace(fields[3]),
				Description: strings.TrimSpace(fields[4]),
				Weight:      weight,
			})
		}
	}
	return entities, relations
}

// normalizeEntities trims names, dedups case-insensitively within the
// chunk (keeping the first non-empty description seen), and stamps provenance.
// sourceFilePath falls back to the chunk's document id when the document
// has no file name, rather than leaving provenance empty.
func normalizeEntities(entities []domain.Entity, chunk domain.Chunk, sourceFilePath string) []domain.Entity {
	if sourceFilePath == "" {
		sourceFilePath = chunk.DocumentID
	}
	seen := make(map[string]int)
	var out []domain.Entity
	for _, e := range entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		e.Name = name
		e.SourceChunkIDs = []string{chunk.ID}
		if sourceFilePath != "" {
			e.SourceFilePaths = []string{sourceFilePath}
		}
		if idx, ok := seen[key]; ok {
			if out[idx].Description == "" {
				out[idx].Description = e.Description
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, e)
	}
	return out
}

// normalizeRelations trims endpoints, drops self-loops outright (the
// graph store would reject them anyway), and dedups by (source, target,
// keywords) within the chunk. sourceFilePath falls back to the chunk's
// document id when the document has no file name.
func normalizeRelations(relations []domain.Relation, chunk domain.Chunk, sourceFilePath string) []domain.Relation {
	if sourceFilePath == "" {
		sourceFilePath = chunk.DocumentID
	}
	seen := make(map[string]int)
	var out []domain.Relation
	for _, r := range relations {
		r.Source = strings.TrimSpace(r.Source)
		r.Target = strings.TrimSpace(r.Target)
		if r.Source == "" || r.Target == "" || strings.EqualFold(r.Source, r.Target) {
			continue
		}
		r.SourceChunkIDs = []string{chunk.ID}
		if sourceFilePath != "" {
			r.SourceFilePaths = []string{sourceFilePath}
		}
		key := strings.ToLower(r.Source) + "|" + strings.ToLower(r.Target) + "|" + strings.ToLower(r.Keywords)
		if idx, ok := seen[key]; ok {
			out[idx].Weight += r.Weight
			continue
		}
		seen[key] = len(out)
		out = append(out, r)
	}
	return out
}
