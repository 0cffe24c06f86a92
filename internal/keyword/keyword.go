// Package keyword extracts high-level (thematic) and low-level
// (entity-centric) search keywords from a user query via a cached LLM
// call, for use by the query pipeline's LOCAL/GLOBAL/HYBRID/MIX modes.
package keyword

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vasic-digital/graphrag-core/internal/config"
	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/graphragerr"
	"github.com/vasic-digital/graphrag-core/internal/llmclient"
	"github.com/vasic-digital/graphrag-core/internal/store"
)

const highLevelPrefix = "HIGH_LEVEL:"
const lowLevelPrefix = "LOW_LEVEL:"

// Extractor turns a query into high-level and low-level keyword lists.
type Extractor struct {
	gen   llmclient.Generator
	cache store.ExtractionCacheStore
	cfg   config.KeywordConfig
	model string
}

// New builds an Extractor. cache may be nil to disable caching entirely.
func New(gen llmclient.Generator, cache store.ExtractionCacheStore, model string, cfg config.KeywordConfig) *Extractor {
	cfg.SetDefaults()
	return &Extractor{gen: gen, cache: cache, cfg: cfg, model: model}
}

func queryHash(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// Extract returns the keyword sets for query, consulting the cache first
// and falling back to the whole query as a single low-level keyword if
// the model's response cannot be parsed.
func (e *Extractor) Extract(ctx context.Context, projectID, query string) (domain.KeywordResult, error) {
	if projectID == "" {
		return domain.KeywordResult{}, graphragerr.New(graphragerr.MissingProjectID, projectID, "keyword extraction requires a project id")
	}

	hash := queryHash(query)
	if e.cache != nil {
		entry, err := e.cache.Get(ctx, projectID, domain.CacheKeywordExtraction, hash)
		if err != nil {
			return domain.KeywordResult{}, err
		}
		if entry != nil && !e.expired(entry) {
			return parseKeywords(entry.Result, query, hash), nil
		}
	}

	raw, _, err := e.gen.Generate(ctx, e.model, extractionPrompt(query), 200)
	if err != nil {
		return domain.KeywordResult{}, err
	}

	if e.cache != nil {
		entry := &domain.ExtractionCacheEntry{
			ID:          uuid.NewString(),
			ProjectID:   projectID,
			Type:        domain.CacheKeywordExtraction,
			ContentHash: hash,
			Result:      raw,
		}
		if err := e.cache.Put(ctx, entry); err != nil {
			return domain.KeywordResult{}, err
		}
	}

	return parseKeywords(raw, query, hash), nil
}

// expired reports whether a cached entry has outlived CacheTTL. A zero
// CreatedAt (as produced by stores that don't round-trip it) is treated
// as fresh rather than expired.
func (e *Extractor) expired(entry *domain.ExtractionCacheEntry) bool {
	if entry.CreatedAt.IsZero() || e.cfg.CacheTTL <= 0 {
		return false
	}
	return time.Since(entry.CreatedAt) > e.cfg.CacheTTL
}

func extractionPrompt(query string) string {
	var b strings.Builder
	b.WriteString("Extract search keywords from the query below. Respond with exactly two lines:\n")
	b.WriteString("HIGH_LEVEL: comma-separated thematic/conceptual keywords\n")
	b.WriteString("LOW_LEVEL: comma-separated specific entity/term keywords\n\nQuery:\n")
	b.WriteString(query)
	return b.String()
}

// parseKeywords tolerantly parses the HIGH_LEVEL:/LOW_LEVEL: lines,
// trimming punctuation and whitespace around each comma-separated item.
// If neither line is present, the whole query becomes the sole low-level
// keyword.
func parseKeywords(raw, query, hash string) domain.KeywordResult {
	result := domain.KeywordResult{QueryHash: hash}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case hasPrefixFold(line, highLevelPrefix):
			result.HighLevel = splitItems(line[len(highLevelPrefix):])
		case hasPrefixFold(line, lowLevelPrefix):
			result.LowLevel = splitItems(line[len(lowLevelPrefix):])
		}
	}
	if len(result.HighLevel) == 0 && len(result.LowLevel) == 0 {
		result.LowLevel = []string{strings.TrimSpace(query)}
	}
	return result
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func splitItems(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.Trim(strings.TrimSpace(item), ".;:")
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
