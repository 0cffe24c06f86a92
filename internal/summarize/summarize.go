// Package summarize collapses the growing list of descriptions an entity
// or relation accumulates across chunks into a single description, either
// by straight concatenation or, once the list grows too large, by a
// map-reduce LLM summarization pass.
package summarize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"github.com/vasic-digital/graphrag-core/internal/config"
	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/llmclient"
	"github.com/vasic-digital/graphrag-core/internal/store"
	"github.com/vasic-digital/graphrag-core/internal/tokenchunk"
)

// Result carries the summarized description plus any degradation that
// occurred while bounding the reduce phase.
type Result struct {
	Description string
	Warning     string
}

// Summarizer runs the needs_summarization decision and, when triggered,
// the map-reduce LLM passes described by DescriptionConfig.
type Summarizer struct {
	gen   llmclient.Generator
	cache store.ExtractionCacheStore
	cfg   config.DescriptionConfig
}

// New builds a Summarizer. cache may be nil to disable result caching.
func New(gen llmclient.Generator, cache store.ExtractionCacheStore, cfg config.DescriptionConfig) *Summarizer {
	return &Summarizer{gen: gen, cache: cache, cfg: cfg}
}

// needsSummarization reports whether descriptions must be reduced via LLM
// rather than simply joined.
func (s *Summarizer) needsSummarization(descriptions []string) bool {
	if len(descriptions) >= s.cfg.ForceSummaryCount {
		return true
	}
	total := 0
	for _, d := range descriptions {
		total += tokenchunk.CountTokens(d)
	}
	return total >= s.cfg.SummaryContextSize
}

func cacheHash(entityName string, descriptions []string) string {
	sum := sha256.Sum256([]byte(entityName + "\x00" + strings.Join(descriptions, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Summarize collapses descriptions for a named entity (or relation,
// identified the same way by its own composite name) into one
// description, caching the LLM-reduced result under SUMMARIZATION.
func (s *Summarizer) Summarize(ctx context.Context, projectID, name string, descriptions []string) (Result, error) {
	if !s.needsSummarization(descriptions) {
		return Result{Description: strings.Join(descriptions, s.cfg.Separator)}, nil
	}

	hash := cacheHash(name, descriptions)
	if s.cache != nil {
		entry, err := s.cache.Get(ctx, projectID, domain.CacheSummarization, hash)
		if err != nil {
			return Result{}, err
		}
		if entry != nil {
			return Result{Description: entry.Result}, nil
		}
	}

	result, err := s.mapReduce(ctx, name, descriptions)
	if err != nil {
		return Result{}, err
	}

	if s.cache != nil {
		entry := &domain.ExtractionCacheEntry{
			ID:          uuid.NewString(),
			ProjectID:   projectID,
			Type:        domain.CacheSummarization,
			ContentHash: hash,
			Result:      result.Description,
		}
		if err := s.cache.Put(ctx, entry); err != nil {
			return Result{}, err
		}
	}
	return result, nil
}

func (s *Summarizer) mapReduce(ctx context.Context, name string, descriptions []string) (Result, error) {
	batches := batchByTokens(descriptions, s.cfg.SummaryMaxTokens)
	summaries := make([]string, 0, len(batches))
	for _, batch := range batches {
		summary, err := s.callSummarizeLLM(ctx, name, batch)
		if err != nil {
			return Result{}, err
		}
		summaries = append(summaries, summary)
	}

	iterations := 0
	for len(summaries) > 1 && iterations < s.cfg.MaxMapIterations {
		batches = batchByTokens(summaries, s.cfg.SummaryMaxTokens)
		if len(batches) == len(summaries) {
			// No two summaries fit one batch under the token limit; pair
			// them so each pass still shrinks the list.
			batches = nil
			for i := 0; i < len(summaries); i += 2 {
				batches = append(batches, summaries[i:min(i+2, len(summaries))])
			}
		}
		next := make([]string, 0, len(batches))
		for _, batch := range batches {
			summary, err := s.callSummarizeLLM(ctx, name, batch)
			if err != nil {
				return Result{}, err
			}
			next = append(next, summary)
		}
		summaries = next
		iterations++
	}

	if len(summaries) == 1 {
		return Result{Description: summaries[0]}, nil
	}

	joined := strings.Join(summaries, s.cfg.Separator)
	joined = truncateToTokens(joined, s.cfg.SummaryMaxTokens)
	return Result{
		Description: joined,
		Warning:     "summary reduction hit max_map_iterations; truncated to the token ceiling",
	}, nil
}

func (s *Summarizer) callSummarizeLLM(ctx context.Context, name string, batch []string) (string, error) {
	prompt := summarizePrompt(name, batch)
	text, _, err := s.gen.Generate(ctx, "", prompt, s.cfg.SummaryMaxTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func summarizePrompt(name string, descriptions []string) string {
	var b strings.Builder
	b.WriteString("Summarize the following descriptions of \"")
	b.WriteString(name)
	b.WriteString("\" into a single coherent description, preserving every distinct fact:\n\n")
	for _, d := range descriptions {
		b.WriteString("- ")
		b.WriteString(d)
		b.WriteString("\n")
	}
	return b.String()
}

// batchByTokens partitions descriptions into batches whose token count
// each stays at or under maxTokens, preserving order.
func batchByTokens(items []string, maxTokens int) [][]string {
	if maxTokens <= 0 {
		return [][]string{items}
	}
	var batches [][]string
	var current []string
	currentTokens := 0
	for _, item := range items {
		tokens := tokenchunk.CountTokens(item)
		if len(current) > 0 && currentTokens+tokens > maxTokens {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, item)
		currentTokens += tokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func truncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ")
}
