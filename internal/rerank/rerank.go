// Package rerank adapts an external reranker endpoint behind a circuit
// breaker: a timeout, a run of failures, or an already-open breaker all
// fall back to the original vector-search order rather than blocking or
// erroring the query path.
package rerank

import (
	"context"
	"sort"

	"github.com/vasic-digital/graphrag-core/internal/circuitbreaker"
	"github.com/vasic-digital/graphrag-core/internal/config"
	"github.com/vasic-digital/graphrag-core/internal/llmclient"
)

// Ranked is one reranked chunk: its original index and text, the score
// assigned by the provider (or a synthetic identity score on fallback),
// and its rank before and after reranking.
type Ranked struct {
	Index   int
	Text    string
	Score   float64
	OldRank int
	NewRank int
	// Fallback is true if this result came from the identity mapping
	// rather than a real provider call.
	Fallback bool
}

// Reranker scores a candidate chunk list against a query, falling back to
// identity order on any provider failure.
type Reranker struct {
	provider  llmclient.Reranker
	breakers  *circuitbreaker.Registry
	cfg       config.RerankConfig
	model     string
}

// New builds a Reranker. provider may be nil; the adapter then always
// falls back to identity mapping, matching the "provider is none or
// disabled" rule.
func New(provider llmclient.Reranker, breakers *circuitbreaker.Registry, model string, cfg config.RerankConfig) *Reranker {
	cfg.SetDefaults()
	return &Reranker{provider: provider, breakers: breakers, cfg: cfg, model: model}
}

// Rerank scores chunks against query and returns the top_k results. It
// always returns a result for every slot it can fill; it never errors —
// any failure degrades to the identity mapping.
func (r *Reranker) Rerank(ctx context.Context, query string, chunks []string, topK int) []Ranked {
	if topK <= 0 || topK > len(chunks) {
		topK = len(chunks)
	}

	if !r.cfg.Enabled || r.cfg.Provider == "none" || r.provider == nil {
		return identity(chunks, topK)
	}

	breaker := r.breakers.For(r.cfg.Provider)
	if !breaker.Allow() {
		return identity(chunks, topK)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.FallbackTimeout)
	defer cancel()

	results, err := r.provider.Rerank(callCtx, r.model, query, chunks, topK)
	if err != nil {
		breaker.RecordFailure()
		return identity(chunks, topK)
	}
	breaker.RecordSuccess()

	return r.applyScores(chunks, results, topK)
}

func (r *Reranker) applyScores(chunks []string, results []llmclient.RerankResult, topK int) []Ranked {
	oldRank := make(map[int]int, len(chunks))
	for i := range chunks {
		oldRank[i] = i
	}

	filtered := make([]llmclient.RerankResult, 0, len(results))
	for _, res := range results {
		if res.Score < r.cfg.MinScore {
			continue
		}
		filtered = append(filtered, res)
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })

	if len(filtered) > topK {
		filtered = filtered[:topK]
	}

	out := make([]Ranked, 0, len(filtered))
	for newRank, res := range filtered {
		if res.Index < 0 || res.Index >= len(chunks) {
			continue
		}
		out = append(out, Ranked{
			Index: res.Index, Text: chunks[res.Index], Score: res.Score,
			OldRank: oldRank[res.Index], NewRank: newRank,
		})
	}
	return out
}

// identity returns the first topK chunks in their original order, scored
// as a descending synthetic rank so callers can still sort on Score.
func identity(chunks []string, topK int) []Ranked {
	out := make([]Ranked, 0, topK)
	for i := 0; i < topK && i < len(chunks); i++ {
		out = append(out, Ranked{
			Index: i, Text: chunks[i], Score: 1.0 - float64(i)*1e-6,
			OldRank: i, NewRank: i, Fallback: true,
		})
	}
	return out
}
