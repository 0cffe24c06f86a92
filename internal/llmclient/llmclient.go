// Package llmclient defines the contracts the core consumes from the LLM,
// embedding, and reranker endpoints, and wraps the LLM Generator with
// bounded retry (RetryingGenerator): transient errors retry with exponential
// backoff via cenkalti/backoff/v4, escalating to a fatal error once the
// retry budget is exhausted. Embedder and Reranker calls are not retried here.
package llmclient

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vasic-digital/graphrag-core/internal/graphragerr"
)

// TokenUsage mirrors the usage counters every provider call returns.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Generator turns a prompt into text plus the token usage it cost.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, maxTokens int) (text string, usage TokenUsage, err error)
}

// Embedder turns a batch of inputs into embedding vectors plus token usage.
// Batch size is the caller's concern.
type Embedder interface {
	Embed(ctx context.Context, model string, inputs []string) (vectors [][]float32, usage TokenUsage, err error)
}

// RerankResult is one (index, score) pair from the reranker endpoint.
type RerankResult struct {
	Index int
	Score float64
}

// Reranker scores passages against a query and returns the top matches.
type Reranker interface {
	Rerank(ctx context.Context, model, query string, passages []string, topK int) ([]RerankResult, error)
}

// RetryConfig tunes the bounded backoff RetryingGenerator applies around
// Generator calls.
type RetryConfig struct {
	MaxElapsedTime time.Duration
	InitialBackoff time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxElapsedTime <= 0 {
		c.MaxElapsedTime = 20 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	return c
}

// RetryingGenerator decorates a Generator with bounded exponential backoff
// on transient failures, surfacing graphragerr.LLMFatal once retries are
// exhausted.
type RetryingGenerator struct {
	Inner     Generator
	Retry     RetryConfig
	ProjectID string
	// Classify maps a raw provider error to whether it should be retried.
	// Defaults to "always retry" if nil, matching the common case where
	// the provider client doesn't distinguish timeout/5xx/rate-limit from
	// a hard failure.
	Classify func(error) bool
}

func (g *RetryingGenerator) Generate(ctx context.Context, model, prompt string, maxTokens int) (string, TokenUsage, error) {
	cfg := g.Retry.withDefaults()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialBackoff
	bo.MaxElapsedTime = cfg.MaxElapsedTime
	bctx := backoff.WithContext(bo, ctx)

	var text string
	var usage TokenUsage
	var lastErr error

	op := func() error {
		t, u, err := g.Inner.Generate(ctx, model, prompt, maxTokens)
		if err == nil {
			text, usage = t, u
			return nil
		}
		lastErr = err
		if g.Classify != nil && !g.Classify(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, bctx); err != nil {
		return "", TokenUsage{}, graphragerr.Wrap(graphragerr.LLMFatal, g.ProjectID, "generation failed after retries", lastErr)
	}
	return text, usage, nil
}
