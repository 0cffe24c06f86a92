package rerank

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasic-digital/graphrag-core/internal/circuitbreaker"
	"github.com/vasic-digital/graphrag-core/internal/config"
	"github.com/vasic-digital/graphrag-core/internal/llmclient"
)

type scriptedProvider struct {
	results []llmclient.RerankResult
	err     error
	calls   int
}

func (p *scriptedProvider) Rerank(ctx context.Context, model, query string, passages []string, topK int) ([]llmclient.RerankResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.results, nil
}

func baseCfg() config.RerankConfig {
	cfg := config.RerankConfig{Enabled: true, Provider: "cohere"}
	cfg.SetDefaults()
	return cfg
}

func TestRerankReturnsIdentityWhenDisabled(t *testing.T) {
	cfg := config.RerankConfig{Enabled: false}
	r := New(&scriptedProvider{}, circuitbreaker.NewRegistry(5, time.Second), "m", cfg)
	out := r.Rerank(context.Background(), "q", []string{"a", "b", "c"}, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Text)
	assert.True(t, out[0].Fallback)
}

func TestRerankReturnsIdentityWhenProviderIsNone(t *testing.T) {
	cfg := config.RerankConfig{Enabled: true, Provider: "none"}
	r := New(&scriptedProvider{}, circuitbreaker.NewRegistry(5, time.Second), "m", cfg)
	out := r.Rerank(context.Background(), "q", []string{"a", "b"}, 5)
	require.Len(t, out, 2)
}

func TestRerankAppliesProviderScoresAndFiltersBelowMinScore(t *testing.T) {
	provider := &scriptedProvider{results: []llmclient.RerankResult{
		{Index: 1, Score: 0.9},
		{Index: 0, Score: 0.05},
		{Index: 2, Score: 0.5},
	}}
	cfg := baseCfg()
	r := New(provider, circuitbreaker.NewRegistry(5, time.Second), "m", cfg)
	out := r.Rerank(context.Background(), "q", []string{"zero", "one", "two"}, 5)

	require.Len(t, out, 2, "the 0.05 score should be filtered by MinScore default 0.1")
	assert.Equal(t, "one", out[0].Text)
	assert.Equal(t, 0, out[0].NewRank)
	assert.Equal(t, "two", out[1].Text)
}

func TestRerankFallsBackToIdentityOnProviderError(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("boom")}
	r := New(provider, circuitbreaker.NewRegistry(5, time.Second), "m", baseCfg())
	out := r.Rerank(context.Background(), "q", []string{"a", "b"}, 5)
	require.Len(t, out, 2)
	assert.True(t, out[0].Fallback)
}

func TestRerankOpensBreakerAfterConsecutiveFailuresAndShortCircuits(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("boom")}
	breakers := circuitbreaker.NewRegistry(2, time.Hour)
	cfg := baseCfg()
	r := New(provider, breakers, "m", cfg)

	r.Rerank(context.Background(), "q", []string{"a"}, 1)
	r.Rerank(context.Background(), "q", []string{"a"}, 1)
	assert.Equal(t, 2, provider.calls)

	r.Rerank(context.Background(), "q", []string{"a"}, 1)
	assert.Equal(t, 2, provider.calls, "breaker should be open, short-circuiting the third call")
}
