package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasic-digital/graphrag-core/internal/graphragerr"
)

type flakyGenerator struct {
	failuresLeft int
	calls        int
}

func (f *flakyGenerator) Generate(ctx context.Context, model, prompt string, maxTokens int) (string, TokenUsage, error) {
	f.calls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return "", TokenUsage{}, errors.New("transient upstream error")
	}
	return "answer", TokenUsage{InputTokens: 10, OutputTokens: 5}, nil
}

func TestRetryingGeneratorSucceedsAfterTransientFailures(t *testing.T) {
	inner := &flakyGenerator{failuresLeft: 2}
	g := &RetryingGenerator{
		Inner: inner,
		Retry: RetryConfig{MaxElapsedTime: time.Second, InitialBackoff: time.Millisecond},
	}

	text, usage, err := g.Generate(context.Background(), "model", "prompt", 100)
	require.NoError(t, err)
	assert.Equal(t, "answer", text)
	assert.Equal(t, 10, usage.InputTokens)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingGeneratorFailsWithLLMFatalAfterBudgetExhausted(t *testing.T) {
	inner := &flakyGenerator{failuresLeft: 1000}
	g := &RetryingGenerator{
		Inner:     inner,
		ProjectID: "proj-1",
		Retry:     RetryConfig{MaxElapsedTime: 20 * time.Millisecond, InitialBackoff: time.Millisecond},
	}

	_, _, err := g.Generate(context.Background(), "model", "prompt", 100)
	require.Error(t, err)
	assert.True(t, graphragerr.Is(err, graphragerr.LLMFatal))
}

func TestRetryingGeneratorRespectsPermanentClassification(t *testing.T) {
	inner := &flakyGenerator{failuresLeft: 1000}
	g := &RetryingGenerator{
		Inner:    inner,
		Retry:    RetryConfig{MaxElapsedTime: time.Second, InitialBackoff: time.Millisecond},
		Classify: func(error) bool { return false },
	}

	_, _, err := g.Generate(context.Background(), "model", "prompt", 100)
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}
