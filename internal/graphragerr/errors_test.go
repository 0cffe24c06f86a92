package graphragerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageOmitsOtherProjects(t *testing.T) {
	err := New(GraphNotFound, "proj-1", "graph missing")
	assert.Contains(t, err.Error(), "proj-1")
	assert.NotContains(t, err.Error(), "proj-2")
}

func TestRetryable(t *testing.T) {
	assert.True(t, New(LLMTransient, "p", "timeout").Retryable())
	assert.True(t, New(StorageTransient, "p", "deadlock").Retryable())
	assert.False(t, New(LLMFatal, "p", "max retries").Retryable())
	assert.False(t, New(GraphNotFound, "p", "missing").Retryable())
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(StorageTransient, "p", "insert failed", cause)
	require.ErrorIs(t, err, cause)
}

func TestIsThroughWrappedChain(t *testing.T) {
	base := New(MissingProjectID, "", "no project id")
	wrapped := fmt.Errorf("query failed: %w", base)
	assert.True(t, Is(wrapped, MissingProjectID))
	assert.False(t, Is(wrapped, GraphNotFound))
}
