package tokentrack

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummaryAggregatesByOpType(t *testing.T) {
	tr := New()
	tr.Record(OpExtraction, "gpt", 100, 20)
	tr.Record(OpExtraction, "gpt", 50, 10)
	tr.Record(OpSynthesis, "gpt", 200, 80)

	s := tr.Summary()
	assert.Equal(t, 350, s.TotalInputTokens)
	assert.Equal(t, 110, s.TotalOutputTokens)
	assert.Equal(t, 2, s.ByOpType[OpExtraction].Calls)
	assert.Equal(t, 150, s.ByOpType[OpExtraction].InputTokens)
	assert.Equal(t, 1, s.ByOpType[OpSynthesis].Calls)
}

func TestTrackerIsThreadSafe(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record(OpEmbedding, "embed-model", 10, 0)
		}()
	}
	wg.Wait()

	s := tr.Summary()
	assert.Equal(t, 1000, s.TotalInputTokens)
	assert.Equal(t, 100, s.ByOpType[OpEmbedding].Calls)
}

func TestEntriesReturnsCopy(t *testing.T) {
	tr := New()
	tr.Record(OpRerank, "m", 1, 1)
	entries := tr.Entries()
	entries[0].InputTokens = 999
	assert.Equal(t, 1, tr.Entries()[0].InputTokens)
}
