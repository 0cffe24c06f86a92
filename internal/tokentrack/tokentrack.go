// Package tokentrack implements a request-scoped, thread-safe LLM
// token-usage accumulator, created at request ingress and threaded down
// through the call stack explicitly rather than resolved from ambient
// state. A package-level prometheus counter vector also records cumulative
// totals for process-wide observability.
package tokentrack

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OpType labels which pipeline stage consumed tokens.
type OpType string

const (
	OpExtraction        OpType = "extraction"
	OpGleaning          OpType = "gleaning"
	OpSummarization     OpType = "summarization"
	OpKeywordExtraction OpType = "keyword_extraction"
	OpSynthesis         OpType = "synthesis"
	OpEmbedding         OpType = "embedding"
	OpRerank            OpType = "rerank"
)

// Entry is one recorded LLM call.
type Entry struct {
	OpType       OpType
	Model        string
	InputTokens  int
	OutputTokens int
	Timestamp    time.Time
}

// Breakdown aggregates usage for a single OpType.
type Breakdown struct {
	Calls        int
	InputTokens  int
	OutputTokens int
}

// Summary is the structured counter set returned to callers on response
// completion.
type Summary struct {
	TotalInputTokens  int
	TotalOutputTokens int
	ByOpType          map[OpType]Breakdown
}

// Tracker is an append-only, thread-safe log of token usage for a single
// request. The zero value is not usable; construct with New.
type Tracker struct {
	mu      sync.Mutex
	entries []Entry
}

// New creates a request-scoped Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Record appends one LLM call's usage and bumps the process-wide metrics.
func (t *Tracker) Record(op OpType, model string, inputTokens, outputTokens int) {
	t.mu.Lock()
	t.entries = append(t.entries, Entry{
		OpType:       op,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Timestamp:    time.Now(),
	})
	t.mu.Unlock()

	tokensTotal.WithLabelValues(string(op), "input").Add(float64(inputTokens))
	tokensTotal.WithLabelValues(string(op), "output").Add(float64(outputTokens))
}

// Summary computes the aggregate view of everything recorded so far.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{ByOpType: make(map[OpType]Breakdown)}
	for _, e := range t.entries {
		s.TotalInputTokens += e.InputTokens
		s.TotalOutputTokens += e.OutputTokens
		b := s.ByOpType[e.OpType]
		b.Calls++
		b.InputTokens += e.InputTokens
		b.OutputTokens += e.OutputTokens
		s.ByOpType[e.OpType] = b
	}
	return s
}

// Entries returns a copy of the raw log, for callers that need per-call
// detail rather than the aggregate Summary.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

var tokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "graphrag_llm_tokens_total",
		Help: "Cumulative LLM tokens consumed, by operation type and direction.",
	},
	[]string{"op_type", "direction"},
)

func init() {
	prometheus.MustRegister(tokensTotal)
}
