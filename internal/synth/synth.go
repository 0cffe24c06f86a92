// Package synth turns a budgeted retrieval context into a final answer:
// it builds a generation prompt that instructs the model to cite its
// sources as "[1]", "[2]", ... and hands back the model's response
// verbatim alongside the ordered citation list the caller maps numbers to.
package synth

import (
	"context"
	"strconv"
	"strings"

	"github.com/vasic-digital/graphrag-core/internal/config"
	"github.com/vasic-digital/graphrag-core/internal/domain"
	"github.com/vasic-digital/graphrag-core/internal/llmclient"
)

// Citation is one numbered source the response may reference as "[k]".
type Citation struct {
	Number     int
	DocumentID string
	ChunkIndex int
	Label      string
}

// Response is the synthesizer's output.
type Response struct {
	Text       string
	Citations  []Citation
	TokensUsed llmclient.TokenUsage
}

// Synthesizer generates the final answer from a budgeted context.
type Synthesizer struct {
	gen llmclient.Generator
	cfg config.SynthesisConfig
}

// New builds a Synthesizer.
func New(gen llmclient.Generator, cfg config.SynthesisConfig) *Synthesizer {
	cfg.SetDefaults()
	return &Synthesizer{gen: gen, cfg: cfg}
}

// Answer builds citations from chunks in their given order, assembles a
// prompt instructing numeric citations, and returns the model's response
// verbatim plus the ordered citation list.
func (s *Synthesizer) Answer(ctx context.Context, query, contextText string, chunks []domain.SourceChunk) (Response, error) {
	citations := make([]Citation, len(chunks))
	for i, c := range chunks {
		citations[i] = Citation{
			Number:     i + 1,
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			Label:      c.SourceLabel,
		}
	}

	prompt := buildPrompt(query, contextText, citations)
	text, usage, err := s.gen.Generate(ctx, s.cfg.Model, prompt, s.cfg.MaxTokens)
	if err != nil {
		return Response{}, err
	}

	return Response{Text: strings.TrimSpace(text), Citations: citations, TokensUsed: usage}, nil
}

func buildPrompt(query, contextText string, citations []Citation) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the context below. ")
	b.WriteString("Cite every claim you draw from the context using the matching bracketed number, e.g. [1], [2]. ")
	b.WriteString("If the context does not contain the answer, say so plainly.\n\n")

	b.WriteString("Context:\n")
	for _, c := range citations {
		b.WriteString("[")
		b.WriteString(strconv.Itoa(c.Number))
		b.WriteString("] source: ")
		b.WriteString(c.Label)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(contextText)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\nAnswer:")
	return b.String()
}
