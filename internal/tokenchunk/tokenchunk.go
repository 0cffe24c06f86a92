// Package tokenchunk implements token counting and sliding-window chunking
// of prose with fixed overlap. Token counting here is a deterministic
// approximation (word-boundary based) rather than a model-specific BPE
// tokenizer: a stable, repeatable count is what budgeting needs, not
// fidelity to a particular model's vocabulary.
package tokenchunk

import (
	"strings"
	"unicode"
)

// Chunk is a single prose chunk produced by Chunk.
type Chunk struct {
	Content    string
	OrderIndex int
	Tokens     int
}

// CountTokens returns a deterministic token estimate for text. It splits on
// whitespace and punctuation boundaries, which is stable across calls and
// close enough to a real tokenizer's count for budgeting purposes.
func CountTokens(text string) int {
	count := 0
	inToken := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inToken = false
			continue
		}
		if isWordRune(r) {
			if !inToken {
				count++
				inToken = true
			}
			continue
		}
		// Punctuation counts as its own token (mirrors BPE's tendency to
		// isolate punctuation), and ends the current word token.
		count++
		inToken = false
	}
	return count
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// Chunk splits text into an ordered sequence of chunks, each with token
// count <= maxTokens, sharing overlapTokens of trailing/leading content
// between consecutive chunks. Splits fall only on whitespace, never mid-word
// (a single word over maxTokens becomes a chunk of its own), and within a
// window the cut prefers the last sentence boundary ('.', '!', '?' followed
// by whitespace).
func Chunk(text string, maxTokens, overlapTokens int) []Chunk {
	if maxTokens <= 0 {
		maxTokens = 1
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens - 1
	}

	words := splitKeepingBoundaries(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(words) {
		end := start
		tokens := 0
		lastSentenceBoundary := -1
		for end < len(words) {
			wTokens := CountTokens(words[end])
			if tokens+wTokens > maxTokens && end > start {
				break
			}
			tokens += wTokens
			if endsSentence(words[end]) {
				lastSentenceBoundary = end
			}
			end++
		}
		if end == start {
			// A single word exceeds maxTokens; take it alone to guarantee progress.
			end = start + 1
		}

		// Prefer to cut at the last sentence boundary within this window,
		// so long as it doesn't shrink the chunk to nothing.
		cut := end
		if lastSentenceBoundary >= start && lastSentenceBoundary+1 < end && lastSentenceBoundary+1 > start {
			cut = lastSentenceBoundary + 1
		}

		content := strings.TrimSpace(strings.Join(words[start:cut], ""))
		if content != "" {
			chunks = append(chunks, Chunk{
				Content:    content,
				OrderIndex: len(chunks),
				Tokens:     CountTokens(content),
			})
		}

		if cut >= len(words) {
			break
		}

		// Back up by overlapTokens worth of trailing words for the next window.
		overlapStart := cut
		overlapCount := 0
		for overlapStart > start && overlapCount < overlapTokens {
			overlapStart--
			overlapCount += CountTokens(words[overlapStart])
		}
		if overlapStart <= start {
			overlapStart = cut
		}
		start = overlapStart
	}
	return chunks
}

// splitKeepingBoundaries splits text into words including their trailing
// whitespace, so re-joining a slice reproduces the original substring
// exactly. This keeps chunk boundaries whitespace-aware.
func splitKeepingBoundaries(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	for _, r := range text {
		b.WriteRune(r)
		if unicode.IsSpace(r) {
			flush()
		}
	}
	flush()
	return out
}

func endsSentence(word string) bool {
	trimmed := strings.TrimRightFunc(word, unicode.IsSpace)
	if trimmed == "" {
		return false
	}
	last := trimmed[len(trimmed)-1]
	return last == '.' || last == '!' || last == '?'
}
