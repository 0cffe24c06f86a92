package query

import (
	"strings"

	"github.com/vasic-digital/graphrag-core/internal/tokenchunk"
)

// Item is one unit of context text contributed by a Source, carrying
// enough to both render into the final prompt and be traced back by a
// caller that wants the underlying entity/relation/chunk.
type Item struct {
	Label string
	Text  string
}

// Source is a named, ordered stream of Items competing for the shared
// token budget.
type Source struct {
	Name  string
	Items []Item
}

// MergeResult is the budgeted context assembled across every Source.
type MergeResult struct {
	Text         string
	Included     []Item
	TokensUsed   int
	ItemsSkipped int
}

// Merge round-robins across sources until max_tokens is exhausted or every
// source runs dry. An item whose token cost would overflow the remaining
// budget is skipped (not truncated) and the next source gets a turn with
// the budget still intact. Order within a single source is preserved.
func Merge(sources []Source, maxTokens int) MergeResult {
	cursors := make([]int, len(sources))
	result := MergeResult{}
	budget := maxTokens

	for budget > 0 {
		progressed := false
		for i := range sources {
			if budget <= 0 {
				break
			}
			src := &sources[i]
			if cursors[i] >= len(src.Items) {
				continue
			}
			item := src.Items[cursors[i]]
			cursors[i]++
			progressed = true

			cost := tokenchunk.CountTokens(item.Text)
			if cost > budget {
				result.ItemsSkipped++
				continue
			}
			budget -= cost
			result.TokensUsed += cost
			result.Included = append(result.Included, item)
		}
		if !progressed {
			break
		}
	}

	result.Text = renderText(result.Included)
	return result
}

func renderText(items []Item) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(item.Text)
	}
	return b.String()
}
