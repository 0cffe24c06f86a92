package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeRoundRobinsAcrossSources(t *testing.T) {
	sources := []Source{
		{Name: "entities", Items: []Item{{Text: "e1"}, {Text: "e2"}}},
		{Name: "relations", Items: []Item{{Text: "r1"}, {Text: "r2"}}},
	}
	result := Merge(sources, 1000)
	expected := []string{"e1", "r1", "e2", "r2"}
	for i, item := range result.Included {
		assert.Equal(t, expected[i], item.Text)
	}
}

func TestMergeSkipsOverflowingItemAndContinues(t *testing.T) {
	sources := []Source{
		{Name: "a", Items: []Item{{Text: "one two three four five"}}},
		{Name: "b", Items: []Item{{Text: "x"}}},
	}
	result := Merge(sources, 1)
	assert.Equal(t, 1, len(result.Included))
	assert.Equal(t, "x", result.Included[0].Text)
	assert.Equal(t, 1, result.ItemsSkipped)
}

func TestMergeStopsWhenBudgetExhausted(t *testing.T) {
	sources := []Source{
		{Name: "a", Items: []Item{{Text: "one"}, {Text: "two"}, {Text: "three"}}},
	}
	result := Merge(sources, 2)
	assert.Equal(t, 2, len(result.Included))
	assert.Equal(t, 2, result.TokensUsed)
}

func TestMergeEmptySources(t *testing.T) {
	result := Merge(nil, 100)
	assert.Empty(t, result.Included)
	assert.Equal(t, "", result.Text)
}
