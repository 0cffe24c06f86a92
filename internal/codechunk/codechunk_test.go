package codechunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTracksFunctionScope(t *testing.T) {
	src := `package demo

import "fmt"

func Greet(name string) string {
	return "hello " + name
}
`
	chunks := Chunk(src, 1000, 0)
	require.NotEmpty(t, chunks)
	found := false
	for _, c := range chunks {
		if strings.Contains(c.Content, "func Greet") {
			assert.Equal(t, "Greet", c.ScopeName)
			assert.Equal(t, ScopeFunction, c.ScopeType)
			found = true
		}
	}
	assert.True(t, found)
}

func TestChunkLineRangesAreContiguousAndOneBased(t *testing.T) {
	src := strings.Repeat("x := 1;\n", 100)
	chunks := Chunk(src, 20, 2)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 1, chunks[0].StartLine)
	for i, c := range chunks {
		assert.GreaterOrEqual(t, c.StartLine, 1)
		assert.GreaterOrEqual(t, c.EndLine, c.StartLine)
		if i > 0 {
			assert.LessOrEqual(t, c.StartLine, chunks[i-1].EndLine+1, "no gap between consecutive chunks")
		}
	}
}

func TestChunkKeepsImportsContiguousAtHead(t *testing.T) {
	src := `import "fmt"
import "os"

func main() {}
`
	chunks := Chunk(src, 1000, 0)
	require.NotEmpty(t, chunks)
	assert.Equal(t, ChunkTypeImports, chunks[0].ChunkType)
}

func TestChunkOrderIndexSequential(t *testing.T) {
	src := strings.Repeat("line of code here\n", 200)
	chunks := Chunk(src, 15, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.OrderIndex)
	}
}

func TestChunkEmptySource(t *testing.T) {
	assert.Empty(t, Chunk("", 100, 10))
}
