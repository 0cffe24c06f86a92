package namespace

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var validDatabaseName = regexp.MustCompile(`^graph_[0-9a-f]{32}$`)

func TestDatabaseNameIsDeterministicAndValid(t *testing.T) {
	a := DatabaseName("project-a")
	b := DatabaseName("project-a")
	assert.Equal(t, a, b)
	assert.Regexp(t, validDatabaseName, a)
}

func TestDatabaseNameDiffersPerProject(t *testing.T) {
	assert.NotEqual(t, DatabaseName("project-a"), DatabaseName("project-b"))
}
