package blobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectKeyScopesByProjectAndDocument(t *testing.T) {
	assert.Equal(t, "proj-1/doc-1", objectKey("proj-1", "doc-1"))
	assert.NotEqual(t, objectKey("proj-1", "doc-2"), objectKey("proj-2", "doc-2"))
}
