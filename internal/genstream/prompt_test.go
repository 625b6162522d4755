package genstream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RemilRLs/KnowHub/internal/vectorstore"
)

func sampleRows() []vectorstore.Row {
	return []vectorstore.Row{
		{ID: 1, Text: "IAM policies grant permissions.", Source: "iam.pdf", Page: 2, Distance: 0.1234},
		{ID: 2, Text: "Roles are assumed temporarily.", Source: "iam.pdf", Page: 5, Distance: 0.4567},
		{ID: 3, Text: "IAM policies grant permissions.", Source: "other.pdf", Page: 1, Distance: 0.5},
	}
}

func TestBuildContextBlock(t *testing.T) {
	block := BuildContextBlock(sampleRows())

	assert.Contains(t, block, "[Chunk number 1 - iam.pdf (page 2) - distance: 0.123]")
	assert.Contains(t, block, "[Chunk number 2 - iam.pdf (page 5) - distance: 0.457]")
	assert.Contains(t, block, "[Chunk number 3 - other.pdf (page 1) - distance: 0.500]")
	assert.Contains(t, block, "IAM policies grant permissions.")
	assert.Equal(t, 2, strings.Count(block, "---\n"))
}

func TestBuildContextBlockEmpty(t *testing.T) {
	assert.Equal(t, "", BuildContextBlock(nil))
}

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages("CTX", "what is IAM?")
	require.Len(t, msgs, 2)

	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "strictly based on the retrieved context")

	assert.Equal(t, "user", msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "CTX")
	assert.Contains(t, msgs[1].Content, "what is IAM?")
	assert.Contains(t, msgs[1].Content, "square brackets")
}

func TestChunkMap(t *testing.T) {
	m := ChunkMap(sampleRows())

	// The duplicated text appears at positions 1 and 3.
	assert.Equal(t, []int{1, 3}, m["IAM policies grant permissions."])
	assert.Equal(t, []int{2}, m["Roles are assumed temporarily."])
}

func TestUniqueSources(t *testing.T) {
	assert.Equal(t, []string{"iam.pdf", "other.pdf"}, UniqueSources(sampleRows()))
	assert.Equal(t, []string{}, UniqueSources(nil))
}
