package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowsWithIDs(ids ...int64) []Row {
	out := make([]Row, len(ids))
	for i, id := range ids {
		out[i] = Row{ID: id}
	}
	return out
}

func TestFuseRRFBothSidesBeatSingleSide(t *testing.T) {
	// Doc 1 is ranked first by both retrievers, doc 2 only by vector.
	fused := fuseRRF(rowsWithIDs(1, 2), rowsWithIDs(1), 60)

	require.Len(t, fused, 2)
	assert.Equal(t, int64(1), fused[0].ID)
	assert.Greater(t, fused[0].Score, fused[1].Score)
	assert.InDelta(t, 2.0/61, fused[0].Score, 1e-9)
}

func TestFuseRRFUnionAndNullableRanks(t *testing.T) {
	fused := fuseRRF(rowsWithIDs(10, 20), rowsWithIDs(30, 10), 60)

	require.Len(t, fused, 3)

	byID := map[int64]HybridRow{}
	for _, h := range fused {
		byID[h.ID] = h
	}

	both := byID[10]
	require.NotNil(t, both.VectorRank)
	require.NotNil(t, both.FTSRank)
	assert.Equal(t, 1, *both.VectorRank)
	assert.Equal(t, 2, *both.FTSRank)

	vecOnly := byID[20]
	assert.NotNil(t, vecOnly.VectorRank)
	assert.Nil(t, vecOnly.FTSRank)

	ftsOnly := byID[30]
	assert.Nil(t, ftsOnly.VectorRank)
	assert.NotNil(t, ftsOnly.FTSRank)
}

func TestFuseRRFTieKeepsVectorOrder(t *testing.T) {
	// Equal ranks on opposite sides score identically; the vector-side
	// entry was inserted first and stays first.
	fused := fuseRRF(rowsWithIDs(1), rowsWithIDs(2), 60)

	require.Len(t, fused, 2)
	assert.Equal(t, fused[0].Score, fused[1].Score)
	assert.Equal(t, int64(1), fused[0].ID)
	assert.Equal(t, int64(2), fused[1].ID)
}

func TestFuseRRFScoreDecaysWithRank(t *testing.T) {
	fused := fuseRRF(rowsWithIDs(1, 2, 3), nil, 60)

	require.Len(t, fused, 3)
	assert.Greater(t, fused[0].Score, fused[1].Score)
	assert.Greater(t, fused[1].Score, fused[2].Score)
	assert.InDelta(t, 1.0/61, fused[0].Score, 1e-9)
	assert.InDelta(t, 1.0/63, fused[2].Score, 1e-9)
}

func TestFormatRank(t *testing.T) {
	assert.Equal(t, "-", FormatRank(nil))
	three := 3
	assert.Equal(t, "3", FormatRank(&three))
}
