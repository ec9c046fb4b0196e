package duplicates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-project/catalogjobs/pkg/models"
)

func q(v float64) *float64 { return &v }

func TestGroupByExactMatch(t *testing.T) {
	images := []models.HashSummary{
		{ID: "a", Checksum: "x"},
		{ID: "b", Checksum: "x"},
		{ID: "c", Checksum: "y"},
	}
	groups := GroupByExactMatch(images)
	require.Len(t, groups, 1)
	assert.Equal(t, models.SimilarityExact, groups[0].SimilarityType)
	assert.Equal(t, 100, groups[0].Confidence)
	assert.Len(t, groups[0].Members, 2)
}

func TestGroupByExactMatchIgnoresEmptyChecksum(t *testing.T) {
	images := []models.HashSummary{{ID: "a"}, {ID: "b"}}
	assert.Empty(t, GroupByExactMatch(images))
}

func TestFindSimilarHashesTransitiveClosure(t *testing.T) {
	hashes := map[string]string{
		"a": "0000000000000000",
		"b": "0000000000000001",
		"c": "0000000000000003",
	}
	groups, err := FindSimilarHashes(hashes, 1)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, groups[0])
}

func TestFindSimilarHashesNoMatchesBelowThreshold(t *testing.T) {
	hashes := map[string]string{
		"a": "0000000000000000",
		"b": "ffffffffffffffff",
	}
	groups, err := FindSimilarHashes(hashes, 1)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestGroupBySimilarityConfidenceBounds(t *testing.T) {
	images := []models.HashSummary{
		{ID: "a", DHash: "0000000000000000"},
		{ID: "b", DHash: "0000000000000000"},
	}
	groups, err := GroupBySimilarity(images, "dhash", DefaultThreshold)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 100, groups[0].Confidence)
}

func TestSelectPrimaryImagePrefersQuality(t *testing.T) {
	images := []models.HashSummary{
		{ID: "a", QualityScore: q(0.5)},
		{ID: "b", QualityScore: q(0.9)},
	}
	id, err := SelectPrimaryImage(images)
	require.NoError(t, err)
	assert.Equal(t, "b", id)
}

func TestSelectPrimaryImageFallsBackToSize(t *testing.T) {
	images := []models.HashSummary{
		{ID: "a", SizeBytes: 100},
		{ID: "b", SizeBytes: 200},
	}
	id, err := SelectPrimaryImage(images)
	require.NoError(t, err)
	assert.Equal(t, "b", id)
}

func TestSelectPrimaryImageEmptyErrors(t *testing.T) {
	_, err := SelectPrimaryImage(nil)
	assert.Error(t, err)
}
