package bursts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-project/catalogjobs/pkg/models"
)

func ts(sec int) *time.Time {
	t := time.Unix(int64(sec), 0)
	return &t
}

func q(v float64) *float64 { return &v }

func TestDetectBurstsFindsTightCluster(t *testing.T) {
	imgs := []models.TimestampSummary{
		{ID: "a", Camera: "cam1", Timestamp: ts(0)},
		{ID: "b", Camera: "cam1", Timestamp: ts(1)},
		{ID: "c", Camera: "cam1", Timestamp: ts(2)},
	}
	opts := DefaultOptions()
	result := DetectBursts(imgs, opts)
	require.Len(t, result, 1)
	assert.Equal(t, 3, result[0].ImageCount)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, result[0].ImageIDs)
}

func TestDetectBurstsSplitsOnGap(t *testing.T) {
	imgs := []models.TimestampSummary{
		{ID: "a", Camera: "cam1", Timestamp: ts(0)},
		{ID: "b", Camera: "cam1", Timestamp: ts(1)},
		{ID: "c", Camera: "cam1", Timestamp: ts(2)},
		{ID: "d", Camera: "cam1", Timestamp: ts(100)},
		{ID: "e", Camera: "cam1", Timestamp: ts(101)},
		{ID: "f", Camera: "cam1", Timestamp: ts(102)},
	}
	result := DetectBursts(imgs, DefaultOptions())
	assert.Len(t, result, 2)
}

func TestDetectBurstsPartitionsByCamera(t *testing.T) {
	imgs := []models.TimestampSummary{
		{ID: "a", Camera: "cam1", Timestamp: ts(0)},
		{ID: "b", Camera: "cam2", Timestamp: ts(0)},
		{ID: "c", Camera: "cam1", Timestamp: ts(1)},
		{ID: "d", Camera: "cam2", Timestamp: ts(1)},
	}
	result := DetectBursts(imgs, DefaultOptions())
	assert.Empty(t, result) // each camera only has 2 images, below min_size 3
}

func TestDetectBurstsBelowMinSizeReturnsNil(t *testing.T) {
	imgs := []models.TimestampSummary{
		{ID: "a", Camera: "cam1", Timestamp: ts(0)},
		{ID: "b", Camera: "cam1", Timestamp: ts(1)},
	}
	assert.Empty(t, DetectBursts(imgs, DefaultOptions()))
}

func TestSelectBestInBurstQuality(t *testing.T) {
	imgs := []models.TimestampSummary{
		{ID: "a", QualityScore: q(0.2)},
		{ID: "b", QualityScore: q(0.8)},
	}
	id, err := SelectBestInBurst(imgs, models.SelectionQuality)
	require.NoError(t, err)
	assert.Equal(t, "b", id)
}

func TestSelectBestInBurstFirstAndMiddle(t *testing.T) {
	imgs := []models.TimestampSummary{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	first, err := SelectBestInBurst(imgs, models.SelectionFirst)
	require.NoError(t, err)
	assert.Equal(t, "a", first)

	middle, err := SelectBestInBurst(imgs, models.SelectionMiddle)
	require.NoError(t, err)
	assert.Equal(t, "b", middle)
}

func TestSelectBestInBurstEmptyErrors(t *testing.T) {
	_, err := SelectBestInBurst(nil, models.SelectionQuality)
	assert.Error(t, err)
}
