package imagehash

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDecoder returns a fixed image regardless of path, so hash math can be
// tested without touching the filesystem.
type fakeDecoder struct{ img *image.Gray }

func (f fakeDecoder) Decode(path string) (*image.Gray, error) { return f.img, nil }

func solidGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func gradientGray(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x * 255) / w)})
		}
	}
	return img
}

func TestComputeDHashDeterministic(t *testing.T) {
	dec := fakeDecoder{img: gradientGray(64, 64)}
	h1, err := ComputeDHash("a.jpg", dec)
	require.NoError(t, err)
	h2, err := ComputeDHash("a.jpg", dec)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)
}

func TestComputeAHashSolidImageIsAllZero(t *testing.T) {
	dec := fakeDecoder{img: solidGray(64, 64, 128)}
	h, err := ComputeAHash("a.jpg", dec)
	require.NoError(t, err)
	assert.Equal(t, "0000000000000000", h)
}

func TestComputeWHashDeterministic(t *testing.T) {
	dec := fakeDecoder{img: gradientGray(64, 64)}
	h1, err := ComputeWHash("a.jpg", dec)
	require.NoError(t, err)
	h2, err := ComputeWHash("a.jpg", dec)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 16)
}

func TestHammingDistanceIdentical(t *testing.T) {
	d, err := HammingDistance("00ff00ff00ff00ff", "00ff00ff00ff00ff")
	require.NoError(t, err)
	assert.Equal(t, 0, d)
}

func TestHammingDistanceMaximal(t *testing.T) {
	d, err := HammingDistance("0000000000000000", "ffffffffffffffff")
	require.NoError(t, err)
	assert.Equal(t, 64, d)
}

func TestHammingDistanceRejectsShortHash(t *testing.T) {
	_, err := HammingDistance("abcd", "00ff00ff00ff00ff")
	assert.Error(t, err)
}

func TestSimilarityScoreMonotonicWithDistance(t *testing.T) {
	same, err := SimilarityScore("00ff00ff00ff00ff", "00ff00ff00ff00ff")
	require.NoError(t, err)
	assert.Equal(t, 100, same)

	opposite, err := SimilarityScore("0000000000000000", "ffffffffffffffff")
	require.NoError(t, err)
	assert.Equal(t, 0, opposite)
}

func TestComputeAllMatchesIndividualComputations(t *testing.T) {
	dec := fakeDecoder{img: gradientGray(64, 64)}
	d, a, w, err := ComputeAll("a.jpg", dec)
	require.NoError(t, err)

	dOnly, err := ComputeDHash("a.jpg", dec)
	require.NoError(t, err)
	aOnly, err := ComputeAHash("a.jpg", dec)
	require.NoError(t, err)
	wOnly, err := ComputeWHash("a.jpg", dec)
	require.NoError(t, err)

	assert.Equal(t, dOnly, d)
	assert.Equal(t, aOnly, a)
	assert.Equal(t, wOnly, w)
}
