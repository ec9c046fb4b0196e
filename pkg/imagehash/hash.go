package imagehash

import (
	"fmt"
	"image"
	"math/bits"
	"sort"

	"golang.org/x/image/draw"
)

// HashSize is the grid dimension used by every hash (8x8 = 64 bits).
const HashSize = 8

// ComputeDHash returns the difference hash of the image at path as a
// lowercase 16-hex-digit (64-bit) string. It resizes to (HashSize+1)xHashSize
// with a high-quality filter and sets bit[i*8+j] = pixel(i,j) > pixel(i,j+1).
func ComputeDHash(path string, dec Decoder) (string, error) {
	gray, err := decodeWith(path, dec)
	if err != nil {
		return "", err
	}
	small := resizeGray(gray, HashSize+1, HashSize)

	var bitsOut []int
	for row := 0; row < HashSize; row++ {
		for col := 0; col < HashSize; col++ {
			left := small.GrayAt(col, row)
			right := small.GrayAt(col+1, row)
			if left > right {
				bitsOut = append(bitsOut, 1)
			} else {
				bitsOut = append(bitsOut, 0)
			}
		}
	}
	return bitsToHex(bitsOut), nil
}

// ComputeAHash returns the average hash: resize to 8x8, bit = pixel > mean.
func ComputeAHash(path string, dec Decoder) (string, error) {
	gray, err := decodeWith(path, dec)
	if err != nil {
		return "", err
	}
	small := resizeGray(gray, HashSize, HashSize)

	pixels := small.Pixels()
	var sum int
	for _, p := range pixels {
		sum += int(p)
	}
	mean := float64(sum) / float64(len(pixels))

	bitsOut := make([]int, len(pixels))
	for i, p := range pixels {
		if float64(p) > mean {
			bitsOut[i] = 1
		}
	}
	return bitsToHex(bitsOut), nil
}

// ComputeWHash returns the wavelet hash: resize to 32x32, take the
// low-frequency approximation band of a one-level 2-D Haar transform,
// resize to 8x8, bit = coefficient > median.
func ComputeWHash(path string, dec Decoder) (string, error) {
	gray, err := decodeWith(path, dec)
	if err != nil {
		return "", err
	}
	large := resizeGray(gray, HashSize*4, HashSize*4)

	approx := haarApproximation(large)
	small := resizeFloatGrid(approx, HashSize*2, HashSize*2, HashSize, HashSize)

	sorted := append([]float64(nil), small...)
	sort.Float64s(sorted)
	median := medianOf(sorted)

	bitsOut := make([]int, len(small))
	for i, v := range small {
		if v > median {
			bitsOut[i] = 1
		}
	}
	return bitsToHex(bitsOut), nil
}

// ComputeAll computes all three hashes in one decode pass.
func ComputeAll(path string, dec Decoder) (dhash, ahash, whash string, err error) {
	if dec == nil {
		dec = DefaultDecoder
	}
	gray, err := dec.Decode(path)
	if err != nil {
		return "", "", "", err
	}

	small1 := resizeGray(gray, HashSize+1, HashSize)
	var dbits []int
	for row := 0; row < HashSize; row++ {
		for col := 0; col < HashSize; col++ {
			if small1.GrayAt(col, row) > small1.GrayAt(col+1, row) {
				dbits = append(dbits, 1)
			} else {
				dbits = append(dbits, 0)
			}
		}
	}
	dhash = bitsToHex(dbits)

	small2 := resizeGray(gray, HashSize, HashSize)
	pixels := small2.Pixels()
	var sum int
	for _, p := range pixels {
		sum += int(p)
	}
	mean := float64(sum) / float64(len(pixels))
	abits := make([]int, len(pixels))
	for i, p := range pixels {
		if float64(p) > mean {
			abits[i] = 1
		}
	}
	ahash = bitsToHex(abits)

	large := resizeGray(gray, HashSize*4, HashSize*4)
	approx := haarApproximation(large)
	small3 := resizeFloatGrid(approx, HashSize*2, HashSize*2, HashSize, HashSize)
	sorted := append([]float64(nil), small3...)
	sort.Float64s(sorted)
	median := medianOf(sorted)
	wbits := make([]int, len(small3))
	for i, v := range small3 {
		if v > median {
			wbits[i] = 1
		}
	}
	whash = bitsToHex(wbits)

	return dhash, ahash, whash, nil
}

// HammingDistance is the popcount of h1 xor h2 over 64 bits.
func HammingDistance(h1, h2 string) (int, error) {
	v1, err := parseHex64(h1)
	if err != nil {
		return 0, err
	}
	v2, err := parseHex64(h2)
	if err != nil {
		return 0, err
	}
	return bits.OnesCount64(v1 ^ v2), nil
}

// SimilarityScore converts a Hamming distance into a 0-100 similarity,
// rounded toward zero: 100 * (1 - d/64).
func SimilarityScore(h1, h2 string) (int, error) {
	d, err := HammingDistance(h1, h2)
	if err != nil {
		return 0, err
	}
	return int(100 * (1 - float64(d)/64)), nil
}

func decodeWith(path string, dec Decoder) (*image.Gray, error) {
	if dec == nil {
		dec = DefaultDecoder
	}
	return dec.Decode(path)
}

// grayGrid is a tiny row-major wrapper so hash math doesn't need to reach
// back into image.Gray's Stride bookkeeping everywhere.
type grayGrid struct {
	w, h int
	px   []uint8
}

func (g *grayGrid) GrayAt(x, y int) uint8 { return g.px[y*g.w+x] }
func (g *grayGrid) Pixels() []uint8       { return g.px }

func resizeGray(src *image.Gray, w, h int) *grayGrid {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	px := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px[y*w+x] = dst.GrayAt(x, y).Y
		}
	}
	return &grayGrid{w: w, h: h, px: px}
}

func bitsToHex(bitsIn []int) string {
	var v uint64
	for _, b := range bitsIn {
		v = v<<1 | uint64(b)
	}
	return fmt.Sprintf("%016x", v)
}

func parseHex64(h string) (uint64, error) {
	if len(h) != 16 {
		return 0, fmt.Errorf("hash %q: expected 16 hex digits (64 bits), got %d", h, len(h))
	}
	var v uint64
	_, err := fmt.Sscanf(h, "%016x", &v)
	if err != nil {
		return 0, fmt.Errorf("hash %q: not valid hex: %w", h, err)
	}
	return v, nil
}

func medianOf(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
