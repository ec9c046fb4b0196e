// Package imagehash computes perceptual fingerprints (dHash, aHash, wHash)
// for images and measures their similarity. Image decoding and EXIF
// extraction are treated as external collaborators: this package depends
// only on a small Decoder interface, not on any specific format library, so
// callers may plug in a richer decoder (e.g. one with HEIC/RAW support)
// without touching the hashing math.
package imagehash

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// Decoder turns a file on disk into a grayscale pixel grid.
type Decoder interface {
	Decode(path string) (*image.Gray, error)
}

// StdlibDecoder decodes with the standard library's registered image
// formats (JPEG, PNG, GIF) and converts to grayscale. It has no
// understanding of HEIC/RAW/video container formats; a processor that
// needs those should supply its own Decoder.
type StdlibDecoder struct{}

// Decode implements Decoder.
func (StdlibDecoder) Decode(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	return toGray(img), nil
}

func toGray(src image.Image) *image.Gray {
	bounds := src.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, src.At(x, y))
		}
	}
	return gray
}

// DefaultDecoder is the Decoder used when callers don't supply their own.
var DefaultDecoder Decoder = StdlibDecoder{}
