package definitions

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/lumina-project/catalogjobs/pkg/jobs"
)

// QualityScorer evaluates one image and returns a score in [0, 100].
// Content-based quality scoring is exactly the kind of model-backed
// per-item processor spec.md §1 treats as pluggable (alongside auto-tag);
// SharpnessScorer is the stdlib-only default, grounded in the same
// Decoder boundary pkg/imagehash uses rather than a distinct image
// pipeline.
type QualityScorer interface {
	Score(ctx context.Context, path string) (float64, error)
}

// SharpnessScorer estimates quality from local contrast: it convolves a
// discrete Laplacian over a full-resolution grayscale copy of the image and
// reports the normalized variance of the response. Blurry or flat images
// produce low variance; sharp, detailed images produce high variance.
type SharpnessScorer struct{}

func (SharpnessScorer) Score(ctx context.Context, path string) (float64, error) {
	gray, err := decodeGray(path)
	if err != nil {
		return 0, fmt.Errorf("quality: decode %s: %w", path, err)
	}

	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 3 || h < 3 {
		return 0, nil
	}

	var sum, sumSq float64
	var n int
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			center := float64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y) * 4
			up := float64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y-1).Y)
			down := float64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y+1).Y)
			left := float64(gray.GrayAt(bounds.Min.X+x-1, bounds.Min.Y+y).Y)
			right := float64(gray.GrayAt(bounds.Min.X+x+1, bounds.Min.Y+y).Y)
			laplacian := center - up - down - left - right
			sum += laplacian
			sumSq += laplacian * laplacian
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean

	// Empirically, natural-image Laplacian variance rarely exceeds a few
	// thousand; clamp and rescale into [0, 100] rather than claim a
	// universal calibration this stdlib-only heuristic can't back up.
	const scaleCeiling = 2000.0
	score := variance / scaleCeiling * 100
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score, nil
}

func decodeGray(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, src.At(x, y))
		}
	}
	return gray, nil
}

// newScoreQualityJob is grounded in spec.md §6's score_quality row
// ("evaluates one image and writes quality_score; no finalizer"); the
// original repository has no equivalent implementation to port, so the
// scoring heuristic itself is this package's own, clearly called out as
// such rather than attributed to the original source.
func newScoreQualityJob(d Deps) jobs.Job {
	d = d.withDefaults()
	scorer := QualityScorer(SharpnessScorer{})

	return jobs.Job{
		Name:           "score_quality",
		Discover:       generateThumbnailsDiscover(d), // same projection: every image with a resolvable path
		Process:        scoreQualityProcess(d, scorer),
		BatchSize:      500,
		MaxWorkers:     4,
		RetryOnFailure: true,
		MaxRetries:     3,
	}
}

func scoreQualityProcess(d Deps, scorer QualityScorer) func(context.Context, jobs.Item, jobs.Context) jobs.ProcessResult {
	return func(ctx context.Context, item jobs.Item, jctx jobs.Context) jobs.ProcessResult {
		imageID := item
		path, err := d.Gateway.GetImagePath(ctx, jctx.CatalogID, imageID)
		if err != nil {
			return jobs.ProcessResult{OK: false, Err: fmt.Errorf("score_quality: resolve path %s: %w", imageID, err)}
		}

		score, err := scorer.Score(ctx, path)
		if err != nil {
			return jobs.ProcessResult{OK: false, Err: fmt.Errorf("score_quality: score %s: %w", imageID, err)}
		}

		if err := d.Gateway.UpdateImageQuality(ctx, imageID, score); err != nil {
			return jobs.ProcessResult{OK: false, Err: fmt.Errorf("score_quality: persist %s: %w", imageID, err)}
		}

		return jobs.ProcessResult{OK: true, Result: map[string]interface{}{
			"image_id":      imageID,
			"quality_score": score,
		}}
	}
}
