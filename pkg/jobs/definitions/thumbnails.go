package definitions

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/lumina-project/catalogjobs/pkg/jobs"
)

// StdlibThumbnailer decodes with the standard library's registered
// formats and rescales with golang.org/x/image/draw's CatmullRom filter —
// the same resampling path pkg/imagehash uses for its own resize step, so
// this package reaches for the same library rather than a second one for
// an adjacent concern.
type StdlibThumbnailer struct{}

// Generate implements Thumbnailer. It produces a JPEG thumbnail up to
// sizePx on its longest side, preserving aspect ratio.
func (StdlibThumbnailer) Generate(ctx context.Context, srcPath, destDir string, sizePx, quality int) (string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("thumbnail: open %s: %w", srcPath, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("thumbnail: decode %s: %w", srcPath, err)
	}

	w, h := thumbDimensions(src.Bounds(), sizePx)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("thumbnail: mkdir %s: %w", destDir, err)
	}
	outPath := filepath.Join(destDir, thumbFilename(srcPath))
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("thumbnail: create %s: %w", outPath, err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, dst, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("thumbnail: encode %s: %w", outPath, err)
	}
	return outPath, nil
}

func thumbDimensions(bounds image.Rectangle, sizePx int) (int, int) {
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return sizePx, sizePx
	}
	if w >= h {
		return sizePx, max(1, h*sizePx/w)
	}
	return max(1, w*sizePx/h), sizePx
}

func thumbFilename(srcPath string) string {
	base := filepath.Base(srcPath)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)] + "_thumb.jpg"
}

// newGenerateThumbnailsJob is grounded in spec.md §6's
// generate_thumbnails row and original_source's placeholder in scan.py
// ("actual implementation needs output directory") — this job definition
// is where that placeholder becomes real, as its own standalone job
// rather than only a scan side-effect, so thumbnails can be (re)generated
// independently with a different size/quality.
func newGenerateThumbnailsJob(d Deps) jobs.Job {
	d = d.withDefaults()
	return jobs.Job{
		Name:           "generate_thumbnails",
		Discover:       generateThumbnailsDiscover(d),
		Process:        generateThumbnailsProcess(d),
		BatchSize:      500,
		MaxWorkers:     4,
		RetryOnFailure: true,
		MaxRetries:     3,
	}
}

func generateThumbnailsDiscover(d Deps) func(context.Context, string) ([]jobs.Item, error) {
	return func(ctx context.Context, catalogID string) ([]jobs.Item, error) {
		images, err := d.Gateway.ListImagesWithHashes(ctx, catalogID)
		if err != nil {
			return nil, fmt.Errorf("generate_thumbnails: list images: %w", err)
		}
		items := make([]jobs.Item, len(images))
		for i, img := range images {
			items[i] = img.ID
		}
		return items, nil
	}
}

func generateThumbnailsProcess(d Deps) func(context.Context, jobs.Item, jobs.Context) jobs.ProcessResult {
	return func(ctx context.Context, item jobs.Item, jctx jobs.Context) jobs.ProcessResult {
		imageID := item
		path, err := d.Gateway.GetImagePath(ctx, jctx.CatalogID, imageID)
		if err != nil {
			return jobs.ProcessResult{OK: false, Err: fmt.Errorf("generate_thumbnails: resolve path %s: %w", imageID, err)}
		}

		sizePx := jctx.Int("size_px", 256)
		quality := jctx.Int("quality", 85)
		thumbPath, err := d.Thumbnailer.Generate(ctx, path, d.ThumbDir, sizePx, quality)
		if err != nil {
			return jobs.ProcessResult{OK: false, Err: fmt.Errorf("generate_thumbnails: generate %s: %w", imageID, err)}
		}

		if err := d.Gateway.UpdateImageThumbnail(ctx, imageID, thumbPath); err != nil {
			return jobs.ProcessResult{OK: false, Err: fmt.Errorf("generate_thumbnails: persist %s: %w", imageID, err)}
		}

		return jobs.ProcessResult{OK: true, Result: map[string]interface{}{
			"image_id":       imageID,
			"thumbnail_path": thumbPath,
		}}
	}
}
