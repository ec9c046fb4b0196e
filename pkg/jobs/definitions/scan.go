package definitions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lumina-project/catalogjobs/pkg/jobs"
	"github.com/lumina-project/catalogjobs/pkg/models"
)

// newScanJob is grounded in
// original_source/lumina/jobs/definitions/scan.py: discover_files walks
// each source directory filtering by extension, process_file hashes and
// optionally extracts metadata/thumbnails, finalize_scan totals bytes and
// counts by file type.
func newScanJob(d Deps) jobs.Job {
	d = d.withDefaults()
	return jobs.Job{
		Name:           "scan",
		Discover:       scanDiscover(d),
		Process:        scanProcess(d),
		Finalize:       scanFinalize,
		BatchSize:      500,
		MaxWorkers:     4,
		RetryOnFailure: true,
		MaxRetries:     3,
	}
}

func scanDiscover(d Deps) func(context.Context, string) ([]jobs.Item, error) {
	return func(ctx context.Context, catalogID string) ([]jobs.Item, error) {
		dirs, err := d.Gateway.ListSourceDirectories(ctx, catalogID)
		if err != nil {
			return nil, fmt.Errorf("scan: list source directories: %w", err)
		}

		var items []jobs.Item
		for _, dir := range dirs {
			info, err := os.Stat(dir)
			if err != nil || !info.IsDir() {
				continue
			}
			err = filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
				if err != nil || entry.IsDir() {
					return nil
				}
				if IsWhitelisted(path) {
					items = append(items, path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("scan: walk %s: %w", dir, err)
			}
		}
		return items, nil
	}
}

func scanProcess(d Deps) func(context.Context, jobs.Item, jobs.Context) jobs.ProcessResult {
	return func(ctx context.Context, item jobs.Item, jctx jobs.Context) jobs.ProcessResult {
		path := item
		checksum, size, err := sha256File(path)
		if err != nil {
			return jobs.ProcessResult{OK: false, Err: fmt.Errorf("scan: hash %s: %w", path, err)}
		}
		fileType := classifyFileType(path)

		img := &models.Image{
			CatalogID:  jctx.CatalogID,
			SourcePath: path,
			Checksum:   checksum,
			SizeBytes:  size,
			FileType:   fileType,
			Status:     models.ImageStatusPending,
		}

		if jctx.Bool("extract_metadata", true) {
			meta, dates, err := d.Metadata.Extract(path, fileType)
			if err != nil {
				return jobs.ProcessResult{OK: false, Err: fmt.Errorf("scan: extract metadata %s: %w", path, err)}
			}
			img.Metadata = meta
			img.Dates = dates
		}

		if jctx.Bool("generate_thumbnail", false) && d.Thumbnailer != nil && d.ThumbDir != "" {
			thumbPath, err := d.Thumbnailer.Generate(ctx, path, d.ThumbDir, 256, 85)
			if err != nil {
				img.Metadata = withError(img.Metadata, "thumbnail_error", err.Error())
			} else {
				img.ThumbnailPath = thumbPath
			}
		}

		if err := d.Gateway.UpsertImage(ctx, img); err != nil {
			return jobs.ProcessResult{OK: false, Err: fmt.Errorf("scan: upsert %s: %w", path, err)}
		}

		return jobs.ProcessResult{OK: true, Result: map[string]interface{}{
			"path":       path,
			"checksum":   checksum,
			"size_bytes": size,
			"file_type":  string(fileType),
		}}
	}
}

func scanFinalize(ctx context.Context, results []map[string]interface{}, catalogID string, jctx jobs.Context) (map[string]interface{}, error) {
	var totalSize int64
	var images, videos int
	for _, r := range results {
		if ft, _ := r["file_type"].(string); ft == string(models.FileTypeVideo) {
			videos++
		} else {
			images++
		}
		switch v := r["size_bytes"].(type) {
		case int64:
			totalSize += v
		case int:
			totalSize += int64(v)
		}
	}
	return map[string]interface{}{
		"total_files":       len(results),
		"total_images":      images,
		"total_videos":      videos,
		"total_size_bytes":  totalSize,
	}, nil
}

func withError(m map[string]interface{}, key, val string) map[string]interface{} {
	if m == nil {
		m = make(map[string]interface{})
	}
	m[key] = val
	return m
}
