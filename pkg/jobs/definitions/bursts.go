package definitions

import (
	"context"
	"fmt"

	burstpkg "github.com/lumina-project/catalogjobs/pkg/bursts"
	"github.com/lumina-project/catalogjobs/pkg/jobs"
	"github.com/lumina-project/catalogjobs/pkg/models"
)

// burstSnapshotItem is the sentinel work item detect_bursts discovers: the
// whole catalog is clustered in one pass, so there is exactly one item
// (mirrors original_source's batch_size=100000/max_workers=1 "single
// batch" trick, done here with an explicit one-item work set instead).
const burstSnapshotItem jobs.Item = "__catalog_snapshot__"

// newDetectBurstsJob is grounded in
// original_source/lumina/jobs/definitions/bursts.py:
// discover_images_for_bursts loads every timestamped image,
// detect_catalog_bursts clusters and selects a best image per burst in one
// call rather than per-item processing — spec.md §4.8 calls this out
// explicitly as a single-pass design (large batch_size, max_workers = 1).
func newDetectBurstsJob(d Deps) jobs.Job {
	d = d.withDefaults()
	return jobs.Job{
		Name:           "detect_bursts",
		Discover:       func(ctx context.Context, catalogID string) ([]jobs.Item, error) { return []jobs.Item{burstSnapshotItem}, nil },
		Process:        detectBurstsProcess(d),
		BatchSize:      100000,
		MaxWorkers:     1,
		RetryOnFailure: true,
		MaxRetries:     3,
	}
}

func detectBurstsProcess(d Deps) func(context.Context, jobs.Item, jobs.Context) jobs.ProcessResult {
	return func(ctx context.Context, item jobs.Item, jctx jobs.Context) jobs.ProcessResult {
		images, err := d.Gateway.ListImagesWithTimestamps(ctx, jctx.CatalogID)
		if err != nil {
			return jobs.ProcessResult{OK: false, Err: fmt.Errorf("detect_bursts: list images with timestamps: %w", err)}
		}

		opts := burstpkg.DefaultOptions()
		opts.GapThreshold = secondsToDuration(jctx.Float("gap_threshold", opts.GapThreshold.Seconds()))
		opts.MinSize = jctx.Int("min_size", opts.MinSize)
		opts.MinDuration = secondsToDuration(jctx.Float("min_duration", opts.MinDuration.Seconds()))

		burstsFound := burstpkg.DetectBursts(images, opts)

		method := models.SelectionMethod(jctx.String("selection_method", string(models.SelectionQuality)))
		byID := make(map[string]models.TimestampSummary, len(images))
		for _, img := range images {
			byID[img.ID] = img
		}
		for i := range burstsFound {
			members := make([]models.TimestampSummary, 0, len(burstsFound[i].ImageIDs))
			for _, id := range burstsFound[i].ImageIDs {
				members = append(members, byID[id])
			}
			best, err := burstpkg.SelectBestInBurst(members, method)
			if err == nil {
				burstsFound[i].BestImageID = best
			}
			burstsFound[i].SelectionMethod = method
			burstsFound[i].CatalogID = jctx.CatalogID
		}

		if err := d.Gateway.ReplaceBurstGroups(ctx, jctx.CatalogID, burstsFound); err != nil {
			return jobs.ProcessResult{OK: false, Err: fmt.Errorf("detect_bursts: replace burst groups: %w", err)}
		}

		imagesInBursts := 0
		for _, b := range burstsFound {
			imagesInBursts += b.ImageCount
		}

		return jobs.ProcessResult{OK: true, Result: map[string]interface{}{
			"bursts_detected":  len(burstsFound),
			"images_in_bursts": imagesInBursts,
		}}
	}
}
