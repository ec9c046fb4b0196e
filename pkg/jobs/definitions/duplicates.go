package definitions

import (
	"context"
	"fmt"

	"github.com/lumina-project/catalogjobs/pkg/duplicates"
	"github.com/lumina-project/catalogjobs/pkg/imagehash"
	"github.com/lumina-project/catalogjobs/pkg/jobs"
	"github.com/lumina-project/catalogjobs/pkg/models"
)

// newDetectDuplicatesJob is grounded in
// original_source/lumina/jobs/definitions/duplicates.py:
// discover_images_for_hashing finds un-hashed images, compute_image_hashes
// computes and persists all three perceptual hashes for one image,
// finalize_duplicates runs exact and perceptual grouping and saves the
// resulting groups.
func newDetectDuplicatesJob(d Deps) jobs.Job {
	d = d.withDefaults()
	return jobs.Job{
		Name:           "detect_duplicates",
		Discover:       detectDuplicatesDiscover(d),
		Process:        detectDuplicatesProcess(d),
		Finalize:       detectDuplicatesFinalize(d),
		BatchSize:      1000,
		MaxWorkers:     4,
		RetryOnFailure: true,
		MaxRetries:     3,
	}
}

func detectDuplicatesDiscover(d Deps) func(context.Context, string) ([]jobs.Item, error) {
	return func(ctx context.Context, catalogID string) ([]jobs.Item, error) {
		ids, err := d.Gateway.ListImagesWithoutHashes(ctx, catalogID)
		if err != nil {
			return nil, fmt.Errorf("detect_duplicates: list images without hashes: %w", err)
		}
		items := make([]jobs.Item, len(ids))
		for i, id := range ids {
			items[i] = id
		}
		return items, nil
	}
}

func detectDuplicatesProcess(d Deps) func(context.Context, jobs.Item, jobs.Context) jobs.ProcessResult {
	return func(ctx context.Context, item jobs.Item, jctx jobs.Context) jobs.ProcessResult {
		imageID := item
		path, err := d.Gateway.GetImagePath(ctx, jctx.CatalogID, imageID)
		if err != nil {
			return jobs.ProcessResult{OK: false, Err: fmt.Errorf("detect_duplicates: resolve path %s: %w", imageID, err)}
		}

		dhash, ahash, whash, err := imagehash.ComputeAll(path, imagehash.DefaultDecoder)
		if err != nil {
			return jobs.ProcessResult{OK: false, Err: fmt.Errorf("detect_duplicates: hash %s: %w", imageID, err)}
		}

		if err := d.Gateway.UpdateImageHashes(ctx, imageID, dhash, ahash, whash); err != nil {
			return jobs.ProcessResult{OK: false, Err: fmt.Errorf("detect_duplicates: persist hashes %s: %w", imageID, err)}
		}

		return jobs.ProcessResult{OK: true, Result: map[string]interface{}{
			"image_id": imageID,
			"dhash":    dhash,
			"ahash":    ahash,
			"whash":    whash,
		}}
	}
}

func detectDuplicatesFinalize(d Deps) func(context.Context, []map[string]interface{}, string, jobs.Context) (map[string]interface{}, error) {
	return func(ctx context.Context, results []map[string]interface{}, catalogID string, jctx jobs.Context) (map[string]interface{}, error) {
		images, err := d.Gateway.ListImagesWithHashes(ctx, catalogID)
		if err != nil {
			return nil, fmt.Errorf("detect_duplicates: list images with hashes: %w", err)
		}

		exactGroups := duplicates.GroupByExactMatch(images)

		hashKey := jctx.String("hash_kind", "dhash")
		threshold := jctx.Int("similarity_threshold", duplicates.DefaultThreshold)
		perceptualGroups, err := duplicates.GroupBySimilarity(images, hashKey, threshold)
		if err != nil {
			return nil, fmt.Errorf("detect_duplicates: group by similarity: %w", err)
		}
		// Identical files hash identically, so a perceptual group as large as
		// its first member's exact group repeats that group and is dropped.
		exactSize := make(map[string]int)
		for _, g := range exactGroups {
			for _, m := range g.Members {
				exactSize[m.ImageID] = len(g.Members)
			}
		}
		kept := perceptualGroups[:0]
		for _, g := range perceptualGroups {
			if exactSize[g.Members[0].ImageID] != len(g.Members) {
				kept = append(kept, g)
			}
		}
		perceptualGroups = kept

		byID := make(map[string]models.HashSummary, len(images))
		for _, img := range images {
			byID[img.ID] = img
		}

		all := append(exactGroups, perceptualGroups...)
		for i := range all {
			all[i].CatalogID = catalogID

			members := make([]models.HashSummary, len(all[i].Members))
			for j, m := range all[i].Members {
				members[j] = byID[m.ImageID]
			}
			primary, err := duplicates.SelectPrimaryImage(members)
			if err != nil {
				return nil, fmt.Errorf("detect_duplicates: select primary image: %w", err)
			}
			all[i].PrimaryImageID = primary
		}

		if err := d.Gateway.ReplaceDuplicateGroups(ctx, catalogID, all); err != nil {
			return nil, fmt.Errorf("detect_duplicates: replace duplicate groups: %w", err)
		}

		totalDuplicates := 0
		for _, g := range all {
			totalDuplicates += len(g.Members)
		}

		return map[string]interface{}{
			"exact_groups":      len(exactGroups),
			"perceptual_groups": len(perceptualGroups),
			"total_duplicates":  totalDuplicates,
		}, nil
	}
}
