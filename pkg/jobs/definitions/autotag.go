package definitions

import (
	"context"
	"fmt"

	"github.com/lumina-project/catalogjobs/pkg/jobs"
	"github.com/lumina-project/catalogjobs/pkg/models"
)

// TagPrediction is one model-assigned label for an image.
type TagPrediction struct {
	Name       string
	Confidence float64
}

// Tagger computes tags for one image from an external model. Spec.md §1
// lists content-based ML tagging as a non-goal "treated as a pluggable
// per-item processor" — this interface is that pluggable seam.
// NoopTagger is the default when no model is wired in.
type Tagger interface {
	Tag(ctx context.Context, path, model string, topK int) ([]TagPrediction, error)
}

// NoopTagger returns no predictions. auto_tag still runs end-to-end
// (discover, batch, persist-empty, finalize bookkeeping) with this
// default; only the model call itself is a stand-in.
type NoopTagger struct{}

func (NoopTagger) Tag(ctx context.Context, path, model string, topK int) ([]TagPrediction, error) {
	return nil, nil
}

// newAutoTagJob is grounded in
// original_source/lumina/jobs/job_implementations.py's auto_tag_job
// (backend/model/threshold/top_k/tag_mode parameters dispatched to a
// tagging coordinator) and spec.md §6's auto_tag row
// (`model: string`, `top_k: int`). process writes tag relations through
// Gateway.UpsertTags and returns the tag count; it does not write the
// image's processing_flags or metadata.
func newAutoTagJob(d Deps) jobs.Job {
	d = d.withDefaults()
	return jobs.Job{
		Name:           "auto_tag",
		Discover:       generateThumbnailsDiscover(d), // every image with a resolvable path
		Process:        autoTagProcess(d),
		BatchSize:      500,
		MaxWorkers:     4,
		RetryOnFailure: true,
		MaxRetries:     3,
	}
}

func autoTagProcess(d Deps) func(context.Context, jobs.Item, jobs.Context) jobs.ProcessResult {
	return func(ctx context.Context, item jobs.Item, jctx jobs.Context) jobs.ProcessResult {
		imageID := item
		path, err := d.Gateway.GetImagePath(ctx, jctx.CatalogID, imageID)
		if err != nil {
			return jobs.ProcessResult{OK: false, Err: fmt.Errorf("auto_tag: resolve path %s: %w", imageID, err)}
		}

		model := jctx.String("model", "")
		topK := jctx.Int("top_k", 10)

		predictions, err := d.Tagger.Tag(ctx, path, model, topK)
		if err != nil {
			return jobs.ProcessResult{OK: false, Err: fmt.Errorf("auto_tag: tag %s: %w", imageID, err)}
		}

		tags := make([]models.Tag, 0, len(predictions))
		links := make([]models.ImageTag, 0, len(predictions))
		for _, p := range predictions {
			tags = append(tags, models.Tag{ID: p.Name, Name: p.Name})
			links = append(links, models.ImageTag{
				ImageID:    imageID,
				TagID:      p.Name,
				Confidence: p.Confidence,
				Source:     "auto_tag",
			})
		}

		if err := d.Gateway.UpsertTags(ctx, tags, links); err != nil {
			return jobs.ProcessResult{OK: false, Err: fmt.Errorf("auto_tag: persist tags %s: %w", imageID, err)}
		}

		return jobs.ProcessResult{OK: true, Result: map[string]interface{}{
			"image_id":   imageID,
			"tags_count": len(predictions),
		}}
	}
}
