// Package bursts detects sequences of images taken in rapid succession by
// the same camera and picks the best representative from each sequence.
// Pure time-gap clustering; no ML.
package bursts

import (
	"errors"
	"sort"
	"time"

	"github.com/lumina-project/catalogjobs/pkg/models"
)

// Options configures burst detection.
type Options struct {
	GapThreshold time.Duration
	MinSize      int
	MinDuration  time.Duration
}

// DefaultOptions mirrors the original scorer's defaults.
func DefaultOptions() Options {
	return Options{
		GapThreshold: time.Second,
		MinSize:      3,
		MinDuration:  500 * time.Millisecond,
	}
}

// DetectBursts partitions images by camera, sorts each partition by
// timestamp, and reports maximal runs where consecutive gaps stay within
// GapThreshold, are at least MinSize long, and span at least MinDuration.
func DetectBursts(images []models.TimestampSummary, opts Options) []models.Burst {
	if len(images) < opts.MinSize {
		return nil
	}

	byCamera := make(map[string][]models.TimestampSummary)
	for _, img := range images {
		camera := img.Camera
		if camera == "" {
			camera = "unknown"
		}
		byCamera[camera] = append(byCamera[camera], img)
	}

	cameras := make([]string, 0, len(byCamera))
	for camera := range byCamera {
		cameras = append(cameras, camera)
	}
	sort.Strings(cameras)

	var all []models.Burst
	for _, camera := range cameras {
		imgs := byCamera[camera]
		sort.SliceStable(imgs, func(i, j int) bool {
			return timeOf(imgs[i]).Before(timeOf(imgs[j]))
		})
		all = append(all, findSequences(imgs, opts)...)
	}
	return all
}

func findSequences(sorted []models.TimestampSummary, opts Options) []models.Burst {
	if len(sorted) < opts.MinSize {
		return nil
	}

	var bursts []models.Burst
	current := []models.TimestampSummary{sorted[0]}

	flush := func(run []models.TimestampSummary) {
		if len(run) < opts.MinSize {
			return
		}
		if burst, ok := makeBurst(run, opts.MinDuration); ok {
			bursts = append(bursts, burst)
		}
	}

	for i := 1; i < len(sorted); i++ {
		curr, prev := sorted[i], sorted[i-1]

		gap := time.Duration(1<<63 - 1)
		if curr.Timestamp != nil && prev.Timestamp != nil {
			gap = curr.Timestamp.Sub(*prev.Timestamp)
		}

		if gap <= opts.GapThreshold {
			current = append(current, curr)
		} else {
			flush(current)
			current = []models.TimestampSummary{curr}
		}
	}
	flush(current)

	return bursts
}

func makeBurst(imgs []models.TimestampSummary, minDuration time.Duration) (models.Burst, bool) {
	if len(imgs) < 2 {
		return models.Burst{}, false
	}

	var start, end time.Time
	have := 0
	for _, img := range imgs {
		if img.Timestamp == nil {
			continue
		}
		if have == 0 || img.Timestamp.Before(start) {
			start = *img.Timestamp
		}
		if have == 0 || img.Timestamp.After(end) {
			end = *img.Timestamp
		}
		have++
	}
	if have < 2 {
		return models.Burst{}, false
	}

	duration := end.Sub(start)
	if duration < minDuration {
		return models.Burst{}, false
	}

	ids := make([]string, len(imgs))
	for i, img := range imgs {
		ids[i] = img.ID
	}

	return models.Burst{
		ImageIDs:        ids,
		ImageCount:      len(ids),
		StartTimeUnix:   float64(start.UnixNano()) / 1e9,
		EndTimeUnix:     float64(end.UnixNano()) / 1e9,
		DurationSeconds: duration.Seconds(),
		CameraMake:      imgs[0].Camera,
	}, true
}

// SelectBestInBurst picks a representative image from a burst using method
// ("quality", "first", or "middle"); anything else falls back to quality.
func SelectBestInBurst(imgs []models.TimestampSummary, method models.SelectionMethod) (string, error) {
	if len(imgs) == 0 {
		return "", errors.New("bursts: cannot select best from empty burst")
	}

	switch method {
	case models.SelectionFirst:
		return imgs[0].ID, nil
	case models.SelectionMiddle:
		return imgs[len(imgs)/2].ID, nil
	default:
		best := imgs[0]
		for _, img := range imgs[1:] {
			if qualityOf(img) > qualityOf(best) {
				best = img
			}
		}
		return best.ID, nil
	}
}

func qualityOf(img models.TimestampSummary) float64 {
	if img.QualityScore == nil {
		return 0
	}
	return *img.QualityScore
}

func timeOf(img models.TimestampSummary) time.Time {
	if img.Timestamp == nil {
		return time.Time{}
	}
	return *img.Timestamp
}
