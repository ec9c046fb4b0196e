package models

import "time"

// FileType distinguishes the two kinds of media the catalog tracks.
type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypeVideo FileType = "video"
)

// ImageStatus is the review/processing state of an Image.
type ImageStatus string

const (
	ImageStatusPending     ImageStatus = "pending"
	ImageStatusAnalyzing   ImageStatus = "analyzing"
	ImageStatusNeedsReview ImageStatus = "needs_review"
	ImageStatusComplete    ImageStatus = "complete"
)

// Catalog is a logical collection of images rooted at one or more source
// directories. It is immutable with respect to job execution.
type Catalog struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	SourceDirectories []string  `json:"source_directories"`
	CreatedAt         time.Time `json:"created_at"`
}

// DateValue is a timestamp recorded from a particular source (EXIF,
// filesystem mtime, filename heuristic, ...) along with a confidence.
type DateValue struct {
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// Image is a single catalog-scoped media file and everything the job
// pipeline has derived about it so far.
type Image struct {
	ID              string                 `json:"id"`
	CatalogID       string                 `json:"catalog_id"`
	SourcePath      string                 `json:"source_path"`
	Checksum        string                 `json:"checksum"`
	SizeBytes       int64                  `json:"size_bytes"`
	FileType        FileType               `json:"file_type"`
	DHash           string                 `json:"dhash,omitempty"`
	AHash           string                 `json:"ahash,omitempty"`
	WHash           string                 `json:"whash,omitempty"`
	QualityScore    *float64               `json:"quality_score,omitempty"`
	ThumbnailPath   string                 `json:"thumbnail_path,omitempty"`
	Dates           map[string]DateValue   `json:"dates,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Status          ImageStatus            `json:"status"`
	ProcessingFlags map[string]interface{} `json:"processing_flags,omitempty"`
	CameraMake      string                 `json:"camera_make,omitempty"`
	CameraModel     string                 `json:"camera_model,omitempty"`
	Timestamp       *time.Time             `json:"timestamp,omitempty"`
}

// HashSummary is the projection of an Image used by the duplicate-detection
// finalizer: just enough fields to group and select a primary.
type HashSummary struct {
	ID           string
	Checksum     string
	DHash        string
	AHash        string
	WHash        string
	QualityScore *float64
	SizeBytes    int64
}

// TimestampSummary is the projection of an Image used by burst detection.
type TimestampSummary struct {
	ID           string
	Timestamp    *time.Time
	Camera       string
	QualityScore *float64
}

// Tag is a named label that auto_tag can attach to images.
type Tag struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// ImageTag is the join between an Image and a Tag, as written by auto_tag.
type ImageTag struct {
	ImageID    string  `json:"image_id"`
	TagID      string  `json:"tag_id"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}
