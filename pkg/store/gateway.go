// Package store is the catalog gateway: the small, well-typed surface the
// job executor uses to read and write catalog state. Three backends share
// one interface — Postgres and SQLite for durable deployments, an in-memory
// implementation for tests and single-process experimentation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/lumina-project/catalogjobs/pkg/models"
)

var (
	ErrCatalogNotFound = errors.New("store: catalog not found")
	ErrImageNotFound   = errors.New("store: image not found")
	ErrNotImplemented  = errors.New("store: operation not implemented by this backend")
)

// Gateway is the interface the job executor and job processors consume.
// Every operation is safe for concurrent use.
type Gateway interface {
	// ListSourceDirectories returns the catalog's configured source roots.
	ListSourceDirectories(ctx context.Context, catalogID string) ([]string, error)

	// ListImagesWithoutHashes returns ids of images still missing a
	// perceptual hash set.
	ListImagesWithoutHashes(ctx context.Context, catalogID string) ([]string, error)

	// ListImagesWithHashes returns the projection detect_duplicates needs:
	// id, checksum, the three hashes, quality score, size.
	ListImagesWithHashes(ctx context.Context, catalogID string) ([]models.HashSummary, error)

	// ListImagesWithTimestamps returns the projection detect_bursts needs:
	// id, timestamp, camera, quality score.
	ListImagesWithTimestamps(ctx context.Context, catalogID string) ([]models.TimestampSummary, error)

	// GetImagePath resolves an image id to its source-relative path.
	GetImagePath(ctx context.Context, catalogID, imageID string) (string, error)

	// UpsertImage is idempotent on (catalog_id, source_path): a second call
	// for the same file updates the existing row rather than creating a
	// duplicate. An image passed without an id is given a generated one.
	UpsertImage(ctx context.Context, img *models.Image) error

	// UpdateImageHashes is a single-row update of just the three hash
	// columns, used by detect_duplicates.process.
	UpdateImageHashes(ctx context.Context, imageID, dhash, ahash, whash string) error

	// UpdateImageThumbnail is a single-row update of the thumbnail path,
	// used by generate_thumbnails.process.
	UpdateImageThumbnail(ctx context.Context, imageID, thumbnailPath string) error

	// UpdateImageQuality is a single-row update of the quality score,
	// used by score_quality.process.
	UpdateImageQuality(ctx context.Context, imageID string, qualityScore float64) error

	// ReplaceDuplicateGroups atomically deletes the catalog's prior
	// duplicate groups and members and inserts the new set.
	ReplaceDuplicateGroups(ctx context.Context, catalogID string, groups []models.DuplicateGroup) error

	// ReplaceBurstGroups atomically deletes the catalog's prior bursts and
	// inserts the new set.
	ReplaceBurstGroups(ctx context.Context, catalogID string, bursts []models.Burst) error

	// Publish is a best-effort pub/sub emit; the progress publisher ignores
	// its error, so a failure is never fatal to the operation that
	// triggered it.
	Publish(ctx context.Context, channel string, event []byte) error

	// UpsertTags writes tag relations produced by auto_tag.
	UpsertTags(ctx context.Context, tags []models.Tag, links []models.ImageTag) error

	Close() error
}

// Config selects and tunes a Gateway backend.
type Config struct {
	Driver string // "postgres", "sqlite", or "memory"
	DSN    string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewGateway builds a Gateway for the configured driver.
func NewGateway(cfg Config) (Gateway, error) {
	switch cfg.Driver {
	case "postgres", "postgresql":
		return NewPostgresGateway(cfg)
	case "sqlite", "sqlite3":
		return NewSQLiteGateway(cfg.DSN)
	case "memory", "":
		return NewMemoryGateway(), nil
	default:
		return nil, errors.New("store: unsupported driver " + cfg.Driver)
	}
}
