package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/lumina-project/catalogjobs/pkg/models"
)

// MemoryGateway is an in-memory Gateway, grounded in the teacher's
// MemoryStore: one mutex-guarded map per entity kind, no persistence across
// process restarts. Used by tests and by catalogjobsd when run with
// an empty -db DSN for local experimentation.
type MemoryGateway struct {
	mu sync.RWMutex

	catalogs   map[string]*models.Catalog
	images     map[string]map[string]*models.Image // catalogID -> imageID -> image
	duplicates map[string][]models.DuplicateGroup   // catalogID -> groups
	bursts     map[string][]models.Burst            // catalogID -> bursts
	tags       map[string]models.Tag                // tagID -> tag
	imageTags  []models.ImageTag

	published []publishedEvent
}

type publishedEvent struct {
	Channel string
	Event   []byte
}

// NewMemoryGateway returns an empty MemoryGateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		catalogs:   make(map[string]*models.Catalog),
		images:     make(map[string]map[string]*models.Image),
		duplicates: make(map[string][]models.DuplicateGroup),
		bursts:     make(map[string][]models.Burst),
		tags:       make(map[string]models.Tag),
	}
}

// SeedCatalog registers a catalog directly, bypassing any submission flow;
// used by tests and the local CLI to bootstrap a working set.
func (m *MemoryGateway) SeedCatalog(cat *models.Catalog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalogs[cat.ID] = cat
	if _, ok := m.images[cat.ID]; !ok {
		m.images[cat.ID] = make(map[string]*models.Image)
	}
}

func (m *MemoryGateway) ListSourceDirectories(ctx context.Context, catalogID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cat, ok := m.catalogs[catalogID]
	if !ok {
		return nil, ErrCatalogNotFound
	}
	dirs := make([]string, len(cat.SourceDirectories))
	copy(dirs, cat.SourceDirectories)
	return dirs, nil
}

func (m *MemoryGateway) ListImagesWithoutHashes(ctx context.Context, catalogID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for _, img := range m.images[catalogID] {
		if img.DHash == "" || img.AHash == "" || img.WHash == "" {
			ids = append(ids, img.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryGateway) ListImagesWithHashes(ctx context.Context, catalogID string) ([]models.HashSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.HashSummary
	for _, img := range m.images[catalogID] {
		out = append(out, models.HashSummary{
			ID:           img.ID,
			Checksum:     img.Checksum,
			DHash:        img.DHash,
			AHash:        img.AHash,
			WHash:        img.WHash,
			QualityScore: img.QualityScore,
			SizeBytes:    img.SizeBytes,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryGateway) ListImagesWithTimestamps(ctx context.Context, catalogID string) ([]models.TimestampSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.TimestampSummary
	for _, img := range m.images[catalogID] {
		out = append(out, models.TimestampSummary{
			ID:           img.ID,
			Timestamp:    img.Timestamp,
			Camera:       img.CameraMake,
			QualityScore: img.QualityScore,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryGateway) GetImagePath(ctx context.Context, catalogID, imageID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byID, ok := m.images[catalogID]
	if !ok {
		return "", ErrCatalogNotFound
	}
	img, ok := byID[imageID]
	if !ok {
		return "", ErrImageNotFound
	}
	return img.SourcePath, nil
}

func (m *MemoryGateway) UpsertImage(ctx context.Context, img *models.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.images[img.CatalogID]
	if !ok {
		byID = make(map[string]*models.Image)
		m.images[img.CatalogID] = byID
	}

	// Idempotent on (catalog_id, source_path) when no id is supplied,
	// matching the Postgres/SQLite backends' ON CONFLICT(catalog_id,
	// source_path) upsert — a rescan of an unchanged tree must not create
	// a second row for the same file.
	if img.ID == "" {
		for existingID, existing := range byID {
			if existing.SourcePath == img.SourcePath {
				img.ID = existingID
				break
			}
		}
		if img.ID == "" {
			img.ID = uuid.NewString()
		}
	}
	cp := *img
	byID[img.ID] = &cp
	return nil
}

func (m *MemoryGateway) UpdateImageHashes(ctx context.Context, imageID, dhash, ahash, whash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, byID := range m.images {
		if img, ok := byID[imageID]; ok {
			img.DHash, img.AHash, img.WHash = dhash, ahash, whash
			return nil
		}
	}
	return ErrImageNotFound
}

func (m *MemoryGateway) UpdateImageThumbnail(ctx context.Context, imageID, thumbnailPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, byID := range m.images {
		if img, ok := byID[imageID]; ok {
			img.ThumbnailPath = thumbnailPath
			return nil
		}
	}
	return ErrImageNotFound
}

func (m *MemoryGateway) UpdateImageQuality(ctx context.Context, imageID string, qualityScore float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, byID := range m.images {
		if img, ok := byID[imageID]; ok {
			q := qualityScore
			img.QualityScore = &q
			return nil
		}
	}
	return ErrImageNotFound
}

func (m *MemoryGateway) ReplaceDuplicateGroups(ctx context.Context, catalogID string, groups []models.DuplicateGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicates[catalogID] = append([]models.DuplicateGroup(nil), groups...)
	return nil
}

func (m *MemoryGateway) ReplaceBurstGroups(ctx context.Context, catalogID string, bursts []models.Burst) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bursts[catalogID] = append([]models.Burst(nil), bursts...)
	return nil
}

func (m *MemoryGateway) Publish(ctx context.Context, channel string, event []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedEvent{Channel: channel, Event: event})
	if len(m.published) > 256 {
		m.published = m.published[len(m.published)-256:]
	}
	return nil
}

func (m *MemoryGateway) UpsertTags(ctx context.Context, tags []models.Tag, links []models.ImageTag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tags {
		m.tags[t.ID] = t
	}
	m.imageTags = append(m.imageTags, links...)
	return nil
}

func (m *MemoryGateway) Close() error { return nil }

// DuplicateGroups exposes the last replaced set for a catalog; used by
// tests that assert on finalizer output.
func (m *MemoryGateway) DuplicateGroups(catalogID string) []models.DuplicateGroup {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.DuplicateGroup(nil), m.duplicates[catalogID]...)
}

// Bursts exposes the last replaced set for a catalog; used by tests.
func (m *MemoryGateway) Bursts(catalogID string) []models.Burst {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Burst(nil), m.bursts[catalogID]...)
}

// Published returns the raw event payloads previously sent to channel, in
// publish order; used by tests that assert on progress events.
func (m *MemoryGateway) Published(channel string) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out [][]byte
	for _, e := range m.published {
		if e.Channel == channel {
			out = append(out, e.Event)
		}
	}
	return out
}
