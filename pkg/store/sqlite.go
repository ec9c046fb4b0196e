package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lumina-project/catalogjobs/pkg/models"
)

// SQLiteGateway implements Gateway against SQLite, grounded in the
// teacher's SQLiteStore connection-string tuning (WAL mode, busy timeout,
// single writer). It has no pub/sub primitive, so Publish appends to an
// in-memory ring buffer instead of failing — the progress publisher's own
// in-memory ring buffer (pkg/progress) holds recent events regardless of
// backend, so this is never the only copy of an event.
type SQLiteGateway struct {
	db *sql.DB
	mu sync.Mutex

	published []publishedEvent
}

// NewSQLiteGateway opens (creating if absent) a SQLite-backed gateway.
func NewSQLiteGateway(path string) (*SQLiteGateway, error) {
	if path == "" {
		path = "catalogjobs.db"
	}
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_cache_size=-8000&_txlock=immediate", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	g := &SQLiteGateway{db: db}
	if err := g.initSchema(); err != nil {
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return g, nil
}

func (g *SQLiteGateway) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS catalogs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		source_directories TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		catalog_id TEXT NOT NULL,
		source_path TEXT NOT NULL,
		checksum TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		file_type TEXT NOT NULL DEFAULT 'image',
		dhash TEXT NOT NULL DEFAULT '',
		ahash TEXT NOT NULL DEFAULT '',
		whash TEXT NOT NULL DEFAULT '',
		quality_score REAL,
		thumbnail_path TEXT NOT NULL DEFAULT '',
		dates TEXT,
		metadata TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		processing_flags TEXT,
		camera_make TEXT NOT NULL DEFAULT '',
		camera_model TEXT NOT NULL DEFAULT '',
		taken_at DATETIME,
		UNIQUE (catalog_id, source_path)
	);

	CREATE INDEX IF NOT EXISTS idx_images_catalog ON images(catalog_id);

	CREATE TABLE IF NOT EXISTS duplicate_groups (
		id TEXT PRIMARY KEY,
		catalog_id TEXT NOT NULL,
		primary_image_id TEXT NOT NULL,
		similarity_type TEXT NOT NULL,
		confidence INTEGER NOT NULL,
		reviewed BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS duplicate_members (
		group_id TEXT NOT NULL,
		image_id TEXT NOT NULL,
		similarity_score INTEGER NOT NULL,
		PRIMARY KEY (group_id, image_id)
	);

	CREATE TABLE IF NOT EXISTS bursts (
		id TEXT PRIMARY KEY,
		catalog_id TEXT NOT NULL,
		image_ids TEXT NOT NULL,
		image_count INTEGER NOT NULL,
		start_time REAL NOT NULL,
		end_time REAL NOT NULL,
		duration_seconds REAL NOT NULL,
		camera_make TEXT NOT NULL DEFAULT '',
		camera_model TEXT NOT NULL DEFAULT '',
		best_image_id TEXT NOT NULL DEFAULT '',
		selection_method TEXT NOT NULL DEFAULT 'quality'
	);

	CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS image_tags (
		image_id TEXT NOT NULL,
		tag_id TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (image_id, tag_id)
	);
	`
	_, err := g.db.Exec(schema)
	return err
}

func (g *SQLiteGateway) ListSourceDirectories(ctx context.Context, catalogID string) ([]string, error) {
	var raw string
	err := g.db.QueryRowContext(ctx,
		`SELECT source_directories FROM catalogs WHERE id = ?`, catalogID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrCatalogNotFound
	}
	if err != nil {
		return nil, err
	}
	var dirs []string
	if err := json.Unmarshal([]byte(raw), &dirs); err != nil {
		return nil, fmt.Errorf("store: decode source_directories: %w", err)
	}
	return dirs, nil
}

func (g *SQLiteGateway) ListImagesWithoutHashes(ctx context.Context, catalogID string) ([]string, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id FROM images
		WHERE catalog_id = ? AND (dhash = '' OR ahash = '' OR whash = '')
		ORDER BY id
	`, catalogID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (g *SQLiteGateway) ListImagesWithHashes(ctx context.Context, catalogID string) ([]models.HashSummary, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, checksum, dhash, ahash, whash, quality_score, size_bytes
		FROM images WHERE catalog_id = ? ORDER BY id
	`, catalogID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.HashSummary
	for rows.Next() {
		var h models.HashSummary
		var quality sql.NullFloat64
		if err := rows.Scan(&h.ID, &h.Checksum, &h.DHash, &h.AHash, &h.WHash, &quality, &h.SizeBytes); err != nil {
			return nil, err
		}
		if quality.Valid {
			v := quality.Float64
			h.QualityScore = &v
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (g *SQLiteGateway) ListImagesWithTimestamps(ctx context.Context, catalogID string) ([]models.TimestampSummary, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, taken_at, camera_make, quality_score
		FROM images WHERE catalog_id = ? ORDER BY id
	`, catalogID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TimestampSummary
	for rows.Next() {
		var t models.TimestampSummary
		var takenAt sql.NullTime
		var quality sql.NullFloat64
		if err := rows.Scan(&t.ID, &takenAt, &t.Camera, &quality); err != nil {
			return nil, err
		}
		if takenAt.Valid {
			ts := takenAt.Time
			t.Timestamp = &ts
		}
		if quality.Valid {
			v := quality.Float64
			t.QualityScore = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (g *SQLiteGateway) GetImagePath(ctx context.Context, catalogID, imageID string) (string, error) {
	var path string
	err := g.db.QueryRowContext(ctx,
		`SELECT source_path FROM images WHERE catalog_id = ? AND id = ?`,
		catalogID, imageID).Scan(&path)
	if err == sql.ErrNoRows {
		return "", ErrImageNotFound
	}
	return path, err
}

func (g *SQLiteGateway) UpsertImage(ctx context.Context, img *models.Image) error {
	dates, err := json.Marshal(img.Dates)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(img.Metadata)
	if err != nil {
		return err
	}
	flags, err := json.Marshal(img.ProcessingFlags)
	if err != nil {
		return err
	}
	if img.ID == "" {
		img.ID = uuid.NewString()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	_, err = g.db.ExecContext(ctx, `
		INSERT INTO images (
			id, catalog_id, source_path, checksum, size_bytes, file_type,
			dhash, ahash, whash, quality_score, thumbnail_path, dates,
			metadata, status, processing_flags, camera_make, camera_model, taken_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (catalog_id, source_path) DO UPDATE SET
			checksum = excluded.checksum,
			size_bytes = excluded.size_bytes,
			file_type = excluded.file_type,
			dhash = excluded.dhash,
			ahash = excluded.ahash,
			whash = excluded.whash,
			quality_score = excluded.quality_score,
			thumbnail_path = excluded.thumbnail_path,
			dates = excluded.dates,
			metadata = excluded.metadata,
			status = excluded.status,
			processing_flags = excluded.processing_flags,
			camera_make = excluded.camera_make,
			camera_model = excluded.camera_model,
			taken_at = excluded.taken_at
	`, img.ID, img.CatalogID, img.SourcePath, img.Checksum, img.SizeBytes, img.FileType,
		img.DHash, img.AHash, img.WHash, img.QualityScore, img.ThumbnailPath, string(dates),
		string(metadata), img.Status, string(flags), img.CameraMake, img.CameraModel, img.Timestamp)
	return err
}

func (g *SQLiteGateway) UpdateImageHashes(ctx context.Context, imageID, dhash, ahash, whash string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	result, err := g.db.ExecContext(ctx,
		`UPDATE images SET dhash = ?, ahash = ?, whash = ? WHERE id = ?`,
		dhash, ahash, whash, imageID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrImageNotFound
	}
	return nil
}

func (g *SQLiteGateway) UpdateImageThumbnail(ctx context.Context, imageID, thumbnailPath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	result, err := g.db.ExecContext(ctx,
		`UPDATE images SET thumbnail_path = ? WHERE id = ?`,
		thumbnailPath, imageID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrImageNotFound
	}
	return nil
}

func (g *SQLiteGateway) UpdateImageQuality(ctx context.Context, imageID string, qualityScore float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	result, err := g.db.ExecContext(ctx,
		`UPDATE images SET quality_score = ? WHERE id = ?`,
		qualityScore, imageID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrImageNotFound
	}
	return nil
}

func (g *SQLiteGateway) ReplaceDuplicateGroups(ctx context.Context, catalogID string, groups []models.DuplicateGroup) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM duplicate_groups WHERE catalog_id = ?`, catalogID); err != nil {
		return err
	}

	for _, group := range groups {
		if group.ID == "" {
			group.ID = fmt.Sprintf("%s-%s", catalogID, group.PrimaryImageID)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO duplicate_groups (id, catalog_id, primary_image_id, similarity_type, confidence, reviewed)
			VALUES (?,?,?,?,?,?)
		`, group.ID, catalogID, group.PrimaryImageID, group.SimilarityType, group.Confidence, group.Reviewed); err != nil {
			return err
		}
		for _, member := range group.Members {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO duplicate_members (group_id, image_id, similarity_score) VALUES (?,?,?)
			`, group.ID, member.ImageID, member.SimilarityScore); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (g *SQLiteGateway) ReplaceBurstGroups(ctx context.Context, catalogID string, bursts []models.Burst) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bursts WHERE catalog_id = ?`, catalogID); err != nil {
		return err
	}

	for _, b := range bursts {
		ids, err := json.Marshal(b.ImageIDs)
		if err != nil {
			return err
		}
		if b.ID == "" && len(b.ImageIDs) > 0 {
			sorted := append([]string(nil), b.ImageIDs...)
			sort.Strings(sorted)
			b.ID = fmt.Sprintf("%s-%s", catalogID, sorted[0])
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bursts (
				id, catalog_id, image_ids, image_count, start_time, end_time,
				duration_seconds, camera_make, camera_model, best_image_id, selection_method
			) VALUES (?,?,?,?,?,?,?,?,?,?,?)
		`, b.ID, catalogID, string(ids), b.ImageCount, b.StartTimeUnix, b.EndTimeUnix,
			b.DurationSeconds, b.CameraMake, b.CameraModel, b.BestImageID, b.SelectionMethod); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Publish has no durable pub/sub backing in SQLite; it keeps the last 256
// events in memory so a same-process reader can still poll them.
func (g *SQLiteGateway) Publish(ctx context.Context, channel string, event []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.published = append(g.published, publishedEvent{Channel: channel, Event: event})
	if len(g.published) > 256 {
		g.published = g.published[len(g.published)-256:]
	}
	return nil
}

func (g *SQLiteGateway) UpsertTags(ctx context.Context, tags []models.Tag, links []models.ImageTag) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tags (id, name, category) VALUES (?,?,?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, category = excluded.category
		`, t.ID, t.Name, t.Category); err != nil {
			return err
		}
	}
	for _, l := range links {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO image_tags (image_id, tag_id, confidence, source) VALUES (?,?,?,?)
			ON CONFLICT (image_id, tag_id) DO UPDATE SET confidence = excluded.confidence, source = excluded.source
		`, l.ImageID, l.TagID, l.Confidence, l.Source); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (g *SQLiteGateway) Close() error { return g.db.Close() }
