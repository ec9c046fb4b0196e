package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/lib/pq"

	"github.com/lumina-project/catalogjobs/pkg/models"
)

// PostgresGateway implements Gateway against PostgreSQL, grounded in the
// teacher's PostgreSQLStore: connection pool tuning, JSONB columns, and
// delete-then-insert transactions for the group replacements. Progress and
// terminal-state events are published with LISTEN/NOTIFY.
type PostgresGateway struct {
	db *sql.DB
}

// NewPostgresGateway opens a connection pool, verifies connectivity, and
// ensures the schema exists.
func NewPostgresGateway(cfg Config) (*PostgresGateway, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: postgres DSN is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	connLifetime := cfg.ConnMaxLifetime
	if connLifetime <= 0 {
		connLifetime = 5 * time.Minute
	}
	connIdleTime := cfg.ConnMaxIdleTime
	if connIdleTime <= 0 {
		connIdleTime = time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connLifetime)
	db.SetConnMaxIdleTime(connIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	g := &PostgresGateway{db: db}
	if err := g.initSchema(); err != nil {
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return g, nil
}

func (g *PostgresGateway) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS catalogs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		source_directories JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		catalog_id TEXT NOT NULL REFERENCES catalogs(id) ON DELETE CASCADE,
		source_path TEXT NOT NULL,
		checksum TEXT NOT NULL DEFAULT '',
		size_bytes BIGINT NOT NULL DEFAULT 0,
		file_type TEXT NOT NULL DEFAULT 'image',
		dhash TEXT NOT NULL DEFAULT '',
		ahash TEXT NOT NULL DEFAULT '',
		whash TEXT NOT NULL DEFAULT '',
		quality_score DOUBLE PRECISION,
		thumbnail_path TEXT NOT NULL DEFAULT '',
		dates JSONB,
		metadata JSONB,
		status TEXT NOT NULL DEFAULT 'pending',
		processing_flags JSONB,
		camera_make TEXT NOT NULL DEFAULT '',
		camera_model TEXT NOT NULL DEFAULT '',
		taken_at TIMESTAMP,
		UNIQUE (catalog_id, source_path)
	);

	CREATE INDEX IF NOT EXISTS idx_images_catalog ON images(catalog_id);
	CREATE INDEX IF NOT EXISTS idx_images_missing_hashes ON images(catalog_id) WHERE dhash = '' OR ahash = '' OR whash = '';

	CREATE TABLE IF NOT EXISTS duplicate_groups (
		id TEXT PRIMARY KEY,
		catalog_id TEXT NOT NULL REFERENCES catalogs(id) ON DELETE CASCADE,
		primary_image_id TEXT NOT NULL,
		similarity_type TEXT NOT NULL,
		confidence INTEGER NOT NULL,
		reviewed BOOLEAN NOT NULL DEFAULT false
	);

	CREATE TABLE IF NOT EXISTS duplicate_members (
		group_id TEXT NOT NULL REFERENCES duplicate_groups(id) ON DELETE CASCADE,
		image_id TEXT NOT NULL,
		similarity_score INTEGER NOT NULL,
		PRIMARY KEY (group_id, image_id)
	);

	CREATE TABLE IF NOT EXISTS bursts (
		id TEXT PRIMARY KEY,
		catalog_id TEXT NOT NULL REFERENCES catalogs(id) ON DELETE CASCADE,
		image_ids JSONB NOT NULL,
		image_count INTEGER NOT NULL,
		start_time DOUBLE PRECISION NOT NULL,
		end_time DOUBLE PRECISION NOT NULL,
		duration_seconds DOUBLE PRECISION NOT NULL,
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
		tag_id TEXT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (image_id, tag_id)
	);
	`
	_, err := g.db.Exec(schema)
	return err
}

func (g *PostgresGateway) ListSourceDirectories(ctx context.Context, catalogID string) ([]string, error) {
	var raw []byte
	err := g.db.QueryRowContext(ctx,
		`SELECT source_directories FROM catalogs WHERE id = $1`, catalogID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrCatalogNotFound
	}
	if err != nil {
		return nil, err
	}
	var dirs []string
	if err := json.Unmarshal(raw, &dirs); err != nil {
		return nil, fmt.Errorf("store: decode source_directories: %w", err)
	}
	return dirs, nil
}

func (g *PostgresGateway) ListImagesWithoutHashes(ctx context.Context, catalogID string) ([]string, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id FROM images
		WHERE catalog_id = $1 AND (dhash = '' OR ahash = '' OR whash = '')
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

func (g *PostgresGateway) ListImagesWithHashes(ctx context.Context, catalogID string) ([]models.HashSummary, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, checksum, dhash, ahash, whash, quality_score, size_bytes
		FROM images WHERE catalog_id = $1 ORDER BY id
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

func (g *PostgresGateway) ListImagesWithTimestamps(ctx context.Context, catalogID string) ([]models.TimestampSummary, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, taken_at, camera_make, quality_score
		FROM images WHERE catalog_id = $1 ORDER BY id
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

func (g *PostgresGateway) GetImagePath(ctx context.Context, catalogID, imageID string) (string, error) {
	var path string
	err := g.db.QueryRowContext(ctx,
		`SELECT source_path FROM images WHERE catalog_id = $1 AND id = $2`,
		catalogID, imageID).Scan(&path)
	if err == sql.ErrNoRows {
		return "", ErrImageNotFound
	}
	return path, err
}

func (g *PostgresGateway) UpsertImage(ctx context.Context, img *models.Image) error {
	dates, err := json.Marshal(img.Dates)
	if err != nil {
		return fmt.Errorf("store: marshal dates: %w", err)
	}
	metadata, err := json.Marshal(img.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}
	flags, err := json.Marshal(img.ProcessingFlags)
	if err != nil {
		return fmt.Errorf("store: marshal processing_flags: %w", err)
	}
	if img.ID == "" {
		img.ID = uuid.NewString()
	}

	_, err = g.db.ExecContext(ctx, `
		INSERT INTO images (
			id, catalog_id, source_path, checksum, size_bytes, file_type,
			dhash, ahash, whash, quality_score, thumbnail_path, dates,
			metadata, status, processing_flags, camera_make, camera_model, taken_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (catalog_id, source_path) DO UPDATE SET
			checksum = EXCLUDED.checksum,
			size_bytes = EXCLUDED.size_bytes,
			file_type = EXCLUDED.file_type,
			dhash = EXCLUDED.dhash,
			ahash = EXCLUDED.ahash,
			whash = EXCLUDED.whash,
			quality_score = EXCLUDED.quality_score,
			thumbnail_path = EXCLUDED.thumbnail_path,
			dates = EXCLUDED.dates,
			metadata = EXCLUDED.metadata,
			status = EXCLUDED.status,
			processing_flags = EXCLUDED.processing_flags,
			camera_make = EXCLUDED.camera_make,
			camera_model = EXCLUDED.camera_model,
			taken_at = EXCLUDED.taken_at
	`, img.ID, img.CatalogID, img.SourcePath, img.Checksum, img.SizeBytes, img.FileType,
		img.DHash, img.AHash, img.WHash, img.QualityScore, img.ThumbnailPath, dates,
		metadata, img.Status, flags, img.CameraMake, img.CameraModel, img.Timestamp)
	return err
}

func (g *PostgresGateway) UpdateImageHashes(ctx context.Context, imageID, dhash, ahash, whash string) error {
	result, err := g.db.ExecContext(ctx,
		`UPDATE images SET dhash = $1, ahash = $2, whash = $3 WHERE id = $4`,
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

func (g *PostgresGateway) UpdateImageThumbnail(ctx context.Context, imageID, thumbnailPath string) error {
	result, err := g.db.ExecContext(ctx,
		`UPDATE images SET thumbnail_path = $1 WHERE id = $2`,
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

func (g *PostgresGateway) UpdateImageQuality(ctx context.Context, imageID string, qualityScore float64) error {
	result, err := g.db.ExecContext(ctx,
		`UPDATE images SET quality_score = $1 WHERE id = $2`,
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

func (g *PostgresGateway) ReplaceDuplicateGroups(ctx context.Context, catalogID string, groups []models.DuplicateGroup) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM duplicate_groups WHERE catalog_id = $1`, catalogID); err != nil {
		return err
	}

	for _, group := range groups {
		if group.ID == "" {
			group.ID = fmt.Sprintf("%s-%s", catalogID, group.PrimaryImageID)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO duplicate_groups (id, catalog_id, primary_image_id, similarity_type, confidence, reviewed)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, group.ID, catalogID, group.PrimaryImageID, group.SimilarityType, group.Confidence, group.Reviewed); err != nil {
			return err
		}
		for _, member := range group.Members {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO duplicate_members (group_id, image_id, similarity_score) VALUES ($1,$2,$3)
			`, group.ID, member.ImageID, member.SimilarityScore); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (g *PostgresGateway) ReplaceBurstGroups(ctx context.Context, catalogID string, bursts []models.Burst) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bursts WHERE catalog_id = $1`, catalogID); err != nil {
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
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, b.ID, catalogID, ids, b.ImageCount, b.StartTimeUnix, b.EndTimeUnix,
			b.DurationSeconds, b.CameraMake, b.CameraModel, b.BestImageID, b.SelectionMethod); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Publish uses LISTEN/NOTIFY: best-effort, payload-size limited by Postgres
// (8000 bytes), matching the publisher's small debounced event shape.
func (g *PostgresGateway) Publish(ctx context.Context, channel string, event []byte) error {
	_, err := g.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, string(event))
	return err
}

func (g *PostgresGateway) UpsertTags(ctx context.Context, tags []models.Tag, links []models.ImageTag) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tags (id, name, category) VALUES ($1,$2,$3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category
		`, t.ID, t.Name, t.Category); err != nil {
			return err
		}
	}
	for _, l := range links {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO image_tags (image_id, tag_id, confidence, source) VALUES ($1,$2,$3,$4)
			ON CONFLICT (image_id, tag_id) DO UPDATE SET confidence = EXCLUDED.confidence, source = EXCLUDED.source
		`, l.ImageID, l.TagID, l.Confidence, l.Source); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (g *PostgresGateway) Close() error { return g.db.Close() }

// Listen subscribes to a Postgres NOTIFY channel using pq's dedicated
// listener connection, returning the underlying channel of notifications.
// Callers not using Postgres get no equivalent; progress readers should
// fall back to the in-process ring buffer (pkg/progress) when this isn't
// available.
func (g *PostgresGateway) Listen(dsn, channel string) (*pq.Listener, error) {
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, nil)
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, err
	}
	return listener, nil
}
