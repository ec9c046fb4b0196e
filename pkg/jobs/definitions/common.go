// Package definitions wires the six job types spec.md §6 requires (scan,
// detect_duplicates, detect_bursts, generate_thumbnails, score_quality,
// auto_tag) into the pkg/jobs registry, grounded in
// original_source/lumina/jobs/definitions/*.py.
package definitions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lumina-project/catalogjobs/pkg/jobs"
	"github.com/lumina-project/catalogjobs/pkg/models"
	"github.com/lumina-project/catalogjobs/pkg/store"
)

// secondsToDuration converts a float-seconds parameter (as recognized ctx
// options arrive, per spec.md §4.7) into a time.Duration.
func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// MediaWhitelist is the set of extensions scan.discover keeps, per spec.md
// §6's media whitelist table.
var MediaWhitelist = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".heic": true, ".heif": true, ".raw": true, ".cr2": true,
	".nef": true, ".arw": true, ".dng": true,
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
}

// IsWhitelisted reports whether path's extension belongs to the media
// whitelist (case-insensitive).
func IsWhitelisted(path string) bool {
	return MediaWhitelist[strings.ToLower(filepath.Ext(path))]
}

func classifyFileType(path string) models.FileType {
	if videoExtensions[strings.ToLower(filepath.Ext(path))] {
		return models.FileTypeVideo
	}
	return models.FileTypeImage
}

// sha256File streams path through SHA-256 with io.Copy, mirroring the
// original's chunked hasher.update loop rather than reading the whole file
// into memory.
func sha256File(path string) (checksum string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// MetadataExtractor pulls EXIF/container metadata and capture dates out of
// a media file. Image decoding and EXIF extraction are out-of-scope
// external collaborators (spec.md §1) referenced only through this
// interface; NoopMetadataExtractor is the default when no richer extractor
// is wired in.
type MetadataExtractor interface {
	Extract(path string, fileType models.FileType) (metadata map[string]interface{}, dates map[string]models.DateValue, err error)
}

// NoopMetadataExtractor returns no metadata. It exists so scan.process has
// a default that never errors when extract_metadata is requested but no
// EXIF library has been wired in.
type NoopMetadataExtractor struct{}

func (NoopMetadataExtractor) Extract(path string, fileType models.FileType) (map[string]interface{}, map[string]models.DateValue, error) {
	return nil, nil, nil
}

// Thumbnailer writes a thumbnail for path into destDir and returns its
// path. The stdlib-backed implementation used by generate_thumbnails lives
// in thumbnails.go; image decoding here is likewise an out-of-scope external
// collaborator referenced by interface.
type Thumbnailer interface {
	Generate(ctx context.Context, srcPath, destDir string, sizePx, quality int) (thumbPath string, err error)
}

// Deps bundles the collaborators every job definition needs: the catalog
// gateway, plus the pluggable decoding-adjacent interfaces. Constructing
// one Deps and calling RegisterAll is the intended entry point for a
// daemon's start-up sequence.
type Deps struct {
	Gateway     store.Gateway
	Metadata    MetadataExtractor
	Thumbnailer Thumbnailer
	Tagger      Tagger
	ThumbDir    string
}

// withDefaults fills in the stdlib-backed defaults for any nil pluggable
// collaborator, so each job constructor (and tests that build a Deps
// directly) never has to nil-check before calling one.
func (d Deps) withDefaults() Deps {
	if d.Metadata == nil {
		d.Metadata = NoopMetadataExtractor{}
	}
	if d.Thumbnailer == nil {
		d.Thumbnailer = StdlibThumbnailer{}
	}
	if d.Tagger == nil {
		d.Tagger = NoopTagger{}
	}
	return d
}

// RegisterAll registers every job definition in d against r. Call once at
// start-up, before r.Lock().
func RegisterAll(r *jobs.Registry, d Deps) {
	d = d.withDefaults()

	r.Register(newScanJob(d))
	r.Register(newDetectDuplicatesJob(d))
	r.Register(newDetectBurstsJob(d))
	r.Register(newGenerateThumbnailsJob(d))
	r.Register(newScoreQualityJob(d))
	r.Register(newAutoTagJob(d))
}
