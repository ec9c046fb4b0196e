package definitions

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-project/catalogjobs/pkg/jobs"
	"github.com/lumina-project/catalogjobs/pkg/models"
	"github.com/lumina-project/catalogjobs/pkg/store"
)

func writeTextFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y*7) % 256)})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestScanDiscoverFiltersByWhitelist(t *testing.T) {
	dir := t.TempDir()
	writeTextFile(t, dir, "notes.txt", "hello")
	writePNG(t, dir, "photo.png")

	gw := store.NewMemoryGateway()
	gw.SeedCatalog(&models.Catalog{ID: "cat1", SourceDirectories: []string{dir}})

	job := newScanJob(Deps{Gateway: gw})
	items, err := job.Discover(context.Background(), "cat1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, filepath.Join(dir, "photo.png"), items[0])
}

func TestScanProcessUpsertsImage(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "a.png")

	gw := store.NewMemoryGateway()
	gw.SeedCatalog(&models.Catalog{ID: "cat1", SourceDirectories: []string{dir}})

	job := newScanJob(Deps{Gateway: gw})
	jctx := jobs.Context{CatalogID: "cat1"}
	res := job.Process(context.Background(), path, jctx)
	require.True(t, res.OK)

	ids, err := gw.ListImagesWithoutHashes(context.Background(), "cat1")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestScanProcessIsIdempotentOnRescan(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "a.png")

	gw := store.NewMemoryGateway()
	gw.SeedCatalog(&models.Catalog{ID: "cat1", SourceDirectories: []string{dir}})

	job := newScanJob(Deps{Gateway: gw})
	jctx := jobs.Context{CatalogID: "cat1"}

	require.True(t, job.Process(context.Background(), path, jctx).OK)
	require.True(t, job.Process(context.Background(), path, jctx).OK)

	images, err := gw.ListImagesWithHashes(context.Background(), "cat1")
	require.NoError(t, err)
	assert.Len(t, images, 1)
}

func TestDetectDuplicatesEndToEnd(t *testing.T) {
	dir := t.TempDir()
	pathA := writePNG(t, dir, "a.png")
	pathB := writePNG(t, dir, "b.png")

	gw := store.NewMemoryGateway()
	gw.SeedCatalog(&models.Catalog{ID: "cat1", SourceDirectories: []string{dir}})

	scan := newScanJob(Deps{Gateway: gw})
	jctx := jobs.Context{CatalogID: "cat1"}
	require.True(t, scan.Process(context.Background(), pathA, jctx).OK)
	require.True(t, scan.Process(context.Background(), pathB, jctx).OK)

	dd := newDetectDuplicatesJob(Deps{Gateway: gw})
	toHash, err := dd.Discover(context.Background(), "cat1")
	require.NoError(t, err)
	require.Len(t, toHash, 2)

	var results []map[string]interface{}
	for _, id := range toHash {
		res := dd.Process(context.Background(), id, jctx)
		require.True(t, res.OK)
		results = append(results, res.Result)
	}

	out, err := dd.Finalize(context.Background(), results, "cat1", jctx)
	require.NoError(t, err)
	assert.Equal(t, 1, out["exact_groups"])

	groups := gw.DuplicateGroups("cat1")
	require.Len(t, groups, 1)
	assert.Equal(t, models.SimilarityExact, groups[0].SimilarityType)
	assert.Equal(t, 100, groups[0].Confidence)
	require.NotEmpty(t, groups[0].PrimaryImageID)
	var memberIDs []string
	for _, m := range groups[0].Members {
		memberIDs = append(memberIDs, m.ImageID)
	}
	assert.Contains(t, memberIDs, groups[0].PrimaryImageID)
}

func TestDetectBurstsSinglePass(t *testing.T) {
	gw := store.NewMemoryGateway()
	gw.SeedCatalog(&models.Catalog{ID: "cat1"})

	job := newDetectBurstsJob(Deps{Gateway: gw})
	items, err := job.Discover(context.Background(), "cat1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, job.MaxWorkers)

	res := job.Process(context.Background(), items[0], jobs.Context{CatalogID: "cat1"})
	assert.True(t, res.OK)
	assert.Equal(t, 0, res.Result["bursts_detected"])
}

func TestAutoTagNoopTaggerPersistsNothing(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "a.png")

	gw := store.NewMemoryGateway()
	gw.SeedCatalog(&models.Catalog{ID: "cat1", SourceDirectories: []string{dir}})
	scan := newScanJob(Deps{Gateway: gw})
	jctx := jobs.Context{CatalogID: "cat1"}
	require.True(t, scan.Process(context.Background(), path, jctx).OK)

	images, err := gw.ListImagesWithHashes(context.Background(), "cat1")
	require.NoError(t, err)
	require.Len(t, images, 1)

	job := newAutoTagJob(Deps{Gateway: gw, Tagger: NoopTagger{}})
	res := job.Process(context.Background(), images[0].ID, jctx)
	require.True(t, res.OK)
	assert.Equal(t, 0, res.Result["tags_count"])
}

func TestScoreQualityWritesScore(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "a.png")

	gw := store.NewMemoryGateway()
	gw.SeedCatalog(&models.Catalog{ID: "cat1", SourceDirectories: []string{dir}})
	scan := newScanJob(Deps{Gateway: gw})
	jctx := jobs.Context{CatalogID: "cat1"}
	require.True(t, scan.Process(context.Background(), path, jctx).OK)

	images, err := gw.ListImagesWithHashes(context.Background(), "cat1")
	require.NoError(t, err)

	job := newScoreQualityJob(Deps{Gateway: gw})
	res := job.Process(context.Background(), images[0].ID, jctx)
	require.True(t, res.OK)

	images, err = gw.ListImagesWithHashes(context.Background(), "cat1")
	require.NoError(t, err)
	require.NotNil(t, images[0].QualityScore)
}

func TestMediaWhitelistIsCaseInsensitive(t *testing.T) {
	assert.True(t, IsWhitelisted("/a/B.JPG"))
	assert.False(t, IsWhitelisted("/a/notes.txt"))
}
