package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumina-project/catalogjobs/pkg/models"
)

func TestMemoryGatewayUpsertImageIsIdempotentByID(t *testing.T) {
	g := NewMemoryGateway()
	g.SeedCatalog(&models.Catalog{ID: "cat1"})
	ctx := context.Background()

	img := &models.Image{ID: "img1", CatalogID: "cat1", SourcePath: "/a.jpg", Checksum: "x"}
	require.NoError(t, g.UpsertImage(ctx, img))
	img.Checksum = "y"
	require.NoError(t, g.UpsertImage(ctx, img))

	all, err := g.ListImagesWithHashes(ctx, "cat1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "y", all[0].Checksum)
}

func TestMemoryGatewayListImagesWithoutHashes(t *testing.T) {
	g := NewMemoryGateway()
	g.SeedCatalog(&models.Catalog{ID: "cat1"})
	ctx := context.Background()

	require.NoError(t, g.UpsertImage(ctx, &models.Image{ID: "a", CatalogID: "cat1"}))
	require.NoError(t, g.UpsertImage(ctx, &models.Image{ID: "b", CatalogID: "cat1", DHash: "x", AHash: "y", WHash: "z"}))

	ids, err := g.ListImagesWithoutHashes(ctx, "cat1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestMemoryGatewayUpdateImageHashes(t *testing.T) {
	g := NewMemoryGateway()
	g.SeedCatalog(&models.Catalog{ID: "cat1"})
	ctx := context.Background()
	require.NoError(t, g.UpsertImage(ctx, &models.Image{ID: "a", CatalogID: "cat1"}))

	require.NoError(t, g.UpdateImageHashes(ctx, "a", "d", "ah", "w"))

	all, err := g.ListImagesWithHashes(ctx, "cat1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "d", all[0].DHash)
}

func TestMemoryGatewayUpdateImageHashesMissingReturnsNotFound(t *testing.T) {
	g := NewMemoryGateway()
	err := g.UpdateImageHashes(context.Background(), "nope", "a", "b", "c")
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestMemoryGatewayReplaceDuplicateGroupsOverwrites(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()

	require.NoError(t, g.ReplaceDuplicateGroups(ctx, "cat1", []models.DuplicateGroup{{PrimaryImageID: "a"}}))
	require.NoError(t, g.ReplaceDuplicateGroups(ctx, "cat1", []models.DuplicateGroup{{PrimaryImageID: "b"}}))

	got := g.DuplicateGroups("cat1")
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].PrimaryImageID)
}

func TestMemoryGatewayListSourceDirectoriesMissingCatalog(t *testing.T) {
	g := NewMemoryGateway()
	_, err := g.ListSourceDirectories(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCatalogNotFound)
}

func TestMemoryGatewayPublishCapsRingBuffer(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()
	for i := 0; i < 300; i++ {
		require.NoError(t, g.Publish(ctx, "progress", []byte("event")))
	}
	assert.Len(t, g.published, 256)
}
