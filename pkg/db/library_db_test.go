package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/narahir/RetroDiffusionApp/pkg/models"
)

func newTestDatabase(t *testing.T) (*LibraryDatabaseImpl, string) {
	t.Helper()
	dir := t.TempDir()

	dB, err := sqlx.Open("sqlite", filepath.Join(dir, "library.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { dB.Close() })

	store, err := NewLibraryDatabase(true, dB, dir)
	require.NoError(t, err)
	return store, dir
}

func TestSaveRoundTrip(t *testing.T) {
	store, dir := newTestDatabase(t)

	blob := []byte("fake png bytes")
	saved, err := store.Save(blob, models.ImageMetadata{
		Prompt: "pixel cat",
		Model:  "rd_fast__default",
		Width:  256,
		Height: 256,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, saved.ID+".png", saved.FileName)
	require.NotNil(t, saved.Prompt)
	assert.Equal(t, "pixel cat", *saved.Prompt)
	require.NotNil(t, saved.Width)
	assert.Equal(t, 256, *saved.Width)

	// blob lands on disk next to the database
	onDisk, err := os.ReadFile(filepath.Join(dir, saved.FileName))
	require.NoError(t, err)
	assert.Equal(t, blob, onDisk)

	assert.Equal(t, blob, store.ImageData(saved.FileName))
}

func TestSaveWithoutMetadata(t *testing.T) {
	store, _ := newTestDatabase(t)

	saved, err := store.Save([]byte("pixelated"), models.ImageMetadata{})
	require.NoError(t, err)

	page, err := store.FetchPage(0, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, saved.ID, page[0].ID)
	assert.Nil(t, page[0].Prompt)
	assert.Nil(t, page[0].Model)
	assert.Nil(t, page[0].Width)
	assert.Nil(t, page[0].Height)
}

func TestFetchPageNewestFirst(t *testing.T) {
	store, _ := newTestDatabase(t)

	var ids []string
	for i := 0; i < 5; i++ {
		saved, err := store.Save([]byte{byte(i)}, models.ImageMetadata{})
		require.NoError(t, err)
		ids = append(ids, saved.ID)
		time.Sleep(5 * time.Millisecond)
	}

	page, err := store.FetchPage(0, 10)
	require.NoError(t, err)
	require.Len(t, page, 5)
	for i, img := range page {
		assert.Equal(t, ids[len(ids)-1-i], img.ID)
	}

	// newest entry sits at the head of the first page
	head, err := store.FetchPage(0, 1)
	require.NoError(t, err)
	require.Len(t, head, 1)
	assert.Equal(t, ids[4], head[0].ID)
}

func TestFetchPageOffsets(t *testing.T) {
	store, _ := newTestDatabase(t)

	for i := 0; i < 5; i++ {
		_, err := store.Save([]byte{byte(i)}, models.ImageMetadata{})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	seen := map[string]bool{}
	for offset := 0; ; offset += 2 {
		page, err := store.FetchPage(offset, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, img := range page {
			assert.False(t, seen[img.ID], "entry %s returned twice", img.ID)
			seen[img.ID] = true
		}
	}
	assert.Len(t, seen, 5)
}

func TestDeleteRemovesRowAndBlob(t *testing.T) {
	store, dir := newTestDatabase(t)

	saved, err := store.Save([]byte("doomed"), models.ImageMetadata{})
	require.NoError(t, err)

	require.NoError(t, store.Delete(saved.ID))

	page, err := store.FetchPage(0, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	_, statErr := os.Stat(filepath.Join(dir, saved.FileName))
	assert.True(t, os.IsNotExist(statErr))
	assert.Nil(t, store.ImageData(saved.FileName))
}

func TestDeleteToleratesMissingBlob(t *testing.T) {
	store, dir := newTestDatabase(t)

	saved, err := store.Save([]byte("gone early"), models.ImageMetadata{})
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, saved.FileName)))

	require.NoError(t, store.Delete(saved.ID))

	page, err := store.FetchPage(0, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestImageDataMissingFile(t *testing.T) {
	store, _ := newTestDatabase(t)
	assert.Nil(t, store.ImageData("nope.png"))
}

func TestSaveBlobWriteFailure(t *testing.T) {
	base := t.TempDir()
	dB, err := sqlx.Open("sqlite", filepath.Join(base, "library.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { dB.Close() })

	blobDir := filepath.Join(base, "blobs")
	store, err := NewLibraryDatabase(true, dB, blobDir)
	require.NoError(t, err)

	// A regular file where the blob directory should be makes every
	// write under it fail, whoever the test runs as.
	require.NoError(t, os.Remove(blobDir))
	require.NoError(t, os.WriteFile(blobDir, []byte("in the way"), 0o644))

	_, err = store.Save([]byte("never lands"), models.ImageMetadata{Prompt: "pixel cat"})
	assert.ErrorIs(t, err, ErrWriteFailed)

	page, err := store.FetchPage(0, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestSaveMetadataFailureLeavesOrphanBlob(t *testing.T) {
	base := t.TempDir()
	dB, err := sqlx.Open("sqlite", filepath.Join(base, "library.sqlite"))
	require.NoError(t, err)

	blobDir := filepath.Join(base, "blobs")
	store, err := NewLibraryDatabase(true, dB, blobDir)
	require.NoError(t, err)
	require.NoError(t, dB.Close())

	_, err = store.Save([]byte("row never lands"), models.ImageMetadata{})
	assert.ErrorIs(t, err, ErrMetadataWriteFailed)

	// The blob write happened before the insert failed and is not
	// rolled back.
	blobs, err := filepath.Glob(filepath.Join(blobDir, "*.png"))
	require.NoError(t, err)
	assert.Len(t, blobs, 1)
}
