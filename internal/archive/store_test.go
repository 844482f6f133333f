// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genmirror/genmirror/internal/config"
	"github.com/genmirror/genmirror/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	return NewStore(&config.ArchiveConfig{
		DataRoot:  filepath.Join(root, "data"),
		MediaRoot: filepath.Join(root, "media"),
	})
}

func testGeneration(t *testing.T, id, createdAt string) *models.Generation {
	t.Helper()
	raw := `{"id":"` + id + `","createdAt":"` + createdAt + `","steps":[]}`
	gen, err := models.DecodeGeneration([]byte(raw))
	require.NoError(t, err)
	return gen
}

func TestGenerationPath(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	path := store.GenerationPath("abc-123", "2026-03-04T10:00:00.000Z")
	assert.Equal(t, filepath.Join(store.dataRoot, "2026-03-04", "abc-123.json"), path)
}

func TestMediaPath(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	item := &models.MediaItem{
		Date:         "2026-03-04",
		GenerationID: "gen-1",
		MediaID:      "media-1",
		Seed:         42,
	}

	assert.Equal(t,
		filepath.Join(store.mediaRoot, "all", "2026-03-04", "gen-1_42_media-1.jpeg"),
		store.MediaPath(item, "all"),
		"ids without an extension get .jpeg appended")

	item.MediaID = "media-2.mp4"
	assert.Equal(t,
		filepath.Join(store.mediaRoot, "liked", "2026-03-04", "gen-1_42_media-2.mp4"),
		store.MediaPath(item, "liked"),
		"ids with an extension are used as-is")

	assert.Equal(t,
		filepath.Join(store.mediaRoot, "2026-03-04", "gen-1_42_media-2.mp4"),
		store.MediaPath(item, ""),
		"empty directory addresses the legacy flat layout")
}

func TestPersistAndLoadGeneration(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	gen := testGeneration(t, "gen-1", "2026-03-04T10:00:00.000Z")
	require.NoError(t, store.PersistGeneration(gen))

	loaded, err := store.LoadGeneration("2026-03-04", "gen-1")
	require.NoError(t, err)
	assert.Equal(t, "gen-1", loaded.ID)

	// The stored bytes must equal the canonical serialization so drift
	// comparison can be byte-for-byte.
	canonical, err := gen.CanonicalJSON()
	require.NoError(t, err)
	raw, err := store.LoadGenerationRaw("2026-03-04", "gen-1")
	require.NoError(t, err)
	assert.Equal(t, canonical, raw)

	// Re-canonicalizing a loaded snapshot must be a fixed point.
	recanonical, err := loaded.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, canonical, recanonical)
}

func TestLoadGenerationNotFound(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.LoadGenerationRaw("2026-03-04", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveGeneration(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	gen := testGeneration(t, "gen-1", "2026-03-04T10:00:00.000Z")
	require.NoError(t, store.PersistGeneration(gen))
	require.True(t, store.GenerationExists(gen))

	require.NoError(t, store.RemoveGeneration(gen))
	assert.False(t, store.GenerationExists(gen))

	// Removing again is not an error.
	assert.NoError(t, store.RemoveGeneration(gen))
}

func TestListGenerationDates(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	require.NoError(t, os.MkdirAll(filepath.Join(store.dataRoot, "2026-02-01"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(store.dataRoot, "2026-01-15"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(store.dataRoot, "not-a-date"), 0o755))

	dates, err := store.ListGenerationDates()
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-15", "2026-02-01"}, dates)
}

func TestListGenerationDatesMissingRoot(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	dates, err := store.ListGenerationDates()
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func TestListGenerationIDsLegacyFiltering(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	dateDir := filepath.Join(store.dataRoot, "2026-01-15")
	require.NoError(t, os.MkdirAll(dateDir, 0o755))
	for _, name := range []string{"abcd1234.json", "modern-generation-id.json", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dateDir, name), []byte("{}"), 0o644))
	}

	ids, err := store.ListGenerationIDs("2026-01-15", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"modern-generation-id"}, ids, "8-char legacy ids excluded by default")

	ids, err = store.ListGenerationIDs("2026-01-15", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"abcd1234", "modern-generation-id"}, ids)
}

func TestFirstGenerationID(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	// Oldest date holds only a legacy id; the next date has the first
	// modern generation.
	oldDir := filepath.Join(store.dataRoot, "2025-12-01")
	newDir := filepath.Join(store.dataRoot, "2026-01-01")
	require.NoError(t, os.MkdirAll(oldDir, 0o755))
	require.NoError(t, os.MkdirAll(newDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "abcd1234.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(newDir, "modern-id.json"), []byte("{}"), 0o644))

	id, err := store.FirstGenerationID()
	require.NoError(t, err)
	assert.Equal(t, "modern-id", id)
}

func TestForEachGeneration(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	require.NoError(t, store.PersistGeneration(testGeneration(t, "gen-a", "2026-01-01T00:00:00.000Z")))
	require.NoError(t, store.PersistGeneration(testGeneration(t, "gen-b", "2026-01-02T00:00:00.000Z")))

	var seen []string
	err := store.ForEachGeneration(context.Background(), false, func(gen *models.Generation) error {
		seen = append(seen, gen.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"gen-a", "gen-b"}, seen)

	// Early stop via the sentinel.
	seen = nil
	err = store.ForEachGeneration(context.Background(), false, func(gen *models.Generation) error {
		seen = append(seen, gen.ID)
		return ErrStopIteration
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"gen-a"}, seen)
}
