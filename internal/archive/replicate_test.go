// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genmirror/genmirror/internal/config"
	"github.com/genmirror/genmirror/internal/models"
)

func testMediaItem(tags ...string) *models.MediaItem {
	if tags == nil {
		tags = []string{}
	}
	return &models.MediaItem{
		Date:         "2026-03-04",
		GenerationID: "gen-1",
		MediaID:      "media-1",
		Seed:         42,
		URL:          "https://example.test/media-1",
		Tags:         tags,
	}
}

// countingFetch returns asset bytes and counts invocations.
func countingFetch(calls *atomic.Int64, payload string) FetchFunc {
	return func(ctx context.Context, url string) (io.ReadCloser, error) {
		calls.Add(1)
		return io.NopCloser(strings.NewReader(payload)), nil
	}
}

func unavailableFetch(calls *atomic.Int64) FetchFunc {
	return func(ctx context.Context, url string) (io.ReadCloser, error) {
		calls.Add(1)
		return nil, nil
	}
}

var allTypes = []string{config.TagAll, config.TagFavorite, config.TagLiked, config.TagDisliked}

func TestReplicateMediaFetchesOnceThenCopies(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	item := testMediaItem(config.TagFavorite, config.TagLiked)

	var calls atomic.Int64
	fetched, copied, err := store.ReplicateMedia(context.Background(), item, allTypes, countingFetch(&calls, "bytes"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load(), "at most one remote fetch per asset")
	assert.Equal(t, 1, fetched)
	assert.Equal(t, 2, copied)

	for _, dir := range []string{"all", "favorite", "liked"} {
		data, err := os.ReadFile(store.MediaPath(item, dir))
		require.NoError(t, err, dir)
		assert.Equal(t, "bytes", string(data), dir)
	}
	assert.NoFileExists(t, store.MediaPath(item, "disliked"), "untagged directories stay empty")
}

func TestReplicateMediaIdempotent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	item := testMediaItem(config.TagFavorite)

	var calls atomic.Int64
	_, _, err := store.ReplicateMedia(context.Background(), item, allTypes, countingFetch(&calls, "bytes"))
	require.NoError(t, err)

	fetched, copied, err := store.ReplicateMedia(context.Background(), item, allTypes, countingFetch(&calls, "bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load(), "second pass must not re-fetch")
	assert.Zero(t, fetched)
	assert.Zero(t, copied)
}

func TestReplicateMediaCopiesFromExisting(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	item := testMediaItem(config.TagFavorite)

	// Pre-seed only the all/ copy, as if favorite was tagged after the
	// original download.
	allPath := store.MediaPath(item, "all")
	require.NoError(t, os.MkdirAll(filepath.Dir(allPath), 0o755))
	require.NoError(t, os.WriteFile(allPath, []byte("original"), 0o644))

	var calls atomic.Int64
	fetched, copied, err := store.ReplicateMedia(context.Background(), item, allTypes, countingFetch(&calls, "remote"))
	require.NoError(t, err)

	assert.Zero(t, calls.Load(), "existing copy must suppress the fetch")
	assert.Zero(t, fetched)
	assert.Equal(t, 1, copied)

	data, err := os.ReadFile(store.MediaPath(item, "favorite"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestReplicateMediaUnavailableAsset(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	item := testMediaItem()

	var calls atomic.Int64
	fetched, copied, err := store.ReplicateMedia(context.Background(), item, allTypes, unavailableFetch(&calls))
	require.NoError(t, err, "unavailable assets are skipped, not failed")
	assert.Zero(t, fetched)
	assert.Zero(t, copied)
	assert.NoFileExists(t, store.MediaPath(item, "all"))
}

func TestReplicateMediaNilFetch(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	item := testMediaItem(config.TagFavorite)

	fetched, copied, err := store.ReplicateMedia(context.Background(), item, allTypes, nil)
	require.NoError(t, err)
	assert.Zero(t, fetched)
	assert.Zero(t, copied, "nil fetch with no local copy replicates nothing")
}

func TestReplicateMediaInactiveTypes(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	// Item tagged favorite, but only liked replication is active: no
	// required targets at all.
	item := testMediaItem(config.TagFavorite)

	var calls atomic.Int64
	fetched, copied, err := store.ReplicateMedia(context.Background(), item, []string{config.TagLiked}, countingFetch(&calls, "bytes"))
	require.NoError(t, err)
	assert.Zero(t, calls.Load())
	assert.Zero(t, fetched)
	assert.Zero(t, copied)
}

func TestReplicateMediaIgnoresUnknownTags(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	item := testMediaItem("hidden")

	var calls atomic.Int64
	_, _, err := store.ReplicateMedia(context.Background(), item, allTypes, countingFetch(&calls, "bytes"))
	require.NoError(t, err)
	assert.FileExists(t, store.MediaPath(item, "all"))
	assert.NoFileExists(t, filepath.Join(store.mediaRoot, "hidden", item.Date))
}

func TestPruneTag(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	item := testMediaItem(config.TagFavorite)
	path := store.MediaPath(item, "favorite")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.NoError(t, store.PruneTag(config.TagFavorite, item))
	assert.NoFileExists(t, path)

	// Pruning an absent copy or an unknown tag is a no-op.
	assert.NoError(t, store.PruneTag(config.TagFavorite, item))
	assert.NoError(t, store.PruneTag("hidden", item))
}

func TestDeleteHiddenMedia(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	item := testMediaItem(config.TagFavorite)
	for _, dir := range []string{"all", "favorite"} {
		path := store.MediaPath(item, dir)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	removed, err := store.DeleteHiddenMedia(item)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.NoFileExists(t, store.MediaPath(item, "all"))
	assert.NoFileExists(t, store.MediaPath(item, "favorite"))
}
