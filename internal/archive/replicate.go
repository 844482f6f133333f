// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

/*
replicate.go - Tag-Directory Media Replication

Ensures each media item exists in every directory its tags require, with
at most one remote fetch per asset: the network is touched only when no
local copy exists anywhere in the required set, and only for the first
missing path. Every other copy is a local file copy.

An asset the remote no longer serves is skipped without error; the item
simply stays absent until a later run finds it again.
*/
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/genmirror/genmirror/internal/config"
	"github.com/genmirror/genmirror/internal/logging"
	"github.com/genmirror/genmirror/internal/metrics"
	"github.com/genmirror/genmirror/internal/models"
)

// FetchFunc retrieves one remote asset. A nil reader with nil error means
// the asset is gone from the remote. A nil FetchFunc disables fetching
// entirely (reconciliation replicates from local copies only).
type FetchFunc func(ctx context.Context, url string) (io.ReadCloser, error)

// ReplicateMedia brings one media item's tag-directory copies up to date.
// mediaTypes is the configured set of active replication targets ("all"
// and/or feedback tags). Returns how many assets were fetched remotely
// and how many were replicated by local copy.
func (s *Store) ReplicateMedia(ctx context.Context, item *models.MediaItem, mediaTypes []string, fetch FetchFunc) (fetched, copied int, err error) {
	targets := requiredTargets(item, mediaTypes)
	if len(targets) == 0 {
		return 0, 0, nil
	}

	var found, missing []string
	for _, target := range targets {
		path := s.MediaPath(item, MediaDirectories[target])
		if fileExists(path) {
			found = append(found, path)
			continue
		}
		missing = append(missing, path)
		if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
			return 0, 0, fmt.Errorf("failed to create media directory: %w", err)
		}
	}

	if len(missing) == 0 {
		return 0, 0, nil
	}

	if len(found) == 0 {
		if fetch == nil {
			return 0, 0, nil
		}

		body, err := fetch(ctx, item.URL)
		if err != nil {
			return 0, 0, err
		}
		if body == nil {
			// Deleted from the on-site generator.
			return 0, 0, nil
		}

		if err := writeStream(missing[0], body); err != nil {
			return 0, 0, fmt.Errorf("failed to fetch media %s: %w", item.MediaID, err)
		}

		metrics.MediaFetched.Inc()
		fetched++
		found = append(found, missing[0])
		missing = missing[1:]
	}

	source := found[0]
	for _, path := range missing {
		if err := copyFile(source, path); err != nil {
			return fetched, copied, err
		}
		metrics.MediaCopied.Inc()
		copied++
	}

	return fetched, copied, nil
}

// requiredTargets computes the replication targets for one item: "all"
// plus the item's own tags, restricted to the configured media types.
// Tags without a directory (such as "hidden") never qualify.
func requiredTargets(item *models.MediaItem, mediaTypes []string) []string {
	candidates := append([]string{config.TagAll}, item.Tags...)

	var targets []string
	for _, candidate := range candidates {
		if _, ok := MediaDirectories[candidate]; !ok {
			continue
		}
		for _, active := range mediaTypes {
			if candidate == active {
				targets = append(targets, candidate)
				break
			}
		}
	}
	return targets
}

// PruneTag removes a stale tag-directory copy of an item, a no-op when
// the tag has no directory or the copy does not exist.
func (s *Store) PruneTag(tag string, item *models.MediaItem) error {
	directory, ok := MediaDirectories[tag]
	if !ok {
		return nil
	}

	path := s.MediaPath(item, directory)
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to prune %s: %w", path, err)
	}

	metrics.MediaPruned.Inc()
	logging.Debug().Str("tag", tag).Str("path", path).Msg("Pruned stale tag copy")
	return nil
}

// DeleteHiddenMedia removes every local copy of a media item the user
// deleted on the remote, across the "all" directory and the item's tag
// directories. Returns the number of files removed.
func (s *Store) DeleteHiddenMedia(item *models.MediaItem) (int, error) {
	directories := []string{MediaDirectories[config.TagAll]}
	for _, tag := range item.Tags {
		if directory, ok := MediaDirectories[tag]; ok {
			directories = append(directories, directory)
		}
	}

	removed := 0
	for _, directory := range directories {
		path := s.MediaPath(item, directory)
		err := os.Remove(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("failed to delete %s: %w", path, err)
		}
		removed++
	}

	return removed, nil
}

// writeStream saves a fetched asset, refusing to clobber an existing file
// and cleaning up partial writes.
func writeStream(path string, body io.ReadCloser) error {
	defer body.Close()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}

	return nil
}

func copyFile(source, dest string) error {
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", source, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("failed to copy to %s: %w", dest, err)
	}

	return out.Close()
}
