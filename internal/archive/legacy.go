// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

/*
legacy.go - Legacy Media Layout Migration

Before tag directories existed, media lived flat under
{MediaRoot}/{date}/ with three historical filename forms:

	{mediaID}[.jpeg]
	{generationID}_{seed}[.jpeg]
	{generationID}_{seed}_{mediaID}[.jpeg]

Migration renames whichever legacy form exists into the current all/
layout, then removes emptied legacy date directories (sweeping operating
system dot-files first).
*/
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/genmirror/genmirror/internal/config"
	"github.com/genmirror/genmirror/internal/models"
)

// LegacyMediaPaths returns every historical location an item's file may
// occupy in the flat pre-tag layout, oldest form first.
func (s *Store) LegacyMediaPaths(item *models.MediaItem) []string {
	dir := filepath.Join(s.mediaRoot, item.Date)
	suffix := mediaSuffix(item.MediaID)

	return []string{
		filepath.Join(dir, item.MediaID+suffix),
		filepath.Join(dir, fmt.Sprintf("%s_%d%s", item.GenerationID, item.Seed, suffix)),
		filepath.Join(dir, fmt.Sprintf("%s_%d_%s%s", item.GenerationID, item.Seed, item.MediaID, suffix)),
	}
}

// RenameLegacyMedia moves a generation's legacy media files into the all/
// directory. Every image of the generation is considered, regardless of
// status or tags: legacy archives predate both filters. Returns the
// number of files moved.
func (s *Store) RenameLegacyMedia(gen *models.Generation) (int, error) {
	date := gen.Date()
	allDir := filepath.Join(s.mediaRoot, MediaDirectories[config.TagAll], date)
	if err := os.MkdirAll(allDir, dirPerm); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", allDir, err)
	}

	renamed := 0
	for si := range gen.Steps {
		for _, img := range gen.Steps[si].Images {
			item := &models.MediaItem{
				Date:         date,
				GenerationID: gen.ID,
				MediaID:      img.ID,
				Seed:         img.Seed,
			}

			target := s.MediaPath(item, MediaDirectories[config.TagAll])
			if fileExists(target) {
				continue
			}

			for _, legacyPath := range s.LegacyMediaPaths(item) {
				if !fileExists(legacyPath) {
					continue
				}
				if err := os.Rename(legacyPath, target); err != nil {
					return renamed, fmt.Errorf("failed to rename %s: %w", legacyPath, err)
				}
				renamed++
				break
			}
		}
	}

	return renamed, nil
}

// RemoveLegacyDateDir removes {MediaRoot}/{date} if nothing but dot-files
// remain in it. Reports whether the directory is gone.
func (s *Store) RemoveLegacyDateDir(date string) (bool, error) {
	return removeDirIfEmpty(filepath.Join(s.mediaRoot, date))
}

// EnsureAllDirectory creates the top-level all/ media directory.
func (s *Store) EnsureAllDirectory() error {
	dir := filepath.Join(s.mediaRoot, MediaDirectories[config.TagAll])
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return nil
}

// removeDirIfEmpty deletes a directory once its dot-files (thumbnail and
// metadata droppings) are swept and nothing else remains.
func removeDirIfEmpty(dir string) (bool, error) {
	names, err := listDirectory(dir)
	if err != nil {
		return false, err
	}
	if names == nil && !fileExists(dir) {
		return true, nil
	}

	remaining := 0
	for _, name := range names {
		if strings.HasPrefix(name, ".") {
			if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return false, fmt.Errorf("failed to sweep %s: %w", name, err)
			}
			continue
		}
		remaining++
	}

	if remaining > 0 {
		return false, nil
	}

	if err := os.Remove(dir); err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return true, nil
}
