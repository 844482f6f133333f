// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

/*
paths.go - Archive Path Layout

Canonical on-disk layout of the archive:

	{DataRoot}/{YYYY-MM-DD}/{generationID}.json
	{MediaRoot}/{directory}/{YYYY-MM-DD}/{generationID}_{seed}_{mediaID}[.jpeg]

Media lives under one subdirectory per replication target: "all" plus one
directory per feedback tag. An empty directory segment collapses to
MediaRoot itself, which is the legacy layout predating tag directories.
*/
package archive

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/genmirror/genmirror/internal/config"
	"github.com/genmirror/genmirror/internal/models"
)

// WorkflowTags are the feedback tags that map onto media subdirectories.
var WorkflowTags = []string{config.TagFavorite, config.TagLiked, config.TagDisliked}

// MediaDirectories maps every replication target (the "all" pseudo-tag
// plus the workflow tags) to its media subdirectory name. Tags outside
// this map (such as "hidden") have no directory and are never replicated.
var MediaDirectories = map[string]string{
	config.TagAll:      "all",
	config.TagFavorite: "favorite",
	config.TagLiked:    "liked",
	config.TagDisliked: "disliked",
}

// GenerationPath returns the snapshot path for a generation id created at
// the given ISO timestamp.
func (s *Store) GenerationPath(id, createdAt string) string {
	return filepath.Join(s.dataRoot, models.DateString(createdAt), id+".json")
}

// MediaPath returns the media file path for one item in the given
// directory. An empty directory addresses the legacy flat layout directly
// under MediaRoot.
func (s *Store) MediaPath(item *models.MediaItem, directory string) string {
	if directory == "" {
		return filepath.Join(s.mediaRoot, item.Date, mediaFilename(item.GenerationID, item.Seed, item.MediaID))
	}
	return filepath.Join(s.mediaRoot, directory, item.Date, mediaFilename(item.GenerationID, item.Seed, item.MediaID))
}

// mediaFilename builds {generationID}_{seed}_{mediaID}, appending .jpeg
// only when the media id carries no extension of its own.
func mediaFilename(generationID string, seed int64, mediaID string) string {
	return fmt.Sprintf("%s_%d_%s%s", generationID, seed, mediaID, mediaSuffix(mediaID))
}

func mediaSuffix(mediaID string) string {
	if strings.Contains(mediaID, ".") {
		return ""
	}
	return ".jpeg"
}
