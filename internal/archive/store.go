// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

/*
store.go - Archive Store

Filesystem-backed store for generation snapshots. Snapshots are the
verbatim remote payload re-indented with two spaces; the stored bytes are
the drift baseline, so persistence never re-orders or rewrites fields.

Listing operations treat a missing directory as empty, and skip 8-char
legacy generation ids unless asked to include them.
*/
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/genmirror/genmirror/internal/config"
	"github.com/genmirror/genmirror/internal/logging"
	"github.com/genmirror/genmirror/internal/metrics"
	"github.com/genmirror/genmirror/internal/models"
)

// ErrNotFound reports a generation snapshot absent from the archive.
var ErrNotFound = errors.New("generation not found")

// ErrStopIteration stops ForEachGeneration early without error.
var ErrStopIteration = errors.New("stop iteration")

// legacyIDLength is the generation id length used by the retired remote
// API. Legacy snapshots are listed only on request.
const legacyIDLength = 8

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Store reads and writes the local archive. All state is two root paths;
// Store methods are safe for concurrent use to the extent the underlying
// filesystem is.
type Store struct {
	dataRoot  string
	mediaRoot string
}

// NewStore creates a store over the configured archive roots.
func NewStore(cfg *config.ArchiveConfig) *Store {
	return &Store{
		dataRoot:  cfg.DataRoot,
		mediaRoot: cfg.MediaRoot,
	}
}

// LoadGenerationRaw returns the exact stored snapshot bytes, the baseline
// for drift comparison. A missing snapshot yields ErrNotFound.
func (s *Store) LoadGenerationRaw(date, id string) ([]byte, error) {
	path := filepath.Join(s.dataRoot, date, id+".json")

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, date, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read generation %s/%s: %w", date, id, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("generation %s/%s: file empty", date, id)
	}

	return data, nil
}

// LoadGeneration reads and decodes one stored snapshot.
func (s *Store) LoadGeneration(date, id string) (*models.Generation, error) {
	data, err := s.LoadGenerationRaw(date, id)
	if err != nil {
		return nil, err
	}

	gen, err := models.DecodeGeneration(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode generation %s/%s: %w", date, id, err)
	}

	return gen, nil
}

// GenerationExists reports whether a snapshot is already stored.
func (s *Store) GenerationExists(gen *models.Generation) bool {
	return fileExists(s.GenerationPath(gen.ID, gen.CreatedAt))
}

// PersistGeneration writes the canonical snapshot, creating the date
// directory as needed. An existing snapshot is overwritten.
func (s *Store) PersistGeneration(gen *models.Generation) error {
	data, err := gen.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize generation %s: %w", gen.ID, err)
	}

	path := s.GenerationPath(gen.ID, gen.CreatedAt)
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(path, data, filePerm); err != nil {
		return fmt.Errorf("failed to write generation %s: %w", gen.ID, err)
	}

	metrics.GenerationsSaved.Inc()
	return nil
}

// RemoveGeneration unlinks a stored snapshot. Used by the overwrite path
// before re-persisting.
func (s *Store) RemoveGeneration(gen *models.Generation) error {
	err := os.Remove(s.GenerationPath(gen.ID, gen.CreatedAt))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove generation %s: %w", gen.ID, err)
	}
	return nil
}

// ListGenerationDates returns the archive's date directories in ascending
// order. Entries that are not valid dates are ignored.
func (s *Store) ListGenerationDates() ([]string, error) {
	names, err := listDirectory(s.dataRoot)
	if err != nil {
		return nil, err
	}

	var dates []string
	for _, name := range names {
		if isDate(name) {
			dates = append(dates, name)
		}
	}
	sort.Strings(dates)

	return dates, nil
}

// ListGenerationIDs returns the generation ids stored under one date.
// Legacy 8-char ids are filtered out unless includeLegacy is set.
func (s *Store) ListGenerationIDs(date string, includeLegacy bool) ([]string, error) {
	names, err := listDirectory(filepath.Join(s.dataRoot, date))
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, name := range names {
		id, ok := strings.CutSuffix(name, ".json")
		if !ok {
			continue
		}
		if !includeLegacy && len(id) == legacyIDLength {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, nil
}

// FirstGenerationID returns the oldest stored non-legacy generation id,
// used as the starting cursor for oldest-first synchronization. Empty
// when the archive holds nothing but legacy snapshots.
func (s *Store) FirstGenerationID() (string, error) {
	dates, err := s.ListGenerationDates()
	if err != nil {
		return "", err
	}

	// Mixed archives can have oldest dates populated only by legacy ids.
	for _, date := range dates {
		ids, err := s.ListGenerationIDs(date, false)
		if err != nil {
			return "", err
		}
		if len(ids) > 0 {
			return ids[0], nil
		}
	}

	return "", nil
}

// ForEachGeneration walks every stored generation in date order, loading
// each snapshot and calling fn. Snapshots that fail to load are logged
// and skipped. fn may return ErrStopIteration to end the walk cleanly.
func (s *Store) ForEachGeneration(ctx context.Context, includeLegacy bool, fn func(*models.Generation) error) error {
	dates, err := s.ListGenerationDates()
	if err != nil {
		return err
	}

	for _, date := range dates {
		ids, err := s.ListGenerationIDs(date, includeLegacy)
		if err != nil {
			return err
		}

		for _, id := range ids {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			gen, err := s.LoadGeneration(date, id)
			if err != nil {
				logging.Warn().Err(err).Str("date", date).Str("id", id).Msg("Skipping unreadable generation")
				continue
			}

			if err := fn(gen); err != nil {
				if errors.Is(err, ErrStopIteration) {
					return nil
				}
				return err
			}
		}
	}

	return nil
}

// listDirectory reads a directory's entry names; a missing directory is
// an empty listing, not an error.
func listDirectory(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

func isDate(name string) bool {
	_, err := time.Parse("2006-01-02", name)
	return err == nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
