// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

/*
Package reconcile walks the whole archive to repair it offline: batch
tag-directory replication without touching the network, migration of the
legacy flat media layout, removal of remotely-deleted media and an
archive census.

Every pass is cancellable and resumes naturally on the next invocation,
since all state is derived from the directory layout itself.
*/
package reconcile

import (
	"context"
	"os"
	"time"

	"github.com/genmirror/genmirror/internal/archive"
	"github.com/genmirror/genmirror/internal/config"
	"github.com/genmirror/genmirror/internal/logging"
	"github.com/genmirror/genmirror/internal/models"
)

// Reconciler runs archive-wide maintenance passes.
type Reconciler struct {
	store *archive.Store
	cfg   *config.Config
}

// New creates a reconciler over the archive.
func New(store *archive.Store, cfg *config.Config) *Reconciler {
	return &Reconciler{store: store, cfg: cfg}
}

// ReplicateAll recomputes tag-directory replication for every stored
// generation using local copies only; nothing is fetched. Returns the
// number of files copied.
func (r *Reconciler) ReplicateAll(ctx context.Context) (int, error) {
	copied := 0

	err := r.store.ForEachGeneration(ctx, true, func(gen *models.Generation) error {
		for _, item := range gen.MediaInfo(false) {
			_, n, err := r.store.ReplicateMedia(ctx, &item, r.cfg.Download.MediaTypes, nil)
			if err != nil {
				return err
			}
			copied += n
		}
		return nil
	})

	return copied, err
}

// SetupTagDirectories converts a legacy flat archive to the tag-directory
// layout: create all/, move legacy media files into it, sweep emptied
// legacy date directories, then replicate into the active tag
// directories.
func (r *Reconciler) SetupTagDirectories(ctx context.Context) error {
	if err := r.store.EnsureAllDirectory(); err != nil {
		return err
	}

	renamed := 0
	err := r.store.ForEachGeneration(ctx, true, func(gen *models.Generation) error {
		n, err := r.store.RenameLegacyMedia(gen)
		renamed += n
		return err
	})
	if err != nil {
		return err
	}

	dates, err := r.store.ListGenerationDates()
	if err != nil {
		return err
	}
	for _, date := range dates {
		if _, err := r.store.RemoveLegacyDateDir(date); err != nil {
			return err
		}
	}

	copied, err := r.ReplicateAll(ctx)
	if err != nil {
		return err
	}

	logging.Info().Int("renamed", renamed).Int("copied", copied).Msg("Tag directory setup complete")
	return nil
}

// DeleteHiddenMedia removes every local copy of media the user deleted on
// the remote generator. Returns the number of files removed.
func (r *Reconciler) DeleteHiddenMedia(ctx context.Context) (int, error) {
	removed := 0

	err := r.store.ForEachGeneration(ctx, true, func(gen *models.Generation) error {
		for _, item := range gen.MediaInfo(true) {
			n, err := r.store.DeleteHiddenMedia(&item)
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	})

	if removed > 0 {
		logging.Info().Int("removed", removed).Msg("Deleted remotely-hidden media")
	}
	return removed, err
}

// MissingImage identifies one available-but-unsaved asset found by the
// census.
type MissingImage struct {
	GenerationID string
	Date         string
	URL          string
}

// CensusReport summarizes the archive's contents.
type CensusReport struct {
	Generations int
	FromDate    string
	ToDate      string

	// ImagesCreated counts images the remote produced, ImagesSaved the
	// subset present locally in the all/ directory.
	ImagesCreated int
	ImagesSaved   int

	ImagesMissing []MissingImage
	Elapsed       time.Duration
}

// CensusOptions select what the census inspects.
type CensusOptions struct {
	WithImages    bool
	WithMissing   bool
	IncludeLegacy bool
}

// Census walks the archive and counts generations and image coverage.
// Image presence is checked against the all/ directory only, the one
// replication target every configuration carries.
func (r *Reconciler) Census(ctx context.Context, opts CensusOptions) (*CensusReport, error) {
	start := time.Now()
	report := &CensusReport{}

	err := r.store.ForEachGeneration(ctx, opts.IncludeLegacy, func(gen *models.Generation) error {
		report.Generations++

		date := gen.Date()
		if report.FromDate == "" {
			report.FromDate = date
			report.ToDate = date
		}
		if date > report.ToDate {
			report.ToDate = date
		}

		if !opts.WithImages {
			return nil
		}

		for si := range gen.Steps {
			for _, img := range gen.Steps[si].Images {
				if img.Status == models.StatusFailed || img.Status == models.StatusExpired {
					continue
				}
				item := &models.MediaItem{
					Date:         date,
					GenerationID: gen.ID,
					MediaID:      img.ID,
					Seed:         img.Seed,
				}

				if fileExists(r.store.MediaPath(item, archive.MediaDirectories[config.TagAll])) {
					report.ImagesSaved++
					report.ImagesCreated++
					continue
				}

				if img.Available {
					report.ImagesCreated++
				} else if opts.WithMissing {
					report.ImagesMissing = append(report.ImagesMissing, MissingImage{
						GenerationID: gen.ID,
						Date:         date,
						URL:          img.URL,
					})
				}
			}
		}
		return nil
	})

	report.Elapsed = time.Since(start)
	return report, err
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
