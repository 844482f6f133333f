// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

/*
engine.go - Generation Synchronization Engine

Walks the remote cursor-paginated feed and converges the local archive on
the remote state. One run is a sequence of independent tag passes; each
pass is an explicit pagination loop with these termination conditions:

  - the feed reports no further cursor;
  - the cursor repeats (the feed looped back to its first generation);
  - a page produces no new work and the run is not in resume/oldest mode;
  - the context is cancelled (the in-flight generation finishes as a unit);
  - a fatal error.

Server errors retry on a fixed delay up to a bounded attempt count; the
attempt counter resets on every successful page. An unauthorized response
is surfaced as ErrUnauthorized and never retried. Any other remote
application error ends the current tag pass and lets the next one run.
*/
package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/genmirror/genmirror/internal/archive"
	"github.com/genmirror/genmirror/internal/config"
	"github.com/genmirror/genmirror/internal/logging"
	"github.com/genmirror/genmirror/internal/metrics"
	"github.com/genmirror/genmirror/internal/models"
)

// FeedClient is the remote surface the engine consumes.
type FeedClient interface {
	FetchPage(ctx context.Context, cursor string, tags []string) (*models.Page, error)
	FetchAsset(ctx context.Context, url string) (io.ReadCloser, error)
}

// Archive is the local surface the engine converges.
type Archive interface {
	GenerationExists(gen *models.Generation) bool
	LoadGenerationRaw(date, id string) ([]byte, error)
	PersistGeneration(gen *models.Generation) error
	RemoveGeneration(gen *models.Generation) error
	ReplicateMedia(ctx context.Context, item *models.MediaItem, mediaTypes []string, fetch archive.FetchFunc) (fetched, copied int, err error)
	PruneTag(tag string, item *models.MediaItem) error
	FirstGenerationID() (string, error)
}

// Options select one run's behavior.
type Options struct {
	// WithImages replicates media alongside snapshots.
	WithImages bool

	// Latest starts from the newest feed entry, ignoring Cursor.
	Latest bool

	// Oldest starts from the oldest stored generation and walks forward,
	// continuing through pages that produce nothing new.
	Oldest bool

	// Resume keeps paginating through already-synced pages to fill gaps.
	Resume bool

	// Overwrite re-persists every generation encountered.
	Overwrite bool

	// OverwriteIfModified re-persists only generations whose canonical
	// snapshot differs from the stored one, pruning dropped tags.
	OverwriteIfModified bool

	// Tags runs one pass per feedback tag. Empty means a single untagged
	// pass over the whole feed.
	Tags []string

	// Cursor starts pagination at an explicit position. Ignored when
	// Latest or Oldest is set.
	Cursor string
}

// Engine synchronizes the remote feed into the archive.
type Engine struct {
	feed     FeedClient
	store    Archive
	cfg      *config.Config
	progress ProgressFunc
}

// NewEngine creates an engine. progress may be nil.
func NewEngine(feed FeedClient, store Archive, cfg *config.Config, progress ProgressFunc) *Engine {
	return &Engine{
		feed:     feed,
		store:    store,
		cfg:      cfg,
		progress: progress,
	}
}

// Run performs one synchronization run. Multiple tags run as fully
// sequential independent passes sharing one aggregate report. The
// returned report is valid even when err is non-nil.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	runID := uuid.NewString()
	log := logging.With().Str("run_id", runID).Logger()
	start := time.Now()

	report := &Report{}
	err := e.run(ctx, log, opts, report)

	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	metrics.SyncRuns.WithLabelValues(outcome(err)).Inc()

	log.Info().
		Int("downloaded", report.GenerationsDownloaded).
		Int("saved", report.GenerationsSaved).
		Int("new", report.GenerationsNew).
		Int("images", report.ImagesSaved).
		Str("outcome", outcome(err)).
		Msg("Sync run finished")

	return report, err
}

func (e *Engine) run(ctx context.Context, log zerolog.Logger, opts Options, report *Report) error {
	if len(opts.Tags) <= 1 {
		return e.runTag(ctx, log, opts, opts.Tags, report)
	}

	for _, tag := range opts.Tags {
		err := e.runTag(ctx, log, opts, []string{tag}, report)
		if err != nil {
			return err
		}
	}
	return nil
}

// runTag is one tag pass: a full pagination walk for a single tag filter
// (or none). Remote application errors other than UNAUTHORIZED end the
// pass without failing the run.
func (e *Engine) runTag(ctx context.Context, log zerolog.Logger, opts Options, tags []string, report *Report) error {
	report.CurrentTag = ""
	if len(tags) > 0 {
		report.CurrentTag = tags[0]
		log = log.With().Str("tag", tags[0]).Logger()
	}

	cursor, err := e.startCursor(opts)
	if err != nil {
		return err
	}

	var previousCursor string
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// The feed loops back to its first generation by repeating the
		// cursor rather than omitting it.
		if cursor != "" && cursor == previousCursor {
			log.Debug().Str("cursor", cursor).Msg("Cursor repeated, feed exhausted")
			return nil
		}

		page, err := e.feed.FetchPage(ctx, cursor, tags)
		if err != nil {
			retry, err := e.classifyPageError(ctx, log, err, &attempts, report)
			if err != nil {
				return err
			}
			if !retry {
				return nil
			}
			continue
		}

		attempts = 0
		metrics.SyncPageSize.Observe(float64(len(page.Items)))
		report.observePage(page.Items)

		pageNew, pageImages, err := e.savePage(ctx, log, page, opts, report)
		if err != nil {
			return err
		}

		if page.NextCursor == "" {
			log.Debug().Msg("Feed reported no further pages")
			return nil
		}

		if report.GenerationsDownloaded == 0 || !(pageNew > 0 || pageImages > 0 || opts.Resume || opts.Oldest) {
			if report.GenerationsSaved == 0 {
				log.Info().Msg("Archive already up to date")
			} else {
				log.Info().Msg("Reached previously synced generations")
			}
			return nil
		}

		previousCursor = cursor
		cursor = page.NextCursor
	}
}

// classifyPageError decides what a failed page fetch means for the loop:
// (true, nil) retry the same cursor, (false, nil) end the tag pass,
// (false, err) fail the run.
func (e *Engine) classifyPageError(ctx context.Context, log zerolog.Logger, fetchErr error, attempts *int, report *Report) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	var apiErr *models.APIError
	if !errors.As(fetchErr, &apiErr) {
		return false, fetchErr
	}

	if apiErr.Unauthorized() {
		return false, fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	}

	if apiErr.Retryable() {
		if *attempts >= e.cfg.Sync.MaxAttempts {
			return false, fmt.Errorf("feed unreachable after %d attempts: %w", *attempts, apiErr)
		}
		*attempts++
		metrics.SyncRetries.Inc()
		log.Warn().Int("attempt", *attempts).Err(apiErr).Msg("Could not reach the web service, retrying")

		select {
		case <-time.After(e.cfg.Sync.RetryDelay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
		return true, nil
	}

	// Any other application error ends this tag's pass; remaining tags
	// still run.
	log.Error().Err(apiErr).Msg("Feed error, stopping this pass")
	report.Err = apiErr
	return false, nil
}

// startCursor resolves where a tag pass begins.
func (e *Engine) startCursor(opts Options) (string, error) {
	switch {
	case opts.Latest:
		return "", nil
	case opts.Oldest:
		id, err := e.store.FirstGenerationID()
		if err != nil {
			return "", fmt.Errorf("failed to resolve oldest generation: %w", err)
		}
		return id, nil
	default:
		return opts.Cursor, nil
	}
}

// savePage applies the persist/skip decision to every generation of one
// page. Returns the page's new-generation and fetched-image counts, which
// feed the stop-when-nothing-new termination rule.
func (e *Engine) savePage(ctx context.Context, log zerolog.Logger, page *models.Page, opts Options, report *Report) (pageNew, pageImages int, err error) {
	for _, gen := range page.Items {
		if err := ctx.Err(); err != nil {
			return pageNew, pageImages, err
		}

		exists := e.store.GenerationExists(gen)
		shouldOverwrite := exists && opts.Overwrite

		if exists && opts.OverwriteIfModified {
			drifted, err := e.detectDrift(gen)
			if err != nil {
				return pageNew, pageImages, err
			}
			if drifted {
				shouldOverwrite = true
			}
		}

		if shouldOverwrite {
			if err := e.store.RemoveGeneration(gen); err != nil {
				return pageNew, pageImages, err
			}
		}

		if !exists || shouldOverwrite {
			if err := e.store.PersistGeneration(gen); err != nil {
				return pageNew, pageImages, err
			}
			report.GenerationsSaved++
			if !exists {
				report.GenerationsNew++
				pageNew++
			}
			log.Debug().Str("id", gen.ID).Bool("new", !exists).Msg("Saved generation")
			e.reportProgress(report)
		}

		if opts.WithImages && (!exists || opts.Overwrite || shouldOverwrite) {
			fetched, err := e.replicateGeneration(ctx, gen)
			if err != nil {
				return pageNew, pageImages, err
			}
			report.ImagesSaved += fetched
			pageImages += fetched
			if fetched > 0 {
				e.reportProgress(report)
			}
		}
	}

	return pageNew, pageImages, nil
}

// detectDrift compares the incoming generation's canonical bytes against
// the stored snapshot. On drift, stale tag copies are pruned before the
// caller overwrites the snapshot.
func (e *Engine) detectDrift(gen *models.Generation) (bool, error) {
	stored, err := e.store.LoadGenerationRaw(gen.Date(), gen.ID)
	if err != nil {
		// An unreadable snapshot counts as drifted so the overwrite path
		// restores it.
		logging.Warn().Err(err).Str("id", gen.ID).Msg("Could not read stored snapshot, overwriting")
		return true, nil
	}

	canonical, err := gen.CanonicalJSON()
	if err != nil {
		return false, fmt.Errorf("failed to serialize generation %s: %w", gen.ID, err)
	}

	if bytes.Equal(stored, canonical) {
		return false, nil
	}

	if e.shouldPruneOnDrift() {
		if err := e.pruneDroppedTags(stored, gen); err != nil {
			return false, err
		}
	}

	return true, nil
}

// shouldPruneOnDrift gates tag pruning: only meaningful when images are
// downloaded at all, the "all" directory is active and at least one tag
// directory exists beside it.
func (e *Engine) shouldPruneOnDrift() bool {
	download := e.cfg.Download
	if download.ExcludeImages || len(download.MediaTypes) <= 1 {
		return false
	}
	for _, t := range download.MediaTypes {
		if t == config.TagAll {
			return true
		}
	}
	return false
}

// pruneDroppedTags removes tag-directory copies for tags present in the
// stored snapshot but absent from the incoming one (untagged on-site).
func (e *Engine) pruneDroppedTags(stored []byte, gen *models.Generation) error {
	previous, err := models.DecodeGeneration(stored)
	if err != nil {
		// A corrupt stored snapshot cannot be diffed; the overwrite
		// replaces it wholesale.
		return nil
	}

	current := make(map[string]*models.MediaItem)
	currentMedia := gen.MediaInfo(false)
	for i := range currentMedia {
		current[currentMedia[i].MediaID] = &currentMedia[i]
	}

	for _, prev := range previous.MediaInfo(false) {
		if len(prev.Tags) == 0 {
			continue
		}

		cur := current[prev.MediaID]
		for _, tag := range prev.Tags {
			if cur == nil || !cur.HasTag(tag) {
				if err := e.store.PruneTag(tag, &prev); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// replicateGeneration brings one generation's media copies up to date,
// returning how many assets were fetched remotely.
func (e *Engine) replicateGeneration(ctx context.Context, gen *models.Generation) (int, error) {
	total := 0
	for _, item := range gen.MediaInfo(false) {
		fetched, _, err := e.store.ReplicateMedia(ctx, &item, e.cfg.Download.MediaTypes, e.feed.FetchAsset)
		if err != nil {
			return total, err
		}
		total += fetched
	}
	return total, nil
}

func (e *Engine) reportProgress(report *Report) {
	if e.progress != nil {
		e.progress(*report)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "done"
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "failed"
	}
}
