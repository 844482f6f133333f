// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

// Package main is the genmirror command line entry point.
//
// Genmirror incrementally mirrors a remote media-generation feed into a
// local tag-organized file archive. A run walks the cursor-paginated
// feed, persists each generation's canonical JSON snapshot and
// replicates its media into the configured tag directories, fetching
// each asset from the remote at most once.
//
// # Commands
//
//	genmirror sync           synchronize the archive with the remote feed
//	genmirror replicate      recompute tag-directory copies, offline
//	genmirror setup-tags     migrate a legacy flat archive to tag layout
//	genmirror delete-hidden  remove media deleted on the remote generator
//	genmirror census         report archive statistics
//
// # Configuration
//
// Configuration layers, highest priority last: built-in defaults, a YAML
// config file (./config.yaml, ~/.config/genmirror/config.yaml or
// GENMIRROR_CONFIG), then GENMIRROR_* environment variables. A .env file
// in the working directory is loaded before anything else. The feed
// credential comes from GENMIRROR_SECRET_KEY.
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the run cooperatively: the in-flight
// generation finishes as a unit, the partial report is printed, and a
// later run continues from local state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/genmirror/genmirror/internal/archive"
	"github.com/genmirror/genmirror/internal/config"
	"github.com/genmirror/genmirror/internal/feed"
	"github.com/genmirror/genmirror/internal/logging"
	"github.com/genmirror/genmirror/internal/models"
	"github.com/genmirror/genmirror/internal/reconcile"
	"github.com/genmirror/genmirror/internal/sync"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// A .env beside the binary is a convenience for the secret key; its
	// absence is not an error.
	_ = godotenv.Load()

	command := "sync"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command = args[0]
		args = args[1:]
	}

	flags := flag.NewFlagSet("genmirror "+command, flag.ExitOnError)
	configPath := flags.String("config", "", "path to the config file")

	var (
		latest        = flags.Bool("latest", false, "start from the newest feed entry")
		oldest        = flags.Bool("oldest", false, "start from the oldest stored generation")
		resume        = flags.Bool("resume", false, "keep paginating through already-synced pages")
		overwrite     = flags.Bool("overwrite", false, "re-persist every generation encountered")
		noPolicy      = flags.Bool("no-overwrite-modified", false, "do not re-persist drifted generations")
		noImages      = flags.Bool("no-images", false, "skip media replication")
		tagsFlag      = flags.String("tags", "", "comma-separated tag passes: favorite,liked,disliked")
		cursor        = flags.String("cursor", "", "explicit feed cursor to start from")
		withMissing   = flags.Bool("missing", false, "census: list available-but-unsaved media")
		includeLegacy = flags.Bool("include-legacy", true, "include legacy 8-char generation ids")
	)

	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "genmirror: %v\n", err)
		return 1
	}

	logging.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := archive.NewStore(&cfg.Archive)

	switch command {
	case "sync":
		tags, err := parseTags(*tagsFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "genmirror: %v\n", err)
			return 2
		}
		opts := sync.Options{
			WithImages:          !*noImages && !cfg.Download.ExcludeImages,
			Latest:              *latest,
			Oldest:              *oldest,
			Resume:              *resume,
			Overwrite:           *overwrite,
			OverwriteIfModified: !*noPolicy,
			Tags:                tags,
			Cursor:              *cursor,
		}
		return runSync(ctx, cfg, store, opts)

	case "replicate":
		return runReplicate(ctx, cfg, store)

	case "setup-tags":
		return runSetupTags(ctx, cfg, store)

	case "delete-hidden":
		return runDeleteHidden(ctx, cfg, store)

	case "census":
		return runCensus(ctx, cfg, store, *withMissing, !*noImages, *includeLegacy)

	default:
		fmt.Fprintf(os.Stderr, "genmirror: unknown command %q\n", command)
		fmt.Fprintln(os.Stderr, "commands: sync, replicate, setup-tags, delete-hidden, census")
		return 2
	}
}

func runSync(ctx context.Context, cfg *config.Config, store *archive.Store, opts sync.Options) int {
	client := feed.NewClient(&cfg.Feed)

	progress := func(r sync.Report) {
		logging.Info().
			Str("tag", r.CurrentTag).
			Int("downloaded", r.GenerationsDownloaded).
			Int("new", r.GenerationsNew).
			Int("images", r.ImagesSaved).
			Str("from", models.DateString(r.FromDate)).
			Msg("Progress")
	}

	engine := sync.NewEngine(client, store, cfg, progress)
	report, err := engine.Run(ctx, opts)

	printReport(report)

	switch {
	case err == nil:
		if report.Err != nil {
			fmt.Fprintf(os.Stderr, "genmirror: feed error during run: %v\n", report.Err)
		}
		return 0
	case errors.Is(err, sync.ErrUnauthorized):
		fmt.Fprintln(os.Stderr, "genmirror: the feed rejected your credential; set GENMIRROR_SECRET_KEY to a fresh key")
		return 1
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "genmirror: stopped; run again to continue from local state")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "genmirror: sync failed: %v\n", err)
		if report.GenerationsSaved > 0 {
			fmt.Fprintln(os.Stderr, "genmirror: partial progress was saved; a full run will fill any gaps")
		}
		return 1
	}
}

func runReplicate(ctx context.Context, cfg *config.Config, store *archive.Store) int {
	copied, err := reconcile.New(store, cfg).ReplicateAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "genmirror: replicate failed: %v\n", err)
		return 1
	}
	fmt.Printf("%d media files replicated\n", copied)
	return 0
}

func runSetupTags(ctx context.Context, cfg *config.Config, store *archive.Store) int {
	if err := reconcile.New(store, cfg).SetupTagDirectories(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "genmirror: setup-tags failed: %v\n", err)
		return 1
	}
	fmt.Println("tag directories ready")
	return 0
}

func runDeleteHidden(ctx context.Context, cfg *config.Config, store *archive.Store) int {
	removed, err := reconcile.New(store, cfg).DeleteHiddenMedia(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "genmirror: delete-hidden failed: %v\n", err)
		return 1
	}
	fmt.Printf("%d media files deleted\n", removed)
	return 0
}

func runCensus(ctx context.Context, cfg *config.Config, store *archive.Store, withMissing, withImages, includeLegacy bool) int {
	report, err := reconcile.New(store, cfg).Census(ctx, reconcile.CensusOptions{
		WithImages:    withImages,
		WithMissing:   withMissing,
		IncludeLegacy: includeLegacy,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "genmirror: census failed: %v\n", err)
		return 1
	}

	fmt.Printf("%d generations (%s .. %s)\n", report.Generations, report.FromDate, report.ToDate)
	if withImages {
		fmt.Printf("%d images created, %d saved locally\n", report.ImagesCreated, report.ImagesSaved)
	}
	if withMissing {
		for _, m := range report.ImagesMissing {
			fmt.Printf("missing %s %s %s\n", m.Date, m.GenerationID, m.URL)
		}
	}
	fmt.Printf("census took %s\n", report.Elapsed.Round(time.Millisecond))
	return 0
}

func printReport(r *sync.Report) {
	fmt.Printf("%d generations downloaded, %d saved (%d new), %d images downloaded\n",
		r.GenerationsDownloaded, r.GenerationsSaved, r.GenerationsNew, r.ImagesSaved)
	if r.FromDate != "" {
		fmt.Printf("range %s .. %s\n", models.DateString(r.FromDate), models.DateString(r.ToDate))
	}
}

// parseTags maps the CLI's friendly tag names onto the feed's tag values.
func parseTags(value string) ([]string, error) {
	if value == "" {
		return nil, nil
	}

	names := map[string]string{
		"favorite": config.TagFavorite,
		"liked":    config.TagLiked,
		"disliked": config.TagDisliked,
	}

	var tags []string
	for _, name := range strings.Split(value, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		tag, ok := names[name]
		if !ok {
			return nil, fmt.Errorf("unknown tag %q (expected favorite, liked or disliked)", name)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}
