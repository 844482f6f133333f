// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

// Package config loads and validates the genmirror configuration from
// defaults, an optional YAML config file and GENMIRROR_-prefixed
// environment variables, in that order of precedence.
package config

import (
	"time"

	"github.com/genmirror/genmirror/internal/logging"
)

// Tag names accepted in download type configuration. "all" implies every
// media item regardless of its own tags.
const (
	TagAll      = "all"
	TagFavorite = "favorite"
	TagLiked    = "feedback:liked"
	TagDisliked = "feedback:disliked"
)

// Config is the root configuration.
type Config struct {
	Archive  ArchiveConfig  `koanf:"archive" validate:"required"`
	Download DownloadConfig `koanf:"download"`
	Feed     FeedConfig     `koanf:"feed"`
	Sync     SyncConfig     `koanf:"sync"`
	Log      logging.Config `koanf:"log"`
}

// ArchiveConfig locates the on-disk archive roots.
type ArchiveConfig struct {
	// DataRoot holds one JSON snapshot per generation, keyed by date and id.
	DataRoot string `koanf:"data_root" validate:"required"`

	// MediaRoot holds the tag-named media directories.
	MediaRoot string `koanf:"media_root" validate:"required"`
}

// DownloadConfig selects which tag-derived directories are active and
// whether media assets are downloaded at all.
type DownloadConfig struct {
	// MediaTypes are the active media download directories, as tag names.
	MediaTypes []string `koanf:"media_types" validate:"dive,oneof=all favorite feedback:liked feedback:disliked"`

	// DataTypes restrict which generations are considered for data-only
	// passes, as tag names.
	DataTypes []string `koanf:"data_types" validate:"dive,oneof=all favorite feedback:liked feedback:disliked"`

	// ExcludeImages disables media downloads entirely; only generation
	// JSON is mirrored.
	ExcludeImages bool `koanf:"exclude_images"`
}

// FeedConfig configures the remote feed client.
type FeedConfig struct {
	// BaseURL is the generation feed endpoint.
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// ModelsURL is the public model metadata endpoint.
	ModelsURL string `koanf:"models_url" validate:"required,url"`

	// SecretKey is the bearer credential for the feed endpoint. May be
	// empty for unauthenticated endpoints such as model info.
	SecretKey string `koanf:"secret_key"`

	// Timeout bounds each HTTP round trip.
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`

	// PageInterval is the minimum spacing between feed page requests.
	PageInterval time.Duration `koanf:"page_interval" validate:"min=0"`

	// AssetInterval is the minimum spacing between asset fetches, tracked
	// independently of the page limiter.
	AssetInterval time.Duration `koanf:"asset_interval" validate:"min=0"`

	// MaxRetries bounds the 429 backoff loop inside a single request.
	MaxRetries int `koanf:"max_retries" validate:"min=0,max=10"`

	// RetryBaseDelay seeds the 429 exponential backoff.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" validate:"min=0"`
}

// SyncConfig configures the orchestrator's retry ladder.
type SyncConfig struct {
	// MaxAttempts is the ceiling on page fetch attempts after server
	// errors before the run fails fatally.
	MaxAttempts int `koanf:"max_attempts" validate:"min=1,max=100"`

	// RetryDelay is the fixed pause between server-error retries.
	RetryDelay time.Duration `koanf:"retry_delay" validate:"min=0"`
}

// Default returns the configuration used when no file or environment
// overrides are present. The rate limit and retry constants match the
// remote service's published limits.
func Default() *Config {
	return &Config{
		Archive: ArchiveConfig{
			DataRoot:  "generations/data",
			MediaRoot: "generations/media",
		},
		Download: DownloadConfig{
			MediaTypes:    []string{TagAll, TagFavorite},
			DataTypes:     []string{TagAll},
			ExcludeImages: false,
		},
		Feed: FeedConfig{
			BaseURL:        "https://civitai.com/api/trpc/orchestrator.queryGeneratedImages",
			ModelsURL:      "https://civitai.com/api/v1/models",
			SecretKey:      "",
			Timeout:        30 * time.Second,
			PageInterval:   100 * time.Millisecond,
			AssetInterval:  100 * time.Millisecond,
			MaxRetries:     5,
			RetryBaseDelay: time.Second,
		},
		Sync: SyncConfig{
			MaxAttempts: 10,
			RetryDelay:  time.Second,
		},
		Log: logging.Config{
			Level:  "info",
			Format: "console",
		},
	}
}
