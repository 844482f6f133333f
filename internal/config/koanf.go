// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"config/config.yaml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "GENMIRROR_CONFIG"

// envPrefix namespaces all environment overrides.
const envPrefix = "GENMIRROR_"

// envMappings maps flattened environment variable names (without prefix,
// lowercased) onto config keys.
var envMappings = map[string]string{
	"data_root":        "archive.data_root",
	"media_root":       "archive.media_root",
	"media_types":      "download.media_types",
	"data_types":       "download.data_types",
	"exclude_images":   "download.exclude_images",
	"feed_url":         "feed.base_url",
	"models_url":       "feed.models_url",
	"secret_key":       "feed.secret_key",
	"feed_timeout":     "feed.timeout",
	"page_interval":    "feed.page_interval",
	"asset_interval":   "feed.asset_interval",
	"max_retries":      "feed.max_retries",
	"retry_base_delay": "feed.retry_base_delay",
	"max_attempts":     "sync.max_attempts",
	"retry_delay":      "sync.retry_delay",
	"log_level":        "log.level",
	"log_format":       "log.format",
}

// Load builds the configuration: defaults, then the YAML file at path (or
// the first default path found when path is empty), then environment
// variables. The result is validated before being returned.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path == "" {
		for _, candidate := range DefaultConfigPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.ProviderWithValue(envPrefix, ".", envTransformValue)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envTransformValue maps GENMIRROR_SECRET_KEY style variables onto their
// config keys. Unknown variables are dropped rather than guessed at.
// List-valued keys split on commas.
func envTransformValue(key, value string) (string, interface{}) {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	mapped, ok := envMappings[key]
	if !ok {
		return "", nil
	}

	if mapped == "download.media_types" || mapped == "download.data_types" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return mapped, parts
	}

	return mapped, value
}

// Validate checks the configuration's struct-level constraints.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if len(cfg.Download.MediaTypes) == 0 && !cfg.Download.ExcludeImages {
		return fmt.Errorf("invalid configuration: media download enabled but no media types selected")
	}

	return nil
}
