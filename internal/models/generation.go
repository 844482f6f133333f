// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

// Package models defines the domain types shared across the feed client,
// the archive store and the sync engine: generations, media items, the
// remote feed envelope and the normalized API error.
package models

import (
	"bytes"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Media item statuses that are never persisted or replicated.
const (
	StatusFailed  = "failed"
	StatusExpired = "expired"
)

// Generation is one unit of remote work output: a batch of requested media
// with its own id and creation timestamp.
//
// The struct decodes only the fields the engine needs to make decisions.
// The full remote payload is retained verbatim in Raw so the on-disk JSON
// stays a byte-for-byte canonical snapshot of the last-seen remote state;
// drift between runs is detected by comparing canonical serializations.
type Generation struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
	Steps     []Step `json:"steps"`

	// Raw is the undecoded remote payload for this generation, exactly as
	// it appeared in the feed response item. Never nil for generations
	// decoded through DecodeGeneration.
	Raw json.RawMessage `json:"-"`
}

// Step is one workflow step of a generation, carrying its rendered images
// and the feedback metadata keyed by media id.
type Step struct {
	Images   []StepImage   `json:"images"`
	Metadata *StepMetadata `json:"metadata"`
}

// StepImage is the wire form of one rendered image or video.
type StepImage struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Seed      int64  `json:"seed"`
	URL       string `json:"url"`
	Available bool   `json:"available"`
}

// StepMetadata holds per-media feedback flags. Values are either booleans
// (favorite: true) or strings (feedback: "liked"); string values become
// composite "key:value" tags.
type StepMetadata struct {
	Images map[string]map[string]any `json:"images"`
}

// DecodeGeneration unmarshals a raw feed item, keeping the original bytes
// attached for canonical persistence.
func DecodeGeneration(raw json.RawMessage) (*Generation, error) {
	var g Generation
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	g.Raw = raw
	return &g, nil
}

// CanonicalJSON returns the persisted form of the generation: the verbatim
// remote payload re-indented with two spaces. Equality of two canonical
// serializations is the drift test, so the indentation must never change.
func (g *Generation) CanonicalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, g.Raw, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Date returns the YYYY-MM-DD portion of the creation timestamp, which
// keys the generation's storage directory.
func (g *Generation) Date() string {
	return DateString(g.CreatedAt)
}

// DateString truncates an ISO timestamp to its date part.
func DateString(isoTimestamp string) string {
	if i := strings.IndexByte(isoTimestamp, 'T'); i >= 0 {
		return isoTimestamp[:i]
	}
	return isoTimestamp
}

// MediaItem is one image or video belonging to a generation, flattened
// from the step structure with its tag set resolved.
type MediaItem struct {
	Date         string
	GenerationID string
	MediaID      string
	Seed         int64
	Status       string
	URL          string
	Tags         []string
	Available    bool
}

// HasTag reports whether the item carries the given tag.
func (m *MediaItem) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MediaInfo flattens a generation's steps into media items eligible for
// persistence. Items with failed or expired status are excluded entirely.
//
// The hidden argument selects which side of the remote soft-delete flag to
// return: false yields items still visible on the remote UI (the normal
// sync set), true yields items the user deleted remotely (used by the
// hidden-media cleanup pass). Items without feedback metadata are treated
// as visible.
//
// Tags are derived from the feedback metadata: boolean true values
// contribute the key itself, string values contribute "key:value". The
// resulting set is sorted for deterministic comparison.
func (g *Generation) MediaInfo(hidden bool) []MediaItem {
	var media []MediaItem
	date := g.Date()

	for si := range g.Steps {
		step := &g.Steps[si]
		for _, img := range step.Images {
			if img.Status == StatusFailed || img.Status == StatusExpired {
				continue
			}

			item := MediaItem{
				Date:         date,
				GenerationID: g.ID,
				MediaID:      img.ID,
				Seed:         img.Seed,
				Status:       img.Status,
				URL:          img.URL,
				Available:    img.Available,
				Tags:         []string{},
			}

			if step.Metadata != nil {
				if flags, ok := step.Metadata.Images[img.ID]; ok {
					if isHidden(flags) != hidden {
						continue
					}
					item.Tags = tagsFromFlags(flags)
				} else if hidden {
					continue
				}
			} else if hidden {
				continue
			}

			media = append(media, item)
		}
	}

	return media
}

func isHidden(flags map[string]any) bool {
	v, ok := flags["hidden"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func tagsFromFlags(flags map[string]any) []string {
	set := make(map[string]struct{})
	for key, value := range flags {
		switch v := value.(type) {
		case bool:
			if v {
				set[key] = struct{}{}
			}
		case string:
			set[key+":"+v] = struct{}{}
		}
	}

	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
