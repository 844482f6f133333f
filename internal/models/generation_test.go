// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

package models

import (
	"bytes"
	"testing"
)

const sampleGeneration = `{
  "id": "gen-1",
  "createdAt": "2026-05-02T10:11:12.000Z",
  "steps": [
    {
      "images": [
        {"id": "m1", "status": "succeeded", "seed": 11, "url": "https://x/m1", "available": true},
        {"id": "m2", "status": "failed", "seed": 12, "url": "https://x/m2", "available": false},
        {"id": "m3", "status": "expired", "seed": 13, "url": "https://x/m3", "available": false},
        {"id": "m4", "status": "succeeded", "seed": 14, "url": "https://x/m4", "available": true},
        {"id": "m5", "status": "succeeded", "seed": 15, "url": "https://x/m5", "available": true}
      ],
      "metadata": {
        "images": {
          "m1": {"favorite": true, "feedback": "liked"},
          "m4": {"hidden": true, "favorite": true},
          "m5": {"favorite": false}
        }
      }
    }
  ]
}`

func TestDecodeGenerationKeepsRaw(t *testing.T) {
	t.Parallel()

	gen, err := DecodeGeneration([]byte(sampleGeneration))
	if err != nil {
		t.Fatalf("DecodeGeneration failed: %v", err)
	}

	if gen.ID != "gen-1" {
		t.Errorf("unexpected id %s", gen.ID)
	}
	if gen.Date() != "2026-05-02" {
		t.Errorf("unexpected date %s", gen.Date())
	}
	if len(gen.Raw) == 0 {
		t.Fatal("raw payload must be retained")
	}
}

func TestCanonicalJSONIsFixedPoint(t *testing.T) {
	t.Parallel()

	gen, err := DecodeGeneration([]byte(sampleGeneration))
	if err != nil {
		t.Fatal(err)
	}

	first, err := gen.CanonicalJSON()
	if err != nil {
		t.Fatal(err)
	}

	// Re-decoding the canonical bytes and canonicalizing again must be
	// byte-identical, or drift detection would false-positive forever.
	again, err := DecodeGeneration(first)
	if err != nil {
		t.Fatal(err)
	}
	second, err := again.CanonicalJSON()
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(first, second) {
		t.Error("canonical serialization is not a fixed point")
	}
}

func TestMediaInfoVisible(t *testing.T) {
	t.Parallel()

	gen, err := DecodeGeneration([]byte(sampleGeneration))
	if err != nil {
		t.Fatal(err)
	}

	media := gen.MediaInfo(false)
	if len(media) != 2 {
		t.Fatalf("expected 2 visible items, got %d", len(media))
	}

	m1 := media[0]
	if m1.MediaID != "m1" || m1.Date != "2026-05-02" || m1.Seed != 11 {
		t.Errorf("unexpected item %+v", m1)
	}
	// Boolean flags contribute the key, string flags the key:value pair,
	// sorted.
	if len(m1.Tags) != 2 || m1.Tags[0] != "favorite" || m1.Tags[1] != "feedback:liked" {
		t.Errorf("unexpected tags %v", m1.Tags)
	}
	if !m1.HasTag("feedback:liked") || m1.HasTag("feedback:disliked") {
		t.Error("HasTag mismatch")
	}

	// m5 has only a false flag: visible, no tags.
	m5 := media[1]
	if m5.MediaID != "m5" || len(m5.Tags) != 0 {
		t.Errorf("unexpected item %+v", m5)
	}
}

func TestMediaInfoHidden(t *testing.T) {
	t.Parallel()

	gen, err := DecodeGeneration([]byte(sampleGeneration))
	if err != nil {
		t.Fatal(err)
	}

	hidden := gen.MediaInfo(true)
	if len(hidden) != 1 || hidden[0].MediaID != "m4" {
		t.Fatalf("expected only m4 hidden, got %+v", hidden)
	}
	// The hidden flag itself becomes a tag; replication skips it since
	// no directory maps to it.
	if !hidden[0].HasTag("hidden") || !hidden[0].HasTag("favorite") {
		t.Errorf("unexpected hidden tags %v", hidden[0].Tags)
	}
}

func TestMediaInfoNoMetadata(t *testing.T) {
	t.Parallel()

	raw := `{"id":"g","createdAt":"2026-01-01T00:00:00.000Z","steps":[{"images":[{"id":"m","status":"succeeded","seed":1,"url":"u"}]}]}`
	gen, err := DecodeGeneration([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}

	if got := gen.MediaInfo(false); len(got) != 1 || len(got[0].Tags) != 0 {
		t.Errorf("items without metadata are visible and untagged, got %+v", got)
	}
	if got := gen.MediaInfo(true); len(got) != 0 {
		t.Errorf("items without metadata are never hidden, got %+v", got)
	}
}

func TestDateString(t *testing.T) {
	t.Parallel()

	if got := DateString("2026-05-02T10:11:12.000Z"); got != "2026-05-02" {
		t.Errorf("got %s", got)
	}
	if got := DateString("2026-05-02"); got != "2026-05-02" {
		t.Errorf("timestamps without a time part pass through, got %s", got)
	}
}
