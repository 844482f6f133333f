// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

package sync

import (
	"errors"

	"github.com/genmirror/genmirror/internal/models"
)

// ErrUnauthorized reports a rejected credential. Never retried; the
// caller must obtain a fresh key before running again.
var ErrUnauthorized = errors.New("remote rejected the credential")

// Report aggregates the outcome of a sync run. On failure the report
// still carries everything completed before the error: partial progress
// is durable, a later run continues from local state.
type Report struct {
	// FromDate and ToDate span the CreatedAt timestamps seen this run.
	FromDate string
	ToDate   string

	GenerationsDownloaded int
	GenerationsSaved      int
	GenerationsNew        int
	ImagesSaved           int

	// CurrentTag is the tag pass in progress, empty for the untagged run.
	CurrentTag string

	// Err records a non-fatal remote error that ended a tag pass early.
	Err error
}

// ProgressFunc observes the report after every page of work. The report
// value is a snapshot; callbacks must not retain the pointer.
type ProgressFunc func(r Report)

// observe widens the report's date range with one generation's timestamp.
// ISO-8601 strings compare chronologically as plain strings.
func (r *Report) observe(createdAt string) {
	if r.FromDate == "" {
		r.FromDate = createdAt
		r.ToDate = createdAt
		return
	}
	if createdAt < r.FromDate {
		r.FromDate = createdAt
	}
	if createdAt > r.ToDate {
		r.ToDate = createdAt
	}
}

func (r *Report) observePage(items []*models.Generation) {
	for _, gen := range items {
		r.observe(gen.CreatedAt)
	}
	r.GenerationsDownloaded += len(items)
}
