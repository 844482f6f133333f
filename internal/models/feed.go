// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// API error codes carried in the feed envelope's error payload.
const (
	CodeServerError  = "SERVER_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
)

// Page is one decoded page of the remote generation feed.
type Page struct {
	Items []*Generation

	// NextCursor is the opaque pagination token for the following page.
	// Empty means the feed reported no further pages. A cursor equal to
	// the one that produced this page means the feed has looped back to
	// its start; both conditions terminate pagination.
	NextCursor string

	// Dropped counts items whose payload failed to decode. Malformed
	// items skip the item, never the run.
	Dropped int
}

// APIError is the normalized form of every remote failure: transport
// errors, non-2xx statuses, malformed JSON and application-level errors
// reported inside the response envelope all map onto this one type. The
// discrimination is explicit, never inferred from response shape.
type APIError struct {
	HTTPStatus int
	Code       string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s (%d) at %s: %s", e.Code, e.HTTPStatus, e.Path, e.Message)
}

// Retryable reports whether the error represents a transient server-side
// condition worth retrying.
func (e *APIError) Retryable() bool {
	return e.HTTPStatus >= 500
}

// Unauthorized reports whether the error requires a credential refresh.
// Unauthorized errors are never retried automatically.
func (e *APIError) Unauthorized() bool {
	return e.Code == CodeUnauthorized
}

// ServerError builds the normalized error used when a request fails before
// a well-formed envelope is available (connection failure, bad JSON). The
// shape mirrors the remote API's own error payload.
func ServerError(path, message string) *APIError {
	return &APIError{
		HTTPStatus: 500,
		Code:       CodeServerError,
		Path:       path,
		Message:    message,
	}
}

// feedEnvelope is the wire shape of the feed endpoint response:
// {result:{data:{json:{items, nextCursor}}}} on success or
// {error:{json:{message, code, data:{code, httpStatus, path}}}} on failure.
type feedEnvelope struct {
	Result *struct {
		Data struct {
			JSON struct {
				Items      []json.RawMessage `json:"items"`
				NextCursor *string           `json:"nextCursor"`
			} `json:"json"`
		} `json:"data"`
	} `json:"result"`
	Error *envelopeError `json:"error"`
}

type envelopeError struct {
	JSON struct {
		Message string      `json:"message"`
		Code    json.Number `json:"code"`
		Data    struct {
			Code       string `json:"code"`
			HTTPStatus int    `json:"httpStatus"`
			Path       string `json:"path"`
		} `json:"data"`
	} `json:"json"`
}

func (e *envelopeError) toAPIError() *APIError {
	return &APIError{
		HTTPStatus: e.JSON.Data.HTTPStatus,
		Code:       e.JSON.Data.Code,
		Path:       e.JSON.Data.Path,
		Message:    e.JSON.Message,
	}
}

// DecodePage parses a feed response body into a Page, or the typed
// APIError the envelope carried.
func DecodePage(body []byte) (*Page, *APIError) {
	var env feedEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, ServerError("orchestrator.queryGeneratedImages", err.Error())
	}

	if env.Error != nil {
		return nil, env.Error.toAPIError()
	}

	if env.Result == nil {
		return nil, ServerError("orchestrator.queryGeneratedImages", "missing result in response envelope")
	}

	page := &Page{}
	if c := env.Result.Data.JSON.NextCursor; c != nil {
		page.NextCursor = *c
	}

	for _, raw := range env.Result.Data.JSON.Items {
		gen, err := DecodeGeneration(raw)
		if err != nil {
			page.Dropped++
			continue
		}
		page.Items = append(page.Items, gen)
	}

	return page, nil
}

// ModelInfo is the subset of the public model endpoint response consumed
// by the update checker. It shares the feed client's error normalization
// contract but sits outside the sync data path.
type ModelInfo struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	ModelVersions []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"modelVersions"`
}
