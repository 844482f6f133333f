// Genmirror - Incremental Generation Archive Mirror
// Copyright 2026 Genmirror Authors
// SPDX-License-Identifier: MIT
// https://github.com/genmirror/genmirror

/*
circuit_breaker.go - Feed Endpoint Circuit Breaker

Wraps feed page requests in a circuit breaker so a remote outage stops
producing a request per retry attempt. The breaker trips when at least
60% of a minimum of 10 requests fail, stays open for 30 seconds, then
admits 3 half-open probes.

Rejections while open are surfaced as retryable SERVER_ERROR values, so
the caller's retry ladder keeps waiting out the open window instead of
aborting the run.
*/
package feed

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/genmirror/genmirror/internal/logging"
	"github.com/genmirror/genmirror/internal/metrics"
	"github.com/genmirror/genmirror/internal/models"
)

const (
	breakerMinRequests  = 10
	breakerFailureRatio = 0.6
	breakerOpenTimeout  = 30 * time.Second
	breakerMaxHalfOpen  = 3
)

// pageBreaker guards the feed page endpoint.
type pageBreaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[*models.Page]
}

func newPageBreaker(name string) *pageBreaker {
	b := &pageBreaker{name: name}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerMaxHalfOpen,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= breakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
			metrics.BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			metrics.BreakerState.WithLabelValues(name).Set(stateGauge(to))
		},
		IsSuccessful: func(err error) bool {
			// Only remote-side failures should trip the breaker. An
			// UNAUTHORIZED envelope means the credential is bad, not
			// that the service is down.
			var apiErr *models.APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Retryable()
			}
			return err == nil
		},
	}

	b.cb = gobreaker.NewCircuitBreaker[*models.Page](settings)
	return b
}

// execute runs fn through the breaker. Open-state and half-open-limit
// rejections come back as retryable *models.APIError values.
func (b *pageBreaker) execute(fn func() (*models.Page, error)) (*models.Page, error) {
	page, err := b.cb.Execute(fn)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.BreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		return nil, models.ServerError("orchestrator.queryGeneratedImages", "feed circuit breaker open")
	case err != nil:
		metrics.BreakerRequests.WithLabelValues(b.name, "failure").Inc()
	default:
		metrics.BreakerRequests.WithLabelValues(b.name, "success").Inc()
	}
	return page, err
}

func stateGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
