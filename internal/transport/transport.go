// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

// Package transport is the shared HTTP edge for every vendor API and the
// spreadsheet store: rate limiting, a circuit breaker, and bounded retry
// with doubling backoff on transient statuses (429 and 5xx).
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/notorios-big/metrics-report/internal/logging"
)

// retryable statuses. 429 carries vendor rate limiting, the rest are
// transient upstream failures.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Config tunes a Client. Zero values fall back to defaults.
type Config struct {
	Name           string
	Attempts       int
	InitialDelay   time.Duration
	RequestsPerSec float64
	Burst          int
	Timeout        time.Duration
}

// Client wraps an http.Client with the retry/breaker/limiter policy.
type Client struct {
	name     string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	limiter  *rate.Limiter
	attempts int
	delay    time.Duration
}

// New builds a Client. The breaker trips when at least 60% of a window of
// 10+ requests failed, stays open for two minutes and then admits three
// probes.
func New(cfg Config) *Client {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSec)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})

	return &Client{
		name:     cfg.Name,
		http:     &http.Client{Timeout: cfg.Timeout},
		breaker:  breaker,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		attempts: cfg.Attempts,
		delay:    cfg.InitialDelay,
	}
}

// Request is a replayable HTTP request. Body is held as bytes so retries
// can resend it.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Do executes the request under the client's policy and returns the final
// response. Non-retryable statuses return immediately; the caller owns the
// response body.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	var lastErr error
	delay := c.delay

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			httpReq, rerr := c.build(ctx, req)
			if rerr != nil {
				return nil, rerr
			}
			return c.http.Do(httpReq)
		})
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("%s %s: status %d", req.Method, req.URL, resp.StatusCode)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		if attempt == c.attempts {
			break
		}
		logging.Warn().
			Str("client", c.name).
			Str("url", req.URL).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(lastErr).
			Msg("Retrying request")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, fmt.Errorf("request failed after %d attempt(s): %w", c.attempts, lastErr)
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for key, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(key, v)
		}
	}
	return httpReq, nil
}

// DoJSON executes the request and decodes a 2xx JSON response into out.
// Non-2xx responses become errors carrying the status and a truncated body.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL, err)
	}
	return nil
}

// JSONBody marshals v for use as a Request body.
func JSONBody(v any) ([]byte, error) {
	return json.Marshal(v)
}
