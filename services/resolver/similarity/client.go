// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package similarity wraps the Weaviate vector-similarity service behind
// query expansion, adaptive thresholds, and a relevance post-filter.
//
// The adapter is resilient but pessimistic: transient network errors are
// retried with exponential backoff and jitter; anything that still fails is
// reported to the pipeline as not-found, never as an error.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// ErrUnavailable is returned when Weaviate cannot be reached after retries.
var ErrUnavailable = errors.New("similarity search service unavailable")

// ClientConfig configures the Weaviate connection.
type ClientConfig struct {
	// URL is the Weaviate server URL (e.g. "http://localhost:8080").
	URL string

	// ClassName is the Weaviate class holding indexed math problems.
	// Default: "MathProblem".
	ClassName string

	// RetryAttempts is the number of retries for transient failures.
	// Default: 2.
	RetryAttempts int

	// RetryBackoff is the initial backoff between retries. Default: 100ms.
	RetryBackoff time.Duration

	// RetryJitter randomizes backoff by ±fraction (0-1). Default: 0.25.
	RetryJitter float64

	// Logger for client operations. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultClientConfig returns production defaults. URL must still be set.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ClassName:     "MathProblem",
		RetryAttempts: 2,
		RetryBackoff:  100 * time.Millisecond,
		RetryJitter:   0.25,
	}
}

// Client is the resilient Weaviate connection used by the adapter.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	client    *weaviate.Client
	className string
	config    ClientConfig
	logger    *slog.Logger
}

// NewClient connects to Weaviate.
//
// Inputs:
//
//	cfg - Connection configuration. URL is required.
//
// Outputs:
//
//	*Client - Ready-to-use client.
//	error - Non-nil if the configuration is invalid.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("weaviate url must not be empty")
	}
	defaults := DefaultClientConfig()
	if cfg.ClassName == "" {
		cfg.ClassName = defaults.ClassName
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = defaults.RetryAttempts
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = defaults.RetryBackoff
	}
	if cfg.RetryJitter == 0 {
		cfg.RetryJitter = defaults.RetryJitter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	wcfg := weaviate.Config{Host: cfg.URL, Scheme: "http"}
	if strings.HasPrefix(cfg.URL, "https://") {
		wcfg.Scheme = "https"
		wcfg.Host = strings.TrimPrefix(cfg.URL, "https://")
	} else if strings.HasPrefix(cfg.URL, "http://") {
		wcfg.Host = strings.TrimPrefix(cfg.URL, "http://")
	}

	wc, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &Client{
		client:    wc,
		className: cfg.ClassName,
		config:    cfg,
		logger:    cfg.Logger.With(slog.String("component", "similarity_client")),
	}, nil
}

// Ready reports whether Weaviate answers its readiness check.
//
// Thread Safety: Safe for concurrent use.
func (c *Client) Ready(ctx context.Context) bool {
	ok, err := c.client.Misc().ReadyChecker().Do(ctx)
	return err == nil && ok
}

// execute runs fn with retry and backoff for transient failures.
func (c *Client) execute(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			c.logger.Debug("retrying weaviate request",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			break
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// backoff returns exponential backoff with jitter for the given attempt.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.config.RetryBackoff * time.Duration(1<<attempt)
	jitterRange := float64(d) * c.config.RetryJitter
	jitter := (rand.Float64()*2 - 1) * jitterRange
	d = time.Duration(float64(d) + jitter)
	if d < 0 {
		d = c.config.RetryBackoff
	}
	return d
}

// isRetryable reports whether an error is worth a retry: timeouts and
// connection-level failures yes, cancellations and application errors no.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
