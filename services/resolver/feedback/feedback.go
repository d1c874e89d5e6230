// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package feedback consumes the human-feedback store through its single
// "improved answer lookup" call. Feedback capture and learning analytics
// live in that service; this client only asks whether a human has already
// corrected the answer for a given question.
package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client queries the human-feedback service.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a feedback client for the given base URL.
//
// Inputs:
//
//	baseURL - The feedback service root (e.g. "http://feedback:8084").
//	logger - Optional logger. If nil, uses slog.Default().
//
// Outputs:
//
//	*Client - Ready-to-use client.
//	error - Non-nil when baseURL is empty.
func NewClient(baseURL string, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("feedback service url must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Second},
		logger:     logger.With(slog.String("component", "feedback_client")),
	}, nil
}

// lookupRequest is the improved-answer lookup body.
type lookupRequest struct {
	Query string `json:"query"`
}

// lookupResponse is the improved-answer lookup result.
type lookupResponse struct {
	Found  bool   `json:"found"`
	Answer string `json:"answer"`
}

// LookupImprovedAnswer returns a human-corrected answer for the query, if
// one exists.
//
// Description:
//
//	POSTs the normalized query to the feedback service. A miss, a non-200
//	status, or any transport failure all surface as (found=false); the
//	error return carries the failure for logging but the pipeline treats
//	every failure as phase not-found.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	normalized - Normalized query text.
//
// Outputs:
//
//	string - The improved answer when found.
//	bool - True when a correction exists.
//	error - Non-nil on transport/service failure.
func (c *Client) LookupImprovedAnswer(ctx context.Context, normalized string) (string, bool, error) {
	body, err := json.Marshal(lookupRequest{Query: normalized})
	if err != nil {
		return "", false, fmt.Errorf("marshal lookup request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/feedback/lookup", bytes.NewBuffer(body))
	if err != nil {
		return "", false, fmt.Errorf("create lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("feedback lookup failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("read lookup response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("feedback service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed lookupResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", false, fmt.Errorf("parse lookup response: %w", err)
	}
	if !parsed.Found || strings.TrimSpace(parsed.Answer) == "" {
		return "", false, nil
	}
	return parsed.Answer, true, nil
}
