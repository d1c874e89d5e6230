// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package websearch wraps the external web-search service behind a hard
// timeout, an educational-domain allow-list, and content normalization via
// the generation service's summarization capability.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/mathesis-ai/mathesis/services/resolver/datatypes"
)

// webSearchTracer is the OpenTelemetry tracer for web searches.
var webSearchTracer = otel.Tracer("mathesis.resolver.websearch")

// WebSearchConfidence is fixed mid-level: content is externally sourced and
// reformatted, not independently verified.
const WebSearchConfidence = 0.75

// minContentLength rejects result sets with too little signal to trust.
const minContentLength = 200

// maxSummarizeChars bounds how much retrieved content goes to the
// summarizer; longer content is chunked and truncated to the leading chunks.
const maxSummarizeChars = 6000

// ErrTimeout is returned when the external call exceeds the hard timeout.
var ErrTimeout = errors.New("web search timed out")

// ErrThinContent is returned when the combined content is too short.
var ErrThinContent = errors.New("web search returned too little content")

// defaultAllowedDomains is the curated educational allow-list.
var defaultAllowedDomains = []string{
	"wikipedia.org",
	"wolfram.com",
	"mathworld.wolfram.com",
	"khanacademy.org",
	"mathsisfun.com",
	"brilliant.org",
	"ocw.mit.edu",
}

// Summarizer rewrites raw retrieved content into a structured answer.
// The generation adapter implements this; the reuse is intentional, raw
// search snippets are not directly presentable.
type Summarizer interface {
	Summarize(ctx context.Context, query, content string) (string, error)
}

// Config configures the web-search adapter.
type Config struct {
	// ServiceURL is the web-search collaborator endpoint.
	ServiceURL string

	// Timeout is the hard per-call timeout. Default: 6s.
	Timeout time.Duration

	// AllowedDomains overrides the default educational allow-list.
	AllowedDomains []string

	// RequestsPerSecond rate-limits outbound searches. Default: 2.
	RequestsPerSecond float64

	// HTTPClient overrides the default client. For tests.
	HTTPClient *http.Client

	// Logger for adapter operations. Default: slog.Default().
	Logger *slog.Logger
}

// searchResult is one (url, content) pair from the collaborator.
type searchResult struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

// searchResponse is the collaborator's response body.
type searchResponse struct {
	Results []searchResult `json:"results"`
}

// Adapter is the web-search resolution phase.
//
// Thread Safety: Safe for concurrent use.
type Adapter struct {
	serviceURL string
	timeout    time.Duration
	allowed    []string
	limiter    *rate.Limiter
	httpClient *http.Client
	summarizer Summarizer
	splitter   textsplitter.TextSplitter
	logger     *slog.Logger
}

// NewAdapter creates the web-search adapter.
//
// Inputs:
//
//	cfg - Adapter configuration. ServiceURL is required.
//	summarizer - The generation adapter's summarization capability.
//
// Outputs:
//
//	*Adapter - Ready-to-use adapter.
//	error - Non-nil if configuration is invalid.
func NewAdapter(cfg Config, summarizer Summarizer) (*Adapter, error) {
	if cfg.ServiceURL == "" {
		return nil, errors.New("web search service url must not be empty")
	}
	if summarizer == nil {
		return nil, errors.New("summarizer must not be nil")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	allowed := cfg.AllowedDomains
	if len(allowed) == 0 {
		allowed = defaultAllowedDomains
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{
		serviceURL: strings.TrimSuffix(cfg.ServiceURL, "/"),
		timeout:    timeout,
		allowed:    allowed,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		httpClient: httpClient,
		summarizer: summarizer,
		splitter:   textsplitter.NewRecursiveCharacter(textsplitter.WithChunkSize(2000), textsplitter.WithChunkOverlap(100)),
		logger:     logger.With(slog.String("component", "websearch_adapter")),
	}, nil
}

// Search resolves the query from curated web content.
//
// Description:
//
//	Requests results from the external search service under the hard
//	timeout, drops results outside the domain allow-list, concatenates
//	the remaining content, rejects it when too thin, and rewrites it into
//	a structured answer through the summarizer.
//
//	If the external call does not complete within the timeout it is
//	cancelled and not-found is returned; the pipeline proceeds to
//	generation instead of blocking.
//
// Inputs:
//
//	ctx - Context for cancellation. The hard timeout is layered on top.
//	q - The normalized query.
//
// Outputs:
//
//	*datatypes.ResolutionCandidate - The candidate, or nil when the search
//	yields nothing usable.
//	error - Non-nil for infrastructure failure; callers treat it as
//	not-found.
func (a *Adapter) Search(ctx context.Context, q datatypes.Query) (*datatypes.ResolutionCandidate, error) {
	ctx, span := webSearchTracer.Start(ctx, "websearch.Search",
		trace.WithAttributes(attribute.String("query_class", string(q.Class))),
	)
	defer span.End()

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	results, err := a.callSearchService(callCtx, q.Normalized)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			span.SetStatus(codes.Error, "timeout")
			return nil, fmt.Errorf("%w after %v", ErrTimeout, a.timeout)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "search service failed")
		return nil, err
	}

	content, refs := a.normalizeResults(results)
	span.SetAttributes(
		attribute.Int("results", len(results)),
		attribute.Int("content_len", len(content)),
	)
	if len(content) < minContentLength {
		span.SetStatus(codes.Ok, "content too thin")
		return nil, ErrThinContent
	}

	// Summarization runs under the parent context, not the search timeout:
	// the hard timeout bounds the external search call specifically.
	answer, err := a.summarizer.Summarize(ctx, q.Raw, a.boundContent(content))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "summarize failed")
		return nil, fmt.Errorf("summarize web content: %w", err)
	}

	span.SetStatus(codes.Ok, "answer assembled")
	return &datatypes.ResolutionCandidate{
		Solution:   answer,
		Confidence: WebSearchConfidence,
		Source:     datatypes.SourceWebSearch,
		References: refs,
	}, nil
}

// callSearchService performs the external search request.
func (a *Adapter) callSearchService(ctx context.Context, query string) ([]searchResult, error) {
	payload := map[string]interface{}{
		"query":   query,
		"domains": a.allowed,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.serviceURL+"/search", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed searchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	return parsed.Results, nil
}

// normalizeResults filters results to the allow-list and concatenates their
// content. Returns the combined text and the accepted URLs as references.
func (a *Adapter) normalizeResults(results []searchResult) (string, []string) {
	var sb strings.Builder
	var refs []string

	for _, r := range results {
		if r.Content == "" || !a.domainAllowed(r.URL) {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.TrimSpace(r.Content))
		refs = append(refs, r.URL)
	}
	return sb.String(), refs
}

// domainAllowed checks the result host against the allow-list, matching the
// domain or any subdomain.
func (a *Adapter) domainAllowed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range a.allowed {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// boundContent chunks long content and keeps the leading chunks up to the
// summarization budget.
func (a *Adapter) boundContent(content string) string {
	if len(content) <= maxSummarizeChars {
		return content
	}

	chunks, err := a.splitter.SplitText(content)
	if err != nil {
		// Splitter failure is not fatal; hard-truncate instead.
		a.logger.Debug("text splitter failed, truncating content", slog.String("error", err.Error()))
		return content[:maxSummarizeChars]
	}

	var sb strings.Builder
	for _, chunk := range chunks {
		if sb.Len()+len(chunk) > maxSummarizeChars {
			break
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(chunk)
	}
	if sb.Len() == 0 {
		return content[:maxSummarizeChars]
	}
	return sb.String()
}
