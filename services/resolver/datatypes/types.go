// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the shared data structures for the resolver
// service: the normalized query value object, candidate answers produced by
// resolution phases, cache entries, and the request/response types of the
// public solve endpoint.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Query Classification
// =============================================================================

// QueryClass categorizes a question for downstream threshold selection.
type QueryClass string

const (
	// ClassArithmetic marks direct binary arithmetic ("4+4", "12 / 3").
	ClassArithmetic QueryClass = "arithmetic"

	// ClassFormula marks requests for a named formula ("quadratic formula").
	ClassFormula QueryClass = "formula"

	// ClassConcept marks conceptual questions about named math/physics topics.
	ClassConcept QueryClass = "concept"

	// ClassGeneral is the catch-all for everything else.
	ClassGeneral QueryClass = "general"
)

// =============================================================================
// Phase Identifiers
// =============================================================================

// Phase source tags. The Source field of a candidate and the final result
// always holds exactly one of these.
const (
	SourceFeedback   = "human-feedback"
	SourceCache      = "cache"
	SourcePattern    = "pattern"
	SourceSimilarity = "similarity-search"
	SourceWebSearch  = "web-search"
	SourceGeneration = "generation"
	SourceFallback   = "fallback"
)

// =============================================================================
// Core Value Objects
// =============================================================================

// Query is the normalized form of an inbound question.
//
// Immutable once constructed: construct via normalize.Normalize, never
// mutate the fields afterwards.
type Query struct {
	// Raw is the original question text as received.
	Raw string

	// Normalized is the trimmed, case-folded, whitespace-collapsed text.
	Normalized string

	// Class is the query classification used for threshold selection.
	Class QueryClass

	// Fingerprint is the deterministic cache key (sha256 hex of Normalized).
	Fingerprint string
}

// ResolutionCandidate is an answer proposed by exactly one resolution phase.
//
// At most one candidate per pipeline run becomes the final result
// (first-accepted-wins).
type ResolutionCandidate struct {
	// Solution is the answer text.
	Solution string

	// Confidence is the producing phase's trust in the answer, in [0,1].
	// Used for gating and display only; not probability-calibrated.
	Confidence float64

	// Source is the phase identifier that produced this candidate.
	Source string

	// References lists supporting sources (document titles, URLs).
	References []string

	// Relevance is the term-overlap score against the query, when the
	// producing phase computed one. Zero when not applicable.
	Relevance float64
}

// CacheEntry is a previously accepted (query, solution) pair.
//
// Entries are upsert-only. UseCount increment is the only mutation after
// creation; entries are never deleted in normal operation.
type CacheEntry struct {
	// Key is the query fingerprint, or the canonical pattern string for
	// hand-curated pattern entries.
	Key string `json:"key"`

	// Solution is the accepted answer text.
	Solution string `json:"solution"`

	// Confidence is the confidence the answer was accepted with.
	Confidence float64 `json:"confidence"`

	// Source is the phase that originally produced the answer.
	Source string `json:"source"`

	// CreatedAt is when the entry was first stored.
	CreatedAt time.Time `json:"created_at"`

	// UseCount is how many times the entry has been served.
	UseCount int64 `json:"use_count"`
}

// PhaseSpec is one entry of the router's ordered phase list.
//
// Static configuration consumed by a single loop; ordering and thresholds
// are data, not scattered conditionals.
type PhaseSpec struct {
	// Name identifies the phase (one of the Source* constants).
	Name string `yaml:"name"`

	// Timeout bounds the phase's external call. Zero means no explicit
	// timeout (the phase inherits the pipeline's soft budget).
	Timeout time.Duration `yaml:"timeout"`

	// MinConfidence is the minimum candidate confidence the router accepts
	// from this phase.
	MinConfidence float64 `yaml:"min_confidence"`

	// RelevanceFilter indicates the phase's candidates must additionally
	// carry a passing relevance score.
	RelevanceFilter bool `yaml:"relevance_filter"`
}

// ResolutionResult is the externally visible output of one pipeline run.
//
// Constructed once by the router and never mutated after return.
type ResolutionResult struct {
	// Found is true when any phase accepted a candidate. The generation
	// phase guarantees this for well-formed queries.
	Found bool `json:"found"`

	// Solution is the final answer text.
	Solution string `json:"solution"`

	// Source is the phase name that produced the answer.
	Source string `json:"source"`

	// Confidence is the accepted candidate's confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// References lists supporting sources.
	References []string `json:"references"`

	// ResponseTime is total elapsed wall-clock time in seconds.
	ResponseTime float64 `json:"response_time"`
}

// =============================================================================
// HTTP Request/Response Types
// =============================================================================

const (
	// MinQueryLength is the minimum accepted query length in characters.
	MinQueryLength = 1

	// MaxQueryLength is the maximum accepted query length in characters.
	// Longer queries are rejected as a validation error before entering
	// the pipeline.
	MaxQueryLength = 1000
)

// solveValidate validates SolveRequest fields beyond gin's binding tags.
var solveValidate = validator.New()

// SolveRequest is the body of POST /v1/resolver/solve.
type SolveRequest struct {
	// Query is the free-form mathematical question.
	Query string `json:"query" binding:"required,min=1,max=1000" validate:"required,min=1,max=1000"`

	// Context carries optional caller-supplied metadata. Opaque to the
	// pipeline; echoed into logs for diagnosis only.
	Context map[string]any `json:"context,omitempty"`
}

// Validate checks the request against its validation tags.
//
// Outputs:
//
//	error - Non-nil if the query is missing or outside 1-1000 characters.
func (r *SolveRequest) Validate() error {
	return solveValidate.Struct(r)
}

// SolveResponse is the body of a successful solve call. It is the JSON shape
// of ResolutionResult.
type SolveResponse = ResolutionResult

// ErrorResponse is the standard error body for client errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// CacheStats reports hit/miss counters for the cache tiers.
type CacheStats struct {
	// HotHits is the number of in-memory tier hits.
	HotHits int64 `json:"hot_hits"`

	// WarmHits is the number of persistent tier hits.
	WarmHits int64 `json:"warm_hits"`

	// PatternHits is the number of canonical pattern table hits.
	PatternHits int64 `json:"pattern_hits"`

	// Misses is the number of lookups that hit no tier.
	Misses int64 `json:"misses"`

	// HotSize is the current number of in-memory entries.
	HotSize int `json:"hot_size"`

	// HitRate is (HotHits+WarmHits+PatternHits) / total lookups.
	HitRate float64 `json:"hit_rate"`
}
