// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver implements the tiered resolution pipeline for free-form
// mathematical questions: progressively more expensive phases tried in a
// fixed cost/trust order, confidence gating at the router level, per-phase
// timeouts, and write-back of accepted answers into the cache.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/mathesis-ai/mathesis/services/resolver/datatypes"
	"github.com/mathesis-ai/mathesis/services/resolver/similarity"
)

// pipelineTracer is the OpenTelemetry tracer for pipeline runs.
var pipelineTracer = otel.Tracer("mathesis.resolver.pipeline")

// =============================================================================
// Phase Names and Defaults
// =============================================================================

// Router phase names, in chain order. The exact-cache and pattern-cache
// phases report the cached entry's original source so repeated resolutions
// stay idempotent in solution and source.
const (
	PhaseFeedback     = "human-feedback"
	PhaseExactCache   = "exact-cache"
	PhasePatternCache = "pattern-cache"
	PhasePattern      = "pattern"
	PhaseSimilarity   = "similarity-search"
	PhaseWebSearch    = "web-search"
	PhaseGeneration   = "generation"
)

// feedbackConfidence applies to human-corrected answers: the most trusted
// source in the system short of an exact computation.
const feedbackConfidence = 0.99

// softBudget is the target end-to-end resolution time. Exceeding it is a
// performance signal, not a failure.
const softBudget = 8 * time.Second

// fallbackApology is the terminal response when resolution is cancelled or
// the router itself fails. Generation's static template covers ordinary
// exhaustion, so users only see this under cancellation or a router bug.
const fallbackApology = "Sorry, something went wrong while resolving your question. Please try again."

// DefaultPhaseSpecs returns the standard chain. Ordering encodes the
// cost/trust ranking: cheapest and most trusted first. Thresholds live here,
// at the router level, so they are auditable in one place.
func DefaultPhaseSpecs() []datatypes.PhaseSpec {
	return []datatypes.PhaseSpec{
		{Name: PhaseFeedback, Timeout: 2 * time.Second, MinConfidence: 0.90},
		{Name: PhaseExactCache, MinConfidence: 0},
		{Name: PhasePatternCache, MinConfidence: 0.90},
		{Name: PhasePattern, MinConfidence: 0.90},
		{Name: PhaseSimilarity, MinConfidence: 0.25, RelevanceFilter: true},
		{Name: PhaseWebSearch, Timeout: 6 * time.Second, MinConfidence: 0.70},
		{Name: PhaseGeneration, MinConfidence: 0.50},
	}
}

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// AnswerCache is the tiered store of accepted answers.
type AnswerCache interface {
	Lookup(ctx context.Context, fingerprint string) (datatypes.CacheEntry, bool)
	LookupPattern(normalized string) (datatypes.CacheEntry, bool)
	Store(ctx context.Context, key, solution string, confidence float64, source string)
	Stats() datatypes.CacheStats
}

// SimilaritySearcher is the vector-similarity phase.
type SimilaritySearcher interface {
	Search(ctx context.Context, q datatypes.Query) (*datatypes.ResolutionCandidate, error)
}

// WebSearcher is the timeout-bounded web-search phase.
type WebSearcher interface {
	Search(ctx context.Context, q datatypes.Query) (*datatypes.ResolutionCandidate, error)
}

// Generator is the guaranteed-success generation phase.
type Generator interface {
	Solve(ctx context.Context, q datatypes.Query) *datatypes.ResolutionCandidate
}

// FeedbackLookup consults the human-feedback store for a corrected answer.
type FeedbackLookup interface {
	LookupImprovedAnswer(ctx context.Context, normalized string) (string, bool, error)
}

// ArithmeticSolver is the deterministic pattern phase.
type ArithmeticSolver interface {
	Solve(q datatypes.Query) *datatypes.ResolutionCandidate
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline is the resolution router. Phases execute strictly sequentially in
// PhaseSpec order; later phases are never invoked once one is accepted.
//
// All adapters are injected at construction; the pipeline holds no global
// state. The only shared mutable resource is the cache, written at most once
// per run.
//
// Thread Safety: Safe for concurrent use. Concurrent resolutions of the same
// fingerprint are collapsed into a single run.
type Pipeline struct {
	specs      []datatypes.PhaseSpec
	cache      AnswerCache
	pattern    ArithmeticSolver
	similarity SimilaritySearcher
	webSearch  WebSearcher
	generation Generator
	feedback   FeedbackLookup
	logger     *slog.Logger
	group      singleflight.Group
}

// PipelineOption configures optional pipeline collaborators.
type PipelineOption func(*Pipeline)

// WithFeedback enables the human-feedback override phase.
func WithFeedback(f FeedbackLookup) PipelineOption {
	return func(p *Pipeline) { p.feedback = f }
}

// WithSimilarity enables the similarity-search phase.
func WithSimilarity(s SimilaritySearcher) PipelineOption {
	return func(p *Pipeline) { p.similarity = s }
}

// WithWebSearch enables the web-search phase.
func WithWebSearch(w WebSearcher) PipelineOption {
	return func(p *Pipeline) { p.webSearch = w }
}

// WithPhaseSpecs overrides the default phase chain. Intended for config-file
// driven threshold tuning; the chain order should not normally change.
func WithPhaseSpecs(specs []datatypes.PhaseSpec) PipelineOption {
	return func(p *Pipeline) { p.specs = specs }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// NewPipeline constructs the router.
//
// Description:
//
//	cache, pattern, and generation are mandatory: the cache for
//	idempotence, the pattern solver because it is free, and generation
//	because it guarantees termination with an answer. The network-backed
//	phases are optional; a missing adapter's phase reports not-found.
//
// Inputs:
//
//	cache - The tiered answer cache.
//	pattern - The deterministic pattern solver.
//	generation - The guaranteed-success generation adapter.
//	opts - Optional collaborators and overrides.
//
// Outputs:
//
//	*Pipeline - Ready-to-use pipeline.
//	error - Non-nil when a mandatory collaborator is missing.
func NewPipeline(cache AnswerCache, pattern ArithmeticSolver, generation Generator, opts ...PipelineOption) (*Pipeline, error) {
	if cache == nil {
		return nil, fmt.Errorf("cache must not be nil")
	}
	if pattern == nil {
		return nil, fmt.Errorf("pattern solver must not be nil")
	}
	if generation == nil {
		return nil, fmt.Errorf("generation adapter must not be nil")
	}

	p := &Pipeline{
		specs:      DefaultPhaseSpecs(),
		cache:      cache,
		pattern:    pattern,
		generation: generation,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "resolver_pipeline"))
	return p, nil
}

// Resolve runs the phase chain for one query.
//
// Description:
//
//	Traverses the PhaseSpec list strictly in order. A phase either
//	produces a candidate whose confidence clears the phase's minimum
//	(accepted, terminal) or the router advances to the next phase. On
//	acceptance from a non-cache phase the answer is written to the cache
//	exactly once.
//
//	Concurrent calls with the same fingerprint share a single run. The
//	shared run executes on a context detached from every caller, so one
//	caller's cancellation yields the fallback for that caller only while
//	the run completes for the rest. Panics anywhere in the chain are
//	recovered into the fallback.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	q - The normalized query.
//
// Outputs:
//
//	datatypes.ResolutionResult - Always a usable result; never an error.
//
// Thread Safety: Safe for concurrent use.
func (p *Pipeline) Resolve(ctx context.Context, q datatypes.Query) datatypes.ResolutionResult {
	start := time.Now()

	if ctx.Err() != nil {
		return p.fallbackResult(start)
	}

	// The shared flight runs detached from every caller's cancellation so
	// that one caller disconnecting cannot turn into a fallback for the
	// callers still waiting on the same fingerprint.
	flightCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(q.Fingerprint, func() (interface{}, error) {
		return p.resolveOnce(flightCtx, q), nil
	})

	select {
	case <-ctx.Done():
		return p.fallbackResult(start)
	case res := <-ch:
		result := res.Val.(datatypes.ResolutionResult)
		// Each caller reports its own wall-clock time, including any wait
		// on a shared in-flight run.
		result.ResponseTime = time.Since(start).Seconds()
		return result
	}
}

// CacheStats exposes cache counters for the debug endpoint.
func (p *Pipeline) CacheStats() datatypes.CacheStats {
	return p.cache.Stats()
}

// resolveOnce executes the chain for a single run.
func (p *Pipeline) resolveOnce(ctx context.Context, q datatypes.Query) (result datatypes.ResolutionResult) {
	start := time.Now()

	ctx, span := pipelineTracer.Start(ctx, "pipeline.Resolve",
		trace.WithAttributes(
			attribute.String("query_class", string(q.Class)),
			attribute.String("fingerprint", truncateFingerprint(q.Fingerprint)),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline panic recovered",
				slog.Any("panic", r),
				slog.String("fingerprint", truncateFingerprint(q.Fingerprint)))
			span.SetStatus(codes.Error, "panic")
			result = p.fallbackResult(start)
		}
	}()

	for _, spec := range p.specs {
		if ctx.Err() != nil {
			p.logger.Warn("resolution cancelled, returning fallback",
				slog.String("phase", spec.Name),
				slog.Duration("elapsed", time.Since(start)))
			span.SetStatus(codes.Error, "cancelled")
			return p.fallbackResult(start)
		}

		phaseStart := time.Now()
		candidate := p.runPhase(ctx, spec, q)
		phaseElapsed := time.Since(phaseStart)

		if candidate == nil {
			p.logPhase(spec.Name, "not_found", phaseElapsed, 0)
			continue
		}
		if candidate.Confidence < spec.MinConfidence {
			p.logPhase(spec.Name, "below_threshold", phaseElapsed, candidate.Confidence)
			continue
		}
		if spec.RelevanceFilter && !passesRelevanceGate(q, candidate) {
			p.logPhase(spec.Name, "irrelevant", phaseElapsed, candidate.Confidence)
			continue
		}

		p.logPhase(spec.Name, "accepted", phaseElapsed, candidate.Confidence)
		recordPhaseAccept(spec.Name, candidate.Confidence)

		if !isCachePhase(spec.Name) {
			p.cache.Store(ctx, q.Fingerprint, candidate.Solution, candidate.Confidence, candidate.Source)
			recordCacheWrite(spec.Name)
		}

		elapsed := time.Since(start)
		if elapsed > softBudget {
			p.logger.Warn("resolution exceeded soft budget",
				slog.Duration("elapsed", elapsed),
				slog.String("phase", spec.Name))
		}
		span.SetAttributes(
			attribute.String("accepted_phase", spec.Name),
			attribute.Float64("confidence", candidate.Confidence),
		)
		span.SetStatus(codes.Ok, "accepted")

		return datatypes.ResolutionResult{
			Found:        true,
			Solution:     candidate.Solution,
			Source:       candidate.Source,
			Confidence:   candidate.Confidence,
			References:   nonNilRefs(candidate.References),
			ResponseTime: elapsed.Seconds(),
		}
	}

	// Unreachable with the default chain: generation always produces a
	// candidate above its threshold. Kept for custom chains.
	span.SetStatus(codes.Error, "exhausted")
	return p.fallbackResult(start)
}

// runPhase dispatches one PhaseSpec entry, applying its timeout when set.
// All adapter errors degrade to not-found here; the pipeline's resilience
// strategy is phase substitution, not retry.
func (p *Pipeline) runPhase(ctx context.Context, spec datatypes.PhaseSpec, q datatypes.Query) *datatypes.ResolutionCandidate {
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	switch spec.Name {
	case PhaseFeedback:
		if p.feedback == nil {
			return nil
		}
		answer, found, err := p.feedback.LookupImprovedAnswer(ctx, q.Normalized)
		if err != nil {
			p.logger.Debug("feedback lookup failed", slog.String("error", err.Error()))
			return nil
		}
		if !found {
			return nil
		}
		return &datatypes.ResolutionCandidate{
			Solution:   answer,
			Confidence: feedbackConfidence,
			Source:     datatypes.SourceFeedback,
		}

	case PhaseExactCache:
		entry, ok := p.cache.Lookup(ctx, q.Fingerprint)
		if !ok {
			return nil
		}
		return candidateFromEntry(entry)

	case PhasePatternCache:
		entry, ok := p.cache.LookupPattern(q.Normalized)
		if !ok {
			return nil
		}
		return candidateFromEntry(entry)

	case PhasePattern:
		return p.pattern.Solve(q)

	case PhaseSimilarity:
		if p.similarity == nil {
			return nil
		}
		candidate, err := p.similarity.Search(ctx, q)
		if err != nil {
			p.logger.Debug("similarity search failed", slog.String("error", err.Error()))
			return nil
		}
		return candidate

	case PhaseWebSearch:
		if p.webSearch == nil {
			return nil
		}
		candidate, err := p.webSearch.Search(ctx, q)
		if err != nil {
			p.logger.Debug("web search failed", slog.String("error", err.Error()))
			return nil
		}
		return candidate

	case PhaseGeneration:
		return p.generation.Solve(ctx, q)

	default:
		p.logger.Warn("unknown phase in spec, skipping", slog.String("phase", spec.Name))
		return nil
	}
}

// fallbackResult is the terminal apology for cancelled or failed runs.
func (p *Pipeline) fallbackResult(start time.Time) datatypes.ResolutionResult {
	recordFallback()
	return datatypes.ResolutionResult{
		Found:        false,
		Solution:     fallbackApology,
		Source:       datatypes.SourceFallback,
		Confidence:   0,
		References:   []string{},
		ResponseTime: time.Since(start).Seconds(),
	}
}

// logPhase records one phase transition for observability.
func (p *Pipeline) logPhase(phase, decision string, elapsed time.Duration, confidence float64) {
	recordPhaseDecision(phase, decision, elapsed)
	p.logger.Info("phase transition",
		slog.String("phase", phase),
		slog.String("decision", decision),
		slog.Duration("elapsed", elapsed),
		slog.Float64("confidence", confidence))
}

// candidateFromEntry converts a cache hit into a candidate carrying the
// entry's original source, preserving solution/source idempotence across
// repeated resolutions.
func candidateFromEntry(entry datatypes.CacheEntry) *datatypes.ResolutionCandidate {
	return &datatypes.ResolutionCandidate{
		Solution:   entry.Solution,
		Confidence: entry.Confidence,
		Source:     entry.Source,
	}
}

// passesRelevanceGate applies the term-overlap bar to a candidate from a
// phase whose PhaseSpec enables the relevance filter. The similarity adapter
// filters internally as well; the router gate makes the bar hold for any
// injected searcher, keeping the acceptance rules auditable in one place.
func passesRelevanceGate(q datatypes.Query, c *datatypes.ResolutionCandidate) bool {
	queryTerms := similarity.ExtractSignificantTerms(q.Normalized)
	return similarity.PassesRelevanceBar(queryTerms, c.Relevance)
}

// isCachePhase reports whether the phase reads from the cache; accepted
// results from these phases are not written back.
func isCachePhase(name string) bool {
	return name == PhaseExactCache || name == PhasePatternCache
}

// nonNilRefs keeps the JSON references field an array, never null.
func nonNilRefs(refs []string) []string {
	if refs == nil {
		return []string{}
	}
	return refs
}

// truncateFingerprint shortens fingerprints for logs and spans.
func truncateFingerprint(fp string) string {
	if len(fp) <= 12 {
		return fp
	}
	return fp[:12]
}
