// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mathesis-ai/mathesis/services/resolver/datatypes"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]datatypes.CacheEntry
	stores  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]datatypes.CacheEntry)}
}

func (f *fakeCache) Lookup(_ context.Context, fingerprint string) (datatypes.CacheEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[fingerprint]
	return e, ok
}

func (f *fakeCache) LookupPattern(string) (datatypes.CacheEntry, bool) {
	return datatypes.CacheEntry{}, false
}

func (f *fakeCache) Store(_ context.Context, key, solution string, confidence float64, source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores++
	f.entries[key] = datatypes.CacheEntry{
		Key:        key,
		Solution:   solution,
		Confidence: confidence,
		Source:     source,
	}
}

func (f *fakeCache) Stats() datatypes.CacheStats { return datatypes.CacheStats{} }

type fakeSimilarity struct {
	candidate *datatypes.ResolutionCandidate
	err       error
	calls     int
}

func (f *fakeSimilarity) Search(context.Context, datatypes.Query) (*datatypes.ResolutionCandidate, error) {
	f.calls++
	return f.candidate, f.err
}

type fakeWebSearch struct {
	candidate *datatypes.ResolutionCandidate
	err       error
	calls     int
}

func (f *fakeWebSearch) Search(context.Context, datatypes.Query) (*datatypes.ResolutionCandidate, error) {
	f.calls++
	return f.candidate, f.err
}

type fakeGenerator struct {
	calls int
}

func (f *fakeGenerator) Solve(context.Context, datatypes.Query) *datatypes.ResolutionCandidate {
	f.calls++
	return &datatypes.ResolutionCandidate{
		Solution:   "generated answer",
		Confidence: 0.70,
		Source:     datatypes.SourceGeneration,
	}
}

type fakeFeedback struct {
	answer string
	found  bool
	err    error
}

func (f *fakeFeedback) LookupImprovedAnswer(context.Context, string) (string, bool, error) {
	return f.answer, f.found, f.err
}

// =============================================================================
// Tests
// =============================================================================

func newTestPipeline(t *testing.T, cache AnswerCache, opts ...PipelineOption) *Pipeline {
	t.Helper()
	p, err := NewPipeline(cache, NewPatternSolver(), &fakeGenerator{}, opts...)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func TestNewPipelineValidation(t *testing.T) {
	if _, err := NewPipeline(nil, NewPatternSolver(), &fakeGenerator{}); err == nil {
		t.Error("expected error for nil cache")
	}
	if _, err := NewPipeline(newFakeCache(), nil, &fakeGenerator{}); err == nil {
		t.Error("expected error for nil pattern solver")
	}
	if _, err := NewPipeline(newFakeCache(), NewPatternSolver(), nil); err == nil {
		t.Error("expected error for nil generation adapter")
	}
}

func TestResolveArithmeticStopsAtPattern(t *testing.T) {
	sim := &fakeSimilarity{}
	web := &fakeWebSearch{}
	p := newTestPipeline(t, newFakeCache(),
		WithSimilarity(sim), WithWebSearch(web))

	result := p.Resolve(context.Background(), Normalize("what is 4+4"))

	if !result.Found {
		t.Fatal("Found = false, want true")
	}
	if result.Source != datatypes.SourcePattern {
		t.Errorf("Source = %q, want %q", result.Source, datatypes.SourcePattern)
	}
	if result.Solution != "4 + 4 = 8" {
		t.Errorf("Solution = %q, want %q", result.Solution, "4 + 4 = 8")
	}
	if sim.calls != 0 || web.calls != 0 {
		t.Errorf("later phases ran: similarity=%d web=%d, want 0", sim.calls, web.calls)
	}
}

func TestResolveCacheWriteBackAndIdempotence(t *testing.T) {
	cache := newFakeCache()
	gen := &fakeGenerator{}
	p, err := NewPipeline(cache, NewPatternSolver(), gen)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	q := Normalize("explain how integration works")

	first := p.Resolve(context.Background(), q)
	if first.Source != datatypes.SourceGeneration {
		t.Fatalf("first Source = %q, want %q", first.Source, datatypes.SourceGeneration)
	}
	if cache.stores != 1 {
		t.Fatalf("stores = %d after first resolve, want 1", cache.stores)
	}

	second := p.Resolve(context.Background(), q)
	if second.Solution != first.Solution {
		t.Errorf("second Solution = %q, want %q", second.Solution, first.Solution)
	}
	if second.Source != first.Source {
		t.Errorf("second Source = %q, want %q", second.Source, first.Source)
	}
	if gen.calls != 1 {
		t.Errorf("generation ran %d times, want 1 (second hit should come from cache)", gen.calls)
	}
	if cache.stores != 1 {
		t.Errorf("stores = %d after second resolve, want 1 (cache hits are not re-stored)", cache.stores)
	}
}

func TestResolveFeedbackOverrideWins(t *testing.T) {
	cache := newFakeCache()
	cache.Store(context.Background(), Normalize("what is 4+4").Fingerprint,
		"stale cached answer", 0.98, datatypes.SourcePattern)
	cache.stores = 0

	p := newTestPipeline(t, cache,
		WithFeedback(&fakeFeedback{answer: "corrected: 4 + 4 = 8 (with a worked example)", found: true}))

	result := p.Resolve(context.Background(), Normalize("what is 4+4"))

	if result.Source != datatypes.SourceFeedback {
		t.Errorf("Source = %q, want %q", result.Source, datatypes.SourceFeedback)
	}
	if result.Confidence != feedbackConfidence {
		t.Errorf("Confidence = %v, want %v", result.Confidence, feedbackConfidence)
	}
	if result.Solution == "stale cached answer" {
		t.Error("cached answer returned despite a human-corrected one")
	}
}

func TestResolveFeedbackErrorFallsThrough(t *testing.T) {
	p := newTestPipeline(t, newFakeCache(),
		WithFeedback(&fakeFeedback{err: context.DeadlineExceeded}))

	result := p.Resolve(context.Background(), Normalize("what is 4+4"))

	if result.Source != datatypes.SourcePattern {
		t.Errorf("Source = %q, want %q after feedback failure", result.Source, datatypes.SourcePattern)
	}
}

func TestResolveBelowThresholdFallsThrough(t *testing.T) {
	sim := &fakeSimilarity{candidate: &datatypes.ResolutionCandidate{
		Solution:   "weak match",
		Confidence: 0.10,
		Source:     datatypes.SourceSimilarity,
	}}
	gen := &fakeGenerator{}
	p, err := NewPipeline(newFakeCache(), NewPatternSolver(), gen, WithSimilarity(sim))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	result := p.Resolve(context.Background(), Normalize("explain how integration works"))

	if sim.calls != 1 {
		t.Errorf("similarity calls = %d, want 1", sim.calls)
	}
	if result.Source != datatypes.SourceGeneration {
		t.Errorf("Source = %q, want %q", result.Source, datatypes.SourceGeneration)
	}
}

func TestResolveSimilarityAccepted(t *testing.T) {
	sim := &fakeSimilarity{candidate: &datatypes.ResolutionCandidate{
		Solution:   "a previously solved problem's answer",
		Confidence: 0.62,
		Source:     datatypes.SourceSimilarity,
		References: []string{"problem-42"},
		Relevance:  0.75,
	}}
	cache := newFakeCache()
	p := newTestPipeline(t, cache, WithSimilarity(sim))

	result := p.Resolve(context.Background(), Normalize("explain how integration works"))

	if result.Source != datatypes.SourceSimilarity {
		t.Fatalf("Source = %q, want %q", result.Source, datatypes.SourceSimilarity)
	}
	if len(result.References) != 1 || result.References[0] != "problem-42" {
		t.Errorf("References = %v, want [problem-42]", result.References)
	}
	if cache.stores != 1 {
		t.Errorf("stores = %d, want 1 (accepted answers are written back)", cache.stores)
	}
}

func TestResolveRelevanceGateRejects(t *testing.T) {
	// High confidence but low term overlap: the router's relevance gate
	// must reject the candidate and fall through to generation.
	sim := &fakeSimilarity{candidate: &datatypes.ResolutionCandidate{
		Solution:   "a confidently worded but off-topic answer",
		Confidence: 0.80,
		Source:     datatypes.SourceSimilarity,
		Relevance:  0.20,
	}}
	p := newTestPipeline(t, newFakeCache(), WithSimilarity(sim))

	result := p.Resolve(context.Background(), Normalize("explain how integration works"))

	if sim.calls != 1 {
		t.Errorf("similarity calls = %d, want 1", sim.calls)
	}
	if result.Source != datatypes.SourceGeneration {
		t.Errorf("Source = %q, want %q after relevance rejection", result.Source, datatypes.SourceGeneration)
	}
}

func TestResolveGuaranteedAnswer(t *testing.T) {
	// No optional phases at all: pattern misses, generation must answer.
	p := newTestPipeline(t, newFakeCache())

	result := p.Resolve(context.Background(), Normalize("why is the sky blue"))

	if !result.Found {
		t.Error("Found = false, want true (generation guarantees an answer)")
	}
	if result.Source != datatypes.SourceGeneration {
		t.Errorf("Source = %q, want %q", result.Source, datatypes.SourceGeneration)
	}
	if result.References == nil {
		t.Error("References is nil, want an empty array")
	}
}

func TestResolveCancelledContext(t *testing.T) {
	p := newTestPipeline(t, newFakeCache())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := p.Resolve(ctx, Normalize("what is 4+4"))

	if result.Found {
		t.Error("Found = true for a cancelled resolution, want false")
	}
	if result.Source != datatypes.SourceFallback {
		t.Errorf("Source = %q, want %q", result.Source, datatypes.SourceFallback)
	}
	if result.Solution == "" {
		t.Error("fallback Solution is empty, want an apology")
	}
}

// blockingSimilarity blocks Search until release is closed, signalling on
// started when the first call begins.
type blockingSimilarity struct {
	startOnce sync.Once
	started   chan struct{}
	release   chan struct{}
	candidate *datatypes.ResolutionCandidate
}

func (s *blockingSimilarity) Search(context.Context, datatypes.Query) (*datatypes.ResolutionCandidate, error) {
	s.startOnce.Do(func() { close(s.started) })
	<-s.release
	return s.candidate, nil
}

func TestResolveCallerCancellationIsolated(t *testing.T) {
	sim := &blockingSimilarity{
		started: make(chan struct{}),
		release: make(chan struct{}),
		candidate: &datatypes.ResolutionCandidate{
			Solution:   "a previously solved problem's answer",
			Confidence: 0.62,
			Source:     datatypes.SourceSimilarity,
			Relevance:  1.0,
		},
	}
	p := newTestPipeline(t, newFakeCache(), WithSimilarity(sim))
	q := Normalize("explain how integration works")

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()

	var r1, r2 datatypes.ResolutionResult
	done1 := make(chan struct{})
	done2 := make(chan struct{})

	go func() {
		r1 = p.Resolve(ctx1, q)
		close(done1)
	}()
	<-sim.started

	go func() {
		r2 = p.Resolve(context.Background(), q)
		close(done2)
	}()
	// Give the second caller time to join the in-flight run before the
	// first caller disconnects.
	time.Sleep(20 * time.Millisecond)

	cancel1()
	<-done1
	close(sim.release)
	<-done2

	if r1.Found || r1.Source != datatypes.SourceFallback {
		t.Errorf("cancelled caller got %+v, want the fallback", r1)
	}
	if !r2.Found {
		t.Fatal("second caller Found = false, want true despite the first caller's cancellation")
	}
	if r2.Source != datatypes.SourceSimilarity {
		t.Errorf("second caller Source = %q, want %q", r2.Source, datatypes.SourceSimilarity)
	}
}

func TestResolvePanicRecovered(t *testing.T) {
	p := newTestPipeline(t, newFakeCache(),
		WithSimilarity(panickySimilarity{}))

	result := p.Resolve(context.Background(), Normalize("explain how integration works"))

	if result.Found {
		t.Error("Found = true after a phase panic, want false")
	}
	if result.Source != datatypes.SourceFallback {
		t.Errorf("Source = %q, want %q", result.Source, datatypes.SourceFallback)
	}
}

type panickySimilarity struct{}

func (panickySimilarity) Search(context.Context, datatypes.Query) (*datatypes.ResolutionCandidate, error) {
	panic("index out of range")
}

func TestResolveResponseTimeSet(t *testing.T) {
	p := newTestPipeline(t, newFakeCache())

	result := p.Resolve(context.Background(), Normalize("what is 4+4"))
	if result.ResponseTime < 0 {
		t.Errorf("ResponseTime = %v, want >= 0", result.ResponseTime)
	}
}
