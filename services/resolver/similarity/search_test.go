// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package similarity

import (
	"context"
	"errors"
	"testing"

	"github.com/weaviate/weaviate/entities/models"

	"github.com/mathesis-ai/mathesis/services/resolver/datatypes"
)

// newSearchTestAdapter builds an adapter whose nearest-neighbor lookups are
// served from a fixed document list instead of Weaviate.
func newSearchTestAdapter(docs []Document, err error) *Adapter {
	a := NewAdapter(nil, nil)
	a.nearest = func(context.Context, string, int) ([]Document, error) {
		return docs, err
	}
	return a
}

func TestSearchRejectsHighCertaintyOffTopic(t *testing.T) {
	// The off-topic document has the highest certainty but shares no
	// significant terms with the query; the on-topic one must win.
	docs := []Document{
		{
			Question:  "derivative of the sine function",
			Solution:  "use the chain rule",
			Certainty: 0.92,
		},
		{
			Question:  "find the area of a circle with radius 12",
			Solution:  "A = πr² = 144π",
			Reference: "geometry-12",
			Certainty: 0.55,
		},
	}
	a := newSearchTestAdapter(docs, nil)
	q := datatypes.Query{Normalized: "area of a circle radius 12", Class: datatypes.ClassFormula}

	got, err := a.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got == nil {
		t.Fatal("Search = nil, want the on-topic candidate")
	}
	if got.Solution != "A = πr² = 144π" {
		t.Errorf("Solution = %q, want the on-topic document's solution", got.Solution)
	}
	if got.Confidence != 0.55 {
		t.Errorf("Confidence = %v, want the on-topic certainty 0.55", got.Confidence)
	}
	if got.Relevance < longQueryOverlapBar {
		t.Errorf("Relevance = %v, want >= %v", got.Relevance, longQueryOverlapBar)
	}
	if len(got.References) != 1 || got.References[0] != "geometry-12" {
		t.Errorf("References = %v, want [geometry-12]", got.References)
	}
}

func TestSearchNoCandidateClearsGates(t *testing.T) {
	docs := []Document{
		{
			Question:  "derivative of the sine function",
			Solution:  "use the chain rule",
			Certainty: 0.92,
		},
	}
	a := newSearchTestAdapter(docs, nil)
	q := datatypes.Query{Normalized: "area of a circle radius 12", Class: datatypes.ClassFormula}

	got, err := a.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got != nil {
		t.Errorf("Search = %+v, want nil when no document clears both gates", got)
	}
}

func TestSearchBelowCertaintyThreshold(t *testing.T) {
	docs := []Document{
		{
			Question:  "how do percentages work in everyday life",
			Solution:  "a percentage is a ratio out of one hundred",
			Certainty: 0.10,
		},
	}
	a := newSearchTestAdapter(docs, nil)
	q := datatypes.Query{Normalized: "how do percentages work", Class: datatypes.ClassGeneral}

	got, err := a.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got != nil {
		t.Errorf("Search = %+v, want nil below the certainty threshold", got)
	}
}

func TestSearchErrorPropagates(t *testing.T) {
	wantErr := errors.New("weaviate unreachable")
	a := newSearchTestAdapter(nil, wantErr)
	q := datatypes.Query{Normalized: "area of a circle", Class: datatypes.ClassFormula}

	if _, err := a.Search(context.Background(), q); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestThresholdFor(t *testing.T) {
	a := NewAdapter(nil, nil)

	tests := []struct {
		name  string
		query datatypes.Query
		want  float64
	}{
		{
			name:  "arithmetic shape is strictest",
			query: datatypes.Query{Normalized: "what is 4+4", Class: datatypes.ClassArithmetic},
			want:  thresholdArithmetic,
		},
		{
			name:  "technical term",
			query: datatypes.Query{Normalized: "derivative of x squared", Class: datatypes.ClassConcept},
			want:  thresholdTechnical,
		},
		{
			name:  "broad subject",
			query: datatypes.Query{Normalized: "teach me algebra", Class: datatypes.ClassConcept},
			want:  thresholdBroad,
		},
		{
			name:  "technical beats broad",
			query: datatypes.Query{Normalized: "matrix algebra", Class: datatypes.ClassConcept},
			want:  thresholdTechnical,
		},
		{
			name:  "default concept threshold",
			query: datatypes.Query{Normalized: "how do percentages work", Class: datatypes.ClassGeneral},
			want:  thresholdConcept,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.thresholdFor(tt.query); got != tt.want {
				t.Errorf("thresholdFor = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpandQuery(t *testing.T) {
	q := datatypes.Query{Normalized: "pythagorean theorem", Class: datatypes.ClassFormula}
	variants := expandQuery(q)

	if len(variants) > maxVariants {
		t.Fatalf("variants = %d, want <= %d", len(variants), maxVariants)
	}
	if variants[0] != "pythagorean theorem" {
		t.Errorf("variants[0] = %q, want the query itself first", variants[0])
	}
	for _, v := range variants[1:] {
		if v == variants[0] {
			t.Errorf("duplicate variant %q", v)
		}
	}
}

func TestExpandQuerySkipsContainedKeyword(t *testing.T) {
	q := datatypes.Query{Normalized: "quadratic formula", Class: datatypes.ClassFormula}
	for _, v := range expandQuery(q) {
		if v == "quadratic formula formula" {
			t.Errorf("expansion appended a keyword already present: %q", v)
		}
	}
}

func TestExpandQueryUnknownClass(t *testing.T) {
	q := datatypes.Query{Normalized: "what is 4+4", Class: datatypes.ClassArithmetic}
	variants := expandQuery(q)
	if len(variants) != 1 {
		t.Errorf("variants = %v, want only the query for a class with no keywords", variants)
	}
}

func TestParseDocuments(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"MathProblem": []interface{}{
					map[string]interface{}{
						"question":  "what is the area of a circle",
						"solution":  "A = πr²",
						"topic":     "geometry",
						"reference": "problem-7",
						"_additional": map[string]interface{}{
							"certainty": 0.91,
						},
					},
					map[string]interface{}{
						// Missing solution: skipped.
						"question": "incomplete document",
					},
					"not an object at all",
				},
			},
		},
	}

	docs := parseDocuments(resp, "MathProblem")
	if len(docs) != 1 {
		t.Fatalf("docs = %d, want 1 (malformed entries skipped)", len(docs))
	}
	if docs[0].Solution != "A = πr²" {
		t.Errorf("Solution = %q, want the parsed field", docs[0].Solution)
	}
	if docs[0].Certainty != 0.91 {
		t.Errorf("Certainty = %v, want 0.91", docs[0].Certainty)
	}
	if docs[0].Reference != "problem-7" {
		t.Errorf("Reference = %q, want problem-7", docs[0].Reference)
	}
}

func TestParseDocumentsEmptyResponse(t *testing.T) {
	if docs := parseDocuments(&models.GraphQLResponse{Data: map[string]models.JSONObject{}}, "MathProblem"); docs != nil {
		t.Errorf("docs = %v, want nil for an empty response", docs)
	}
}
