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
	"testing"

	"github.com/mathesis-ai/mathesis/services/resolver/datatypes"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name           string
		raw            string
		wantNormalized string
		wantClass      datatypes.QueryClass
	}{
		{
			name:           "trims and lowercases",
			raw:            "  What IS 4+4?  ",
			wantNormalized: "what is 4+4",
			wantClass:      datatypes.ClassArithmetic,
		},
		{
			name:           "strips trailing punctuation",
			raw:            "what is the quadratic formula?!",
			wantNormalized: "what is the quadratic formula",
			wantClass:      datatypes.ClassFormula,
		},
		{
			name:           "collapses interior whitespace",
			raw:            "area   of\ta   circle",
			wantNormalized: "area of a circle",
			wantClass:      datatypes.ClassFormula,
		},
		{
			name:           "concept term",
			raw:            "what is a derivative",
			wantNormalized: "what is a derivative",
			wantClass:      datatypes.ClassConcept,
		},
		{
			name:           "concept term requires word boundary",
			raw:            "cosine business rules",
			wantNormalized: "cosine business rules",
			wantClass:      datatypes.ClassConcept,
		},
		{
			name:           "no embedded concept match",
			raw:            "business rules",
			wantNormalized: "business rules",
			wantClass:      datatypes.ClassGeneral,
		},
		{
			name:           "formula phrasing beats concept term",
			raw:            "the quadratic formula",
			wantNormalized: "the quadratic formula",
			wantClass:      datatypes.ClassFormula,
		},
		{
			name:           "arithmetic beats formula phrasing",
			raw:            "area of 3+4",
			wantNormalized: "area of 3+4",
			wantClass:      datatypes.ClassArithmetic,
		},
		{
			name:           "general fallback",
			raw:            "tell me something interesting",
			wantNormalized: "tell me something interesting",
			wantClass:      datatypes.ClassGeneral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Normalize(tt.raw)
			if q.Normalized != tt.wantNormalized {
				t.Errorf("Normalized = %q, want %q", q.Normalized, tt.wantNormalized)
			}
			if q.Class != tt.wantClass {
				t.Errorf("Class = %q, want %q", q.Class, tt.wantClass)
			}
			if q.Raw != tt.raw {
				t.Errorf("Raw = %q, want %q", q.Raw, tt.raw)
			}
			if q.Fingerprint == "" {
				t.Error("Fingerprint is empty for non-empty query")
			}
		})
	}
}

func TestNormalizeFingerprintStability(t *testing.T) {
	a := Normalize("What is 4+4?")
	b := Normalize("  what   is 4+4?  ")
	if a.Fingerprint != b.Fingerprint {
		t.Errorf("Fingerprints differ for equivalent queries: %s vs %s",
			a.Fingerprint, b.Fingerprint)
	}

	c := Normalize("what is 4+5?")
	if a.Fingerprint == c.Fingerprint {
		t.Error("Fingerprints collide for different queries")
	}

	// Trailing punctuation must not split the exact cache.
	d := Normalize("what is 4+4")
	if a.Fingerprint != d.Fingerprint {
		t.Errorf("Fingerprints differ with and without trailing punctuation: %s vs %s",
			a.Fingerprint, d.Fingerprint)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	if q := Normalize("??"); q.Normalized != "" || q.Fingerprint != "" {
		t.Errorf("punctuation-only input: Normalized = %q, Fingerprint = %q, want both empty",
			q.Normalized, q.Fingerprint)
	}

	q := Normalize("   ")
	if q.Normalized != "" {
		t.Errorf("Normalized = %q, want empty", q.Normalized)
	}
	if q.Fingerprint != "" {
		t.Errorf("Fingerprint = %q, want empty", q.Fingerprint)
	}
	if q.Class != datatypes.ClassGeneral {
		t.Errorf("Class = %q, want general", q.Class)
	}
}
