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
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/mathesis-ai/mathesis/services/resolver/datatypes"
)

// =============================================================================
// Query Normalization
// =============================================================================

// arithmeticExpr matches a binary arithmetic expression: two numbers joined
// by a single operator, optionally surrounded by filler like "what is".
var arithmeticExpr = regexp.MustCompile(`(^|\s)-?\d+(\.\d+)?\s*[\+\-\*/\^]\s*-?\d+(\.\d+)?(\s|\?|$)`)

// formulaPhrases are phrasings that request a named formula rather than a
// computation. Checked before concept terms: "quadratic formula" contains
// "quadratic", which is also a concept term.
var formulaPhrases = []string{
	"formula",
	"equation for",
	"area of",
	"volume of",
	"circumference of",
	"perimeter of",
	"theorem",
}

// conceptTerms are named mathematical and physical topics that mark a query
// as conceptual. Membership is tested on the normalized text.
var conceptTerms = []string{
	"derivative",
	"integral",
	"limit",
	"matrix",
	"vector",
	"probability",
	"logarithm",
	"exponent",
	"polynomial",
	"quadratic",
	"trigonometry",
	"sine",
	"cosine",
	"tangent",
	"velocity",
	"acceleration",
	"force",
	"energy",
	"momentum",
	"gravity",
	"prime",
	"factorial",
	"fraction",
	"calculus",
	"geometry",
	"algebra",
}

// whitespaceRun collapses interior whitespace runs during normalization.
var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize converts raw question text into an immutable Query value object.
//
// Description:
//
//	Trims, case-folds, collapses whitespace, and strips trailing
//	punctuation, then classifies the query by ordered membership tests
//	(arithmetic shape, formula phrasing, named concept terms, general
//	fallback) and derives the cache fingerprint as the sha256 of the
//	normalized text. Stripping trailing punctuation keeps "4+4?" and
//	"4+4" on the same fingerprint.
//
//	Pure function: no side effects, deterministic for identical input.
//	Validation of length limits happens upstream; Normalize accepts any
//	non-empty string and returns a zero-fingerprint Query for empty input.
//
// Inputs:
//
//	raw - The question text as received. Should already be length-validated.
//
// Outputs:
//
//	datatypes.Query - The normalized query. Fingerprint is empty only when
//	the normalized text is empty.
func Normalize(raw string) datatypes.Query {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = whitespaceRun.ReplaceAllString(normalized, " ")
	normalized = strings.TrimRight(normalized, "?!. ")

	q := datatypes.Query{
		Raw:        raw,
		Normalized: normalized,
		Class:      classify(normalized),
	}

	if normalized != "" {
		sum := sha256.Sum256([]byte(normalized))
		q.Fingerprint = hex.EncodeToString(sum[:])
	}

	return q
}

// classify assigns the query class by ordered membership tests.
// Order matters: arithmetic shape beats formula phrasing beats concept terms.
func classify(normalized string) datatypes.QueryClass {
	if normalized == "" {
		return datatypes.ClassGeneral
	}

	if arithmeticExpr.MatchString(normalized) {
		return datatypes.ClassArithmetic
	}

	for _, phrase := range formulaPhrases {
		if strings.Contains(normalized, phrase) {
			return datatypes.ClassFormula
		}
	}

	for _, term := range conceptTerms {
		if containsWord(normalized, term) {
			return datatypes.ClassConcept
		}
	}

	return datatypes.ClassGeneral
}

// containsWord reports whether text contains term bounded by non-letters,
// so "sine" does not match inside "business".
func containsWord(text, term string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], term)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(term)
		beforeOK := start == 0 || !isLetter(text[start-1])
		afterOK := end == len(text) || !isLetter(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
		if idx >= len(text) {
			return false
		}
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
