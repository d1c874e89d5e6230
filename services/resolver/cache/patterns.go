// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"strings"
	"time"

	"github.com/mathesis-ai/mathesis/services/resolver/datatypes"
)

// curatedPattern is one hand-curated exact answer. These are the questions
// asked often enough that we do not want the first asker to pay for a full
// resolution.
type curatedPattern struct {
	// pattern is matched by substring containment on normalized text.
	pattern string

	// solution is returned verbatim.
	solution string
}

// curatedPatterns is checked in declaration order; first match wins.
var curatedPatterns = []curatedPattern{
	{"value of pi", "π ≈ 3.14159. Pi is the ratio of a circle's circumference to its diameter."},
	{"what is pi", "π ≈ 3.14159. Pi is the ratio of a circle's circumference to its diameter."},
	{"value of e", "e ≈ 2.71828. Euler's number is the base of the natural logarithm."},
	{"golden ratio", "The golden ratio: φ = (1 + √5) / 2 ≈ 1.61803."},
	{"order of operations", "Order of operations (PEMDAS): Parentheses, Exponents, Multiplication and Division (left to right), Addition and Subtraction (left to right)."},
	{"speed of light", "The speed of light in vacuum: c = 299,792,458 m/s."},
}

// curatedConfidence applies to every curated entry: trusted, but distinct
// from an exact cache hit of a previously resolved answer.
const curatedConfidence = 0.95

// patternTableCreated timestamps curated entries once at process start.
var patternTableCreated = time.Now()

// matchCuratedPattern returns the curated entry whose pattern the normalized
// text contains, if any.
func matchCuratedPattern(normalized string) (datatypes.CacheEntry, bool) {
	for _, p := range curatedPatterns {
		if strings.Contains(normalized, p.pattern) {
			return datatypes.CacheEntry{
				Key:        p.pattern,
				Solution:   p.solution,
				Confidence: curatedConfidence,
				Source:     datatypes.SourceCache,
				CreatedAt:  patternTableCreated,
			}, true
		}
	}
	return datatypes.CacheEntry{}, false
}
