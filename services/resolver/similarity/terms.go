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
	"strings"
)

// =============================================================================
// Term Extraction and Relevance Overlap
// =============================================================================

// stopwords are common words that carry no topical signal. Removed before
// computing term overlap.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true,
	"in": true, "on": true, "at": true,
	"to": true, "for": true, "of": true,
	"is": true, "are": true, "was": true,
	"it": true, "be": true, "do": true,
	"what": true, "how": true, "why": true,
	"find": true, "solve": true, "calculate": true,
	"with": true, "and": true, "or": true,
}

// Relevance overlap bars by significant-term count. Short queries must match
// almost everything they say; longer queries get slack for phrasing noise.
const (
	shortQueryOverlapBar = 0.8
	shortQueryTermLimit  = 2
	longQueryOverlapBar  = 0.5
)

// ExtractSignificantTerms tokenizes normalized text into the set of terms
// that carry topical meaning.
//
// Description:
//
//	Splits on whitespace and common delimiters, lowercases, and drops
//	stopwords and single characters. Used both for the query and for a
//	candidate document's problem statement.
//
// Inputs:
//
//	text - Normalized text.
//
// Outputs:
//
//	map[string]bool - Set of unique significant terms.
//
// Thread Safety: Safe for concurrent use (no shared state).
func ExtractSignificantTerms(text string) map[string]bool {
	terms := make(map[string]bool)
	if text == "" {
		return terms
	}

	text = strings.ToLower(text)
	for _, delim := range []string{"_", "-", ".", ",", "?", "!", ":", ";", "(", ")"} {
		text = strings.ReplaceAll(text, delim, " ")
	}

	for _, word := range strings.Fields(text) {
		if len(word) >= 2 && !stopwords[word] {
			terms[word] = true
		}
	}
	return terms
}

// OverlapRatio reports the fraction of query terms present in the document
// terms.
//
// Description:
//
//	The ratio is asymmetric: the denominator is the query's term count,
//	not the union of both sets. A long document mentioning
//	everything scores no better than one mentioning exactly the query's
//	topic.
//
// Inputs:
//
//	queryTerms - Significant terms of the query.
//	docTerms - Significant terms of the candidate's problem statement.
//
// Outputs:
//
//	float64 - Overlap in [0,1]. Zero when the query has no terms.
func OverlapRatio(queryTerms, docTerms map[string]bool) float64 {
	if len(queryTerms) == 0 || len(docTerms) == 0 {
		return 0.0
	}

	matched := 0
	for term := range queryTerms {
		if docTerms[term] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

// PassesRelevanceBar applies the length-dependent overlap requirement.
//
// Description:
//
//	The relevance post-filter exists to reject high-similarity but
//	off-topic matches: stylistically similar problems about a different
//	subject. Queries with at most two significant terms must overlap at
//	0.8; longer queries at 0.5.
//
// Inputs:
//
//	queryTerms - Significant terms of the query.
//	overlap - The computed overlap ratio.
//
// Outputs:
//
//	bool - True when the candidate clears the bar.
func PassesRelevanceBar(queryTerms map[string]bool, overlap float64) bool {
	if len(queryTerms) <= shortQueryTermLimit {
		return overlap >= shortQueryOverlapBar
	}
	return overlap >= longQueryOverlapBar
}
