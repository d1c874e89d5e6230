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
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mathesis-ai/mathesis/services/resolver/datatypes"
)

// similarityTracer is the OpenTelemetry tracer for similarity searches.
var similarityTracer = otel.Tracer("mathesis.resolver.similarity")

// =============================================================================
// Thresholds and Expansion
// =============================================================================

// Adaptive similarity thresholds by query shape. Arithmetic-shaped queries
// reaching this phase should almost always have resolved earlier, so they
// are held to a much stricter bar.
const (
	thresholdTechnical  = 0.35
	thresholdBroad      = 0.25
	thresholdConcept    = 0.30
	thresholdArithmetic = 0.60
)

// topK is how many neighbors each variant requests.
const topK = 5

// maxVariants caps query expansion.
const maxVariants = 4

// technicalTerms mark a query as specifically scoped; such queries get the
// stricter threshold because a vague match is more likely off-topic.
var technicalTerms = []string{
	"derivative", "integral", "eigenvalue", "logarithm", "polynomial",
	"theorem", "matrix", "vector", "limit", "factorial", "momentum",
	"acceleration",
}

// broadSubjects mark whole-field questions where looser matching is fine.
var broadSubjects = []string{
	"math", "mathematics", "physics", "algebra", "geometry", "calculus",
	"statistics", "trigonometry",
}

// expansionKeywords are appended to variants by query class to pull in
// documents indexed under adjacent phrasings.
var expansionKeywords = map[datatypes.QueryClass][]string{
	datatypes.ClassConcept: {"definition", "explanation", "example"},
	datatypes.ClassFormula: {"formula", "equation", "derivation"},
	datatypes.ClassGeneral: {"problem", "solution", "step by step"},
}

// =============================================================================
// Adapter
// =============================================================================

// Document is one indexed math problem returned by Weaviate.
type Document struct {
	Question  string
	Solution  string
	Topic     string
	Reference string
	Certainty float64
}

// nearestFunc fetches the top-k nearest documents for one query variant.
type nearestFunc func(ctx context.Context, variant string, k int) ([]Document, error)

// Adapter is the similarity-search resolution phase.
//
// Thread Safety: Safe for concurrent use.
type Adapter struct {
	client  *Client
	logger  *slog.Logger
	nearest nearestFunc
}

// NewAdapter creates the adapter over a connected client.
func NewAdapter(client *Client, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		client: client,
		logger: logger.With(slog.String("component", "similarity_adapter")),
	}
	a.nearest = a.weaviateNearest
	return a
}

// Search finds the best indexed problem relevant to the query.
//
// Description:
//
//	Expands the query into up to four class-keyed variants, requests top-k
//	neighbors for each, applies the adaptive similarity threshold and the
//	term-overlap relevance post-filter, and keeps the single best-scoring
//	candidate that clears both gates.
//
//	The relevance post-filter rejects matches whose vectors are close but
//	whose terms do not overlap the query, such as stylistically similar
//	but substantively different problems.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	q - The normalized query.
//
// Outputs:
//
//	*datatypes.ResolutionCandidate - Best candidate, or nil when no
//	candidate clears both gates.
//	error - Non-nil only for infrastructure failure; callers treat it as
//	not-found.
func (a *Adapter) Search(ctx context.Context, q datatypes.Query) (*datatypes.ResolutionCandidate, error) {
	ctx, span := similarityTracer.Start(ctx, "similarity.Search",
		trace.WithAttributes(
			attribute.String("query_class", string(q.Class)),
		),
	)
	defer span.End()

	threshold := a.thresholdFor(q)
	queryTerms := ExtractSignificantTerms(q.Normalized)
	variants := expandQuery(q)
	span.SetAttributes(
		attribute.Float64("threshold", threshold),
		attribute.Int("variants", len(variants)),
	)

	var best *datatypes.ResolutionCandidate
	for _, variant := range variants {
		docs, err := a.nearest(ctx, variant, topK)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "search failed")
			return nil, err
		}

		for _, doc := range docs {
			if doc.Certainty < threshold {
				continue
			}

			docTerms := ExtractSignificantTerms(doc.Question)
			overlap := OverlapRatio(queryTerms, docTerms)
			if !PassesRelevanceBar(queryTerms, overlap) {
				a.logger.Debug("similarity candidate rejected by relevance filter",
					slog.Float64("certainty", doc.Certainty),
					slog.Float64("overlap", overlap))
				continue
			}

			if best == nil || doc.Certainty > best.Confidence {
				refs := []string{}
				if doc.Reference != "" {
					refs = append(refs, doc.Reference)
				}
				best = &datatypes.ResolutionCandidate{
					Solution:   doc.Solution,
					Confidence: doc.Certainty,
					Source:     datatypes.SourceSimilarity,
					References: refs,
					Relevance:  overlap,
				}
			}
		}
	}

	if best == nil {
		span.SetStatus(codes.Ok, "no candidate cleared gates")
		return nil, nil
	}

	span.SetAttributes(attribute.Float64("best_certainty", best.Confidence))
	span.SetStatus(codes.Ok, "candidate accepted")
	return best, nil
}

// Ready reports backend availability for readiness checks.
func (a *Adapter) Ready(ctx context.Context) bool {
	return a.client.Ready(ctx)
}

// thresholdFor picks the adaptive similarity threshold for the query.
func (a *Adapter) thresholdFor(q datatypes.Query) float64 {
	if q.Class == datatypes.ClassArithmetic {
		return thresholdArithmetic
	}
	for _, term := range technicalTerms {
		if strings.Contains(q.Normalized, term) {
			return thresholdTechnical
		}
	}
	for _, subject := range broadSubjects {
		if strings.Contains(q.Normalized, subject) {
			return thresholdBroad
		}
	}
	return thresholdConcept
}

// expandQuery builds the variant list: the query itself plus up to three
// keyword-augmented variants for its class.
func expandQuery(q datatypes.Query) []string {
	variants := []string{q.Normalized}
	for _, kw := range expansionKeywords[q.Class] {
		if len(variants) >= maxVariants {
			break
		}
		if strings.Contains(q.Normalized, kw) {
			continue
		}
		variants = append(variants, q.Normalized+" "+kw)
	}
	return variants
}

// weaviateNearest requests the top-k nearest documents for one variant.
func (a *Adapter) weaviateNearest(ctx context.Context, variant string, k int) ([]Document, error) {
	nearText := a.client.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{variant})

	fields := []graphql.Field{
		{Name: "question"},
		{Name: "solution"},
		{Name: "topic"},
		{Name: "reference"},
		{Name: "_additional { certainty }"},
	}

	var result *models.GraphQLResponse
	err := a.client.execute(ctx, func() error {
		var qerr error
		result, qerr = a.client.client.GraphQL().Get().
			WithClassName(a.client.className).
			WithFields(fields...).
			WithNearText(nearText).
			WithLimit(k).
			Do(ctx)
		return qerr
	})
	if err != nil {
		return nil, err
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("similarity search error: %s", result.Errors[0].Message)
	}

	return parseDocuments(result, a.client.className), nil
}

// parseDocuments extracts documents from a GraphQL response. Malformed
// objects are skipped.
func parseDocuments(result *models.GraphQLResponse, className string) []Document {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[className].([]interface{})
	if !ok {
		return nil
	}

	docs := make([]Document, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}

		doc := Document{
			Question:  getString(m, "question"),
			Solution:  getString(m, "solution"),
			Topic:     getString(m, "topic"),
			Reference: getString(m, "reference"),
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				doc.Certainty = certainty
			}
		}
		if doc.Solution == "" {
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

// getString safely extracts a string field from a decoded GraphQL object.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
