// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generation wraps the large-language-model service as the
// guaranteed-success resolution phase, and exposes the summarization
// capability the web-search phase reuses to rewrite raw page content.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mathesis-ai/mathesis/services/resolver/datatypes"
)

// generationTracer is the OpenTelemetry tracer for generation calls.
var generationTracer = otel.Tracer("mathesis.resolver.generation")

// Confidence levels. Generated answers are unverified, so they sit below
// every retrieval-based phase; the static template is the floor.
const (
	// GeneratedConfidence applies to live model output.
	GeneratedConfidence = 0.70

	// TemplateConfidence applies to the static fallback template.
	TemplateConfidence = 0.55
)

// solveSystemPrompt structures the model's answers: restatement, numbered
// steps, marked final answer.
const solveSystemPrompt = `You are a careful mathematics tutor. For every question:
1. Restate the problem in one sentence.
2. Solve it in clearly numbered steps.
3. End with a line starting with "Final answer:".
Keep notation plain and define any symbol you introduce.`

// summarizeSystemPrompt rewrites retrieved web content into the same shape.
const summarizeSystemPrompt = `You rewrite reference material into a step-by-step
answer to a specific question. Use only the provided material. Structure the
answer as a restatement, numbered steps, and a line starting with
"Final answer:". If the material does not answer the question, say so.`

// Config configures the generation client.
type Config struct {
	// APIKey authenticates against the generation service. Falls back to
	// the OPENAI_API_KEY environment variable.
	APIKey string

	// BaseURL points at an OpenAI-compatible endpoint. Empty means the
	// public API.
	BaseURL string

	// Model is the model identifier. Default: "gpt-4o-mini".
	Model string

	// Logger for client operations. Default: slog.Default().
	Logger *slog.Logger
}

// Adapter invokes the generation service. Solve always produces an answer:
// when the service fails, a static template takes its place at the lowest
// confidence, so the pipeline returns a structured answer rather than an
// error.
//
// Thread Safety: Safe for concurrent use.
type Adapter struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewAdapter creates the generation adapter.
//
// Description:
//
//	Construction never fails. Without an API key the adapter runs in
//	template-only mode, so the pipeline's terminal phase stays available
//	even on a machine with no model backend configured.
//
// Inputs:
//
//	cfg - Client configuration. The API key may come from the environment.
//
// Outputs:
//
//	*Adapter - Ready-to-use adapter.
func NewAdapter(cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "generation_adapter"))

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		logger.Warn("generation API key not configured, running in template-only mode")
		return &Adapter{model: model, logger: logger}
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Adapter{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: logger,
	}
}

// Solve generates a structured answer for the query.
//
// Description:
//
//	Invokes the model with the structured solver prompt. On any provider
//	failure (quota, network, empty response) the static generic template
//	is returned at TemplateConfidence instead. Solve never returns an
//	error and never returns nil.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	q - The normalized query.
//
// Outputs:
//
//	*datatypes.ResolutionCandidate - Always non-nil.
func (a *Adapter) Solve(ctx context.Context, q datatypes.Query) *datatypes.ResolutionCandidate {
	ctx, span := generationTracer.Start(ctx, "generation.Solve",
		trace.WithAttributes(attribute.String("model", a.model)),
	)
	defer span.End()

	text, err := a.chat(ctx, solveSystemPrompt, q.Raw)
	if err != nil {
		a.logger.Warn("generation service failed, using static template",
			slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "fell back to template")
		return &datatypes.ResolutionCandidate{
			Solution:   templateAnswer(q),
			Confidence: TemplateConfidence,
			Source:     datatypes.SourceGeneration,
		}
	}

	span.SetStatus(codes.Ok, "generated")
	return &datatypes.ResolutionCandidate{
		Solution:   text,
		Confidence: GeneratedConfidence,
		Source:     datatypes.SourceGeneration,
	}
}

// Summarize rewrites raw reference content into a structured answer to the
// query. Used by the web-search phase; unlike Solve, failures propagate so
// the caller can report not-found.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	query - The original question text.
//	content - Raw retrieved content.
//
// Outputs:
//
//	string - The rewritten answer.
//	error - Non-nil if the service fails.
func (a *Adapter) Summarize(ctx context.Context, query, content string) (string, error) {
	ctx, span := generationTracer.Start(ctx, "generation.Summarize",
		trace.WithAttributes(
			attribute.String("model", a.model),
			attribute.Int("content_len", len(content)),
		),
	)
	defer span.End()

	prompt := fmt.Sprintf("Question: %s\n\nReference material:\n%s", query, content)
	text, err := a.chat(ctx, summarizeSystemPrompt, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "summarize failed")
		return "", err
	}
	span.SetStatus(codes.Ok, "summarized")
	return text, nil
}

// chat performs one chat completion and returns the assistant text.
func (a *Adapter) chat(ctx context.Context, system, user string) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("generation backend not configured")
	}
	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.2,
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generation API call failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("generation returned no content")
	}
	return resp.Choices[0].Message.Content, nil
}

// templateAnswer is the static floor: a generic problem-solving outline that
// still gives the asker something structured to work with.
func templateAnswer(q datatypes.Query) string {
	return fmt.Sprintf(`Problem: %s

A general approach:
1. Identify what is given and what is asked.
2. Write down the definitions and formulas that involve those quantities.
3. Substitute the known values and simplify step by step.
4. Check the result against the original question (units, sign, magnitude).

Final answer: unable to compute a specific answer right now; the steps above
outline how to work the problem by hand.`, strings.TrimSpace(q.Raw))
}
