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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mathesis-ai/mathesis/services/resolver/datatypes"
)

// ServiceVersion is the resolver service version.
const ServiceVersion = "0.1.0"

// Handlers contains the HTTP handlers for the resolver service.
type Handlers struct {
	pipeline *Pipeline
	readies  map[string]func() error
}

// NewHandlers creates handlers for the given pipeline.
func NewHandlers(pipeline *Pipeline) *Handlers {
	return &Handlers{
		pipeline: pipeline,
		readies:  make(map[string]func() error),
	}
}

// WithReadiness registers a named backend readiness probe, reported by
// GET /v1/resolver/ready. Probes run on every readiness request.
func (h *Handlers) WithReadiness(name string, probe func() error) *Handlers {
	h.readies[name] = probe
	return h
}

// HandleSolve handles POST /v1/resolver/solve.
//
// Description:
//
//	Normalizes the submitted question and runs the resolution pipeline.
//	The pipeline absorbs internal failures, so the only error response
//	this handler produces is a validation failure on the request body.
//
// Request Body:
//
//	datatypes.SolveRequest
//
// Response:
//
//	200 OK: datatypes.SolveResponse
//	400 Bad Request: Validation error
func (h *Handlers) HandleSolve(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSolve")

	var req datatypes.SolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if err := req.Validate(); err != nil {
		logger.Warn("Request validation failed", "error", err)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_QUERY",
		})
		return
	}

	q := Normalize(req.Query)
	if q.Normalized == "" {
		logger.Warn("Query empty after normalization")
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error: "query must contain at least one non-whitespace character",
			Code:  "INVALID_QUERY",
		})
		return
	}

	logger.Info("Resolving query",
		"query_class", string(q.Class),
		"fingerprint", truncateFingerprint(q.Fingerprint))

	result := h.pipeline.Resolve(c.Request.Context(), q)

	logger.Info("Query resolved",
		"found", result.Found,
		"source", result.Source,
		"confidence", result.Confidence,
		"response_time", result.ResponseTime)

	c.JSON(http.StatusOK, result)
}

// HandleCacheStats handles GET /v1/resolver/cache/stats.
func (h *Handlers) HandleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.pipeline.CacheStats())
}

// HandleHealth handles GET /v1/resolver/health.
//
// Liveness only. Always returns 200 while the process serves requests.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "resolver",
		"version": ServiceVersion,
	})
}

// HandleReady handles GET /v1/resolver/ready.
//
// Description:
//
//	Runs every registered backend probe. The service stays ready when an
//	optional backend is down; the response lists each backend's state so
//	operators can see degraded phases. Only a pipeline wiring failure
//	makes the service not ready, since generation guarantees answers
//	regardless of backend health.
func (h *Handlers) HandleReady(c *gin.Context) {
	backends := make(map[string]string, len(h.readies))
	for name, probe := range h.readies {
		if err := probe(); err != nil {
			backends[name] = err.Error()
		} else {
			backends[name] = "ok"
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ready",
		"backends": backends,
	})
}

// getOrCreateRequestID returns the request ID from the X-Request-ID header,
// generating one when absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
