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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all resolver routes with the router.
//
// Description:
//
//	Registers all /v1/resolver/* endpoints with the given Gin router
//	group. The router group should already have any required middleware
//	applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/resolver/solve - Resolve a math question
//	GET  /v1/resolver/cache/stats - Cache tier counters
//	GET  /v1/resolver/health - Health check
//	GET  /v1/resolver/ready - Readiness check with backend states
//
// Example:
//
//	pipeline, _ := resolver.NewPipeline(cache, solver, gen)
//	handlers := resolver.NewHandlers(pipeline)
//
//	v1 := router.Group("/v1")
//	resolver.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	res := rg.Group("/resolver")
	{
		res.POST("/solve", handlers.HandleSolve)

		res.GET("/cache/stats", handlers.HandleCacheStats)

		res.GET("/health", handlers.HandleHealth)
		res.GET("/ready", handlers.HandleReady)
	}
}
