// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command mathesis starts the Mathesis resolver API server.
//
// Mathesis resolves free-form math questions through a tiered pipeline:
//   - Human-feedback overrides (corrected answers win)
//   - Exact and curated-pattern cache (RAM + BadgerDB)
//   - Deterministic arithmetic and formula solving
//   - Vector similarity search over solved problems (Weaviate)
//   - Timeout-bounded web search with LLM summarization
//   - LLM generation with a guaranteed static fallback
//
// Usage:
//
//	go run ./cmd/mathesis
//	go run ./cmd/mathesis -config ./mathesis.yaml -debug
//
// With an OpenAI-compatible backend for generation:
//
//	OPENAI_API_KEY=sk-... go run ./cmd/mathesis
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/resolver/health
//
//	# Resolve a question
//	curl -X POST http://localhost:8080/v1/resolver/solve \
//	  -H "Content-Type: application/json" \
//	  -d '{"query": "what is the area of a circle"}'
//
//	# Cache counters
//	curl http://localhost:8080/v1/resolver/cache/stats | jq
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/mathesis-ai/mathesis/services/resolver"
	"github.com/mathesis-ai/mathesis/services/resolver/cache"
	"github.com/mathesis-ai/mathesis/services/resolver/config"
	"github.com/mathesis-ai/mathesis/services/resolver/datatypes"
	"github.com/mathesis-ai/mathesis/services/resolver/feedback"
	"github.com/mathesis-ai/mathesis/services/resolver/generation"
	"github.com/mathesis-ai/mathesis/services/resolver/similarity"
	"github.com/mathesis-ai/mathesis/services/resolver/telemetry"
	"github.com/mathesis-ai/mathesis/services/resolver/websearch"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (optional)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		slog.Error("Failed to init telemetry", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	// Answer cache
	cacheCfg := cache.DefaultConfig(cfg.Cache.Path)
	cacheCfg.Logger = logger
	if cfg.Cache.MaxEntries > 0 {
		cacheCfg.HotCapacity = cfg.Cache.MaxEntries
	}
	store, err := cache.NewStore(cacheCfg)
	if err != nil {
		slog.Error("Failed to open answer cache", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	// Generation adapter: mandatory, degrades to template answers without a
	// reachable backend.
	gen := generation.NewAdapter(generation.Config{
		BaseURL: cfg.Generation.BaseURL,
		Model:   cfg.Generation.Model,
		Logger:  logger,
	})

	opts := []resolver.PipelineOption{
		resolver.WithLogger(logger),
		resolver.WithPhaseSpecs(phaseSpecs(cfg)),
	}
	probes := wireOptionalPhases(cfg, logger, gen, &opts)

	pipeline, err := resolver.NewPipeline(store, resolver.NewPatternSolver(), gen, opts...)
	if err != nil {
		slog.Error("Failed to build pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}
	h := resolver.NewHandlers(pipeline)
	for name, probe := range probes {
		h.WithReadiness(name, probe)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("mathesis-resolver"))
	if *debug {
		router.Use(gin.Logger())
	}
	v1 := router.Group("/v1")
	resolver.RegisterRoutes(v1, h)

	startMetricsServer(cfg.Server.MetricsAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-quit
		slog.Info("Shutting down Mathesis resolver")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", slog.String("error", err.Error()))
		}
	}()

	slog.Info("Starting Mathesis resolver",
		slog.String("address", cfg.Server.ListenAddr),
		slog.String("cache_path", cfg.Cache.Path))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// wireOptionalPhases builds the network-backed phase adapters enabled in the
// config, appending pipeline options and returning readiness probes keyed by
// backend name. A backend that fails to construct is skipped with a warning;
// the pipeline substitutes later phases.
func wireOptionalPhases(cfg config.ResolverConfig, logger *slog.Logger, gen *generation.Adapter, opts *[]resolver.PipelineOption) map[string]func() error {
	probes := make(map[string]func() error)

	if cfg.Feedback.Enabled {
		fb, err := feedback.NewClient(cfg.Feedback.URL, logger)
		if err != nil {
			slog.Warn("Feedback store unavailable, phase disabled",
				slog.String("error", err.Error()))
		} else {
			*opts = append(*opts, resolver.WithFeedback(fb))
			slog.Info("Human-feedback phase ENABLED", slog.String("url", cfg.Feedback.URL))
		}
	}

	if cfg.Similarity.Enabled {
		clientCfg := similarity.DefaultClientConfig()
		clientCfg.URL = cfg.Similarity.URL
		clientCfg.Logger = logger
		client, err := similarity.NewClient(clientCfg)
		if err != nil {
			slog.Warn("Similarity backend unavailable, phase disabled",
				slog.String("error", err.Error()))
		} else {
			*opts = append(*opts, resolver.WithSimilarity(similarity.NewAdapter(client, logger)))
			probes["similarity"] = func() error {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if !client.Ready(ctx) {
					return fmt.Errorf("weaviate not ready")
				}
				return nil
			}
			slog.Info("Similarity phase ENABLED", slog.String("url", cfg.Similarity.URL))
		}
	}

	if cfg.WebSearch.Enabled {
		ws, err := websearch.NewAdapter(websearch.Config{
			ServiceURL:        cfg.WebSearch.ServiceURL,
			Timeout:           cfg.WebSearch.Timeout.Std(),
			RequestsPerSecond: cfg.WebSearch.RequestsPerSecond,
			AllowedDomains:    cfg.WebSearch.AllowedDomains,
			Logger:            logger,
		}, gen)
		if err != nil {
			slog.Warn("Web search unavailable, phase disabled",
				slog.String("error", err.Error()))
		} else {
			*opts = append(*opts, resolver.WithWebSearch(ws))
			slog.Info("Web search phase ENABLED", slog.String("url", cfg.WebSearch.ServiceURL))
		}
	}

	return probes
}

// phaseSpecs merges config overrides onto the default phase chain. Order is
// fixed; only thresholds and timeouts are tunable.
func phaseSpecs(cfg config.ResolverConfig) []datatypes.PhaseSpec {
	specs := resolver.DefaultPhaseSpecs()
	for _, override := range cfg.Phases {
		for i := range specs {
			if specs[i].Name != override.Name {
				continue
			}
			specs[i].MinConfidence = override.MinConfidence
			if override.Timeout > 0 {
				specs[i].Timeout = override.Timeout.Std()
			}
		}
	}
	return specs
}

// startMetricsServer serves the Prometheus /metrics endpoint on its own
// listener when an address is configured.
func startMetricsServer(addr string) {
	if addr == "" {
		return
	}
	handler := telemetry.MetricsHandler()
	if handler == nil {
		slog.Info("Prometheus exporter disabled, skipping metrics listener")
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	go func() {
		slog.Info("Starting metrics listener", slog.String("address", addr))
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics listener failed", slog.String("error", err.Error()))
		}
	}()
}
