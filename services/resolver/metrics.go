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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for pipeline metrics. Exported through the Prometheus
// bridge configured in the telemetry package.
var meter = otel.Meter("mathesis.resolver")

// Metrics for pipeline phase decisions.
var (
	phaseDecisions metric.Int64Counter
	phaseLatency   metric.Float64Histogram
	phaseAccepts   metric.Float64Histogram
	cacheWrites    metric.Int64Counter
	fallbacks      metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		phaseDecisions, err = meter.Int64Counter(
			"resolver_phase_decisions_total",
			metric.WithDescription("Phase outcomes by phase and decision"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		phaseLatency, err = meter.Float64Histogram(
			"resolver_phase_duration_seconds",
			metric.WithDescription("Duration of individual resolution phases"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		phaseAccepts, err = meter.Float64Histogram(
			"resolver_accepted_confidence",
			metric.WithDescription("Confidence of accepted candidates by phase"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheWrites, err = meter.Int64Counter(
			"resolver_cache_writes_total",
			metric.WithDescription("Answers written back to the cache by producing phase"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fallbacks, err = meter.Int64Counter(
			"resolver_fallbacks_total",
			metric.WithDescription("Resolutions that terminated in the fallback state"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordPhaseDecision records one phase outcome and its latency.
func recordPhaseDecision(phase, decision string, elapsed time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("decision", decision),
	)
	ctx := context.Background()
	phaseDecisions.Add(ctx, 1, attrs)
	phaseLatency.Record(ctx, elapsed.Seconds(), attrs)
}

// recordPhaseAccept records the confidence of an accepted candidate.
func recordPhaseAccept(phase string, confidence float64) {
	if err := initMetrics(); err != nil {
		return
	}
	phaseAccepts.Record(context.Background(), confidence,
		metric.WithAttributes(attribute.String("phase", phase)),
	)
}

// recordCacheWrite records a cache write-back by producing phase.
func recordCacheWrite(phase string) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheWrites.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("phase", phase)),
	)
}

// recordFallback records a fallback termination.
func recordFallback() {
	if err := initMetrics(); err != nil {
		return
	}
	fallbacks.Add(context.Background(), 1)
}
