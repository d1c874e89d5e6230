// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestInitNilContext(t *testing.T) {
	if _, err := Init(nil, DefaultConfig()); !errors.Is(err, ErrNilContext) {
		t.Errorf("err = %v, want ErrNilContext", err)
	}
}

func TestInitStdoutExporters(t *testing.T) {
	cfg := Config{
		ServiceName:    "mathesis-test",
		ServiceVersion: "0.0.0",
		Environment:    "test",
		TraceExporter:  "stdout",
		MetricExporter: "stdout",
	}

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitDisabledExporters(t *testing.T) {
	cfg := Config{
		ServiceName:    "mathesis-test",
		TraceExporter:  "none",
		MetricExporter: "none",
	}

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitUnknownExporter(t *testing.T) {
	cfg := Config{
		ServiceName:    "mathesis-test",
		TraceExporter:  "carrier-pigeon",
		MetricExporter: "none",
	}

	if _, err := Init(context.Background(), cfg); !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("err = %v, want ErrUnknownExporter", err)
	}
}

func TestMetricsHandlerAfterPrometheusInit(t *testing.T) {
	cfg := Config{
		ServiceName:    "mathesis-test",
		TraceExporter:  "none",
		MetricExporter: "prometheus",
	}

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer shutdown(context.Background())

	if MetricsHandler() == nil {
		t.Error("MetricsHandler() = nil after prometheus init, want a handler")
	}
}
