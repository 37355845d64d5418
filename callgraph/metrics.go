// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callgraph

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for call-graph operations.
var (
	tracer = otel.Tracer("drift.callgraph")
	meter  = otel.Meter("drift.callgraph")
)

// Metrics for graph building.
var (
	buildLatency      metric.Float64Histogram
	buildTotal        metric.Int64Counter
	functionsPerBuild metric.Int64Histogram
	callSitesPerBuild metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"callgraph_build_duration_seconds",
			metric.WithDescription("Duration of call graph build operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"callgraph_build_total",
			metric.WithDescription("Total number of call graph build operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		functionsPerBuild, err = meter.Int64Histogram(
			"callgraph_functions_created",
			metric.WithDescription("Number of function nodes created per build"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		callSitesPerBuild, err = meter.Int64Histogram(
			"callgraph_call_sites_created",
			metric.WithDescription("Number of call sites created per build"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuildMetrics records metrics for one build run.
func recordBuildMetrics(ctx context.Context, duration time.Duration, functionCount, callSiteCount int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))

	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)

	if success {
		functionsPerBuild.Record(ctx, int64(functionCount))
		callSitesPerBuild.Record(ctx, int64(callSiteCount))
	}
}

// startBuildSpan creates a span for a build run.
func startBuildSpan(ctx context.Context, fileCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Builder.Build",
		trace.WithAttributes(
			attribute.Int("callgraph.file_count", fileCount),
		),
	)
}

// setBuildSpanResult sets the result attributes on a build span.
func setBuildSpanResult(span trace.Span, functionCount, callSiteCount int, incomplete bool) {
	span.SetAttributes(
		attribute.Int("callgraph.function_count", functionCount),
		attribute.Int("callgraph.call_site_count", callSiteCount),
		attribute.Bool("callgraph.incomplete", incomplete),
	)
}
