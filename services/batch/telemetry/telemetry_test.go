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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit(t *testing.T) {
	t.Run("nil context", func(t *testing.T) {
		//nolint:staticcheck
		_, err := Init(nil, DefaultConfig())
		assert.ErrorIs(t, err, ErrNilContext)
	})

	t.Run("none", func(t *testing.T) {
		cfg := Config{TraceExporter: "none", MetricExporter: "none"}
		shutdown, err := Init(context.Background(), cfg)
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("unknown trace exporter", func(t *testing.T) {
		_, err := Init(context.Background(), Config{TraceExporter: "zipkin"})
		assert.ErrorIs(t, err, ErrUnknownExporter)
	})

	t.Run("unknown metric exporter", func(t *testing.T) {
		_, err := Init(context.Background(), Config{MetricExporter: "graphite"})
		assert.ErrorIs(t, err, ErrUnknownExporter)
	})

	t.Run("stdout", func(t *testing.T) {
		cfg := Config{ServiceName: "test", TraceExporter: "stdout", MetricExporter: "stdout"}
		shutdown, err := Init(context.Background(), cfg)
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})
}

func TestNewMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.JobsSubmitted.Add(ctx, 2)
	m.JobsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("result", ResultSolved)))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, mm := range sm.Metrics {
			names[mm.Name] = true
		}
	}
	assert.True(t, names["proverbatch_jobs_submitted_total"])
	assert.True(t, names["proverbatch_jobs_completed_total"])
}

func TestSpanHelpers(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "ok")
	SetSpanOK(span)

	var buf bytes.Buffer
	logger := LoggerWithTrace(ctx, slog.New(slog.NewJSONHandler(&buf, nil)))
	logger.Info("hello")
	assert.Contains(t, buf.String(), `"trace_id"`)
	span.End()

	_, span = tp.Tracer("test").Start(context.Background(), "failed")
	RecordError(span, errors.New("boom"), attribute.String("problem", "p.p"))
	RecordError(span, nil)
	RecordError(nil, errors.New("ignored"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, "boom", ended[1].Status().Description)

	plain := slog.Default()
	assert.Same(t, plain, LoggerWithTrace(context.Background(), plain))
}
