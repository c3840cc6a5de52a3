package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/sensoria/internal/observability"
)

func TestEndToEnd_TraceExported(t *testing.T) {
	t.Parallel()
	// Set up an in-memory span exporter to capture spans.
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	tracer := tp.Tracer("sensoria")

	// Simulate engine startup: root span with child subsystem spans.
	ctx, rootSpan := tracer.Start(context.Background(), "engine.start")

	_, directorySpan := tracer.Start(ctx, "directory.start")
	directorySpan.End()

	_, monitorSpan := tracer.Start(ctx, "monitor.start")
	monitorSpan.End()

	_, replicatorSpan := tracer.Start(ctx, "replicators.start")
	replicatorSpan.End()

	rootSpan.End()

	// Verify spans were captured.
	spans := exporter.GetSpans()
	require.Len(t, spans, 4)

	// All child spans should share the root's trace ID.
	rootTraceID := spans[3].SpanContext.TraceID()
	for _, span := range spans[:3] {
		assert.Equal(t, rootTraceID, span.SpanContext.TraceID(),
			"child span %q should share root trace ID", span.Name)
	}

	// Verify span names.
	spanNames := make([]string, len(spans))
	for i, span := range spans {
		spanNames[i] = span.Name
	}

	assert.Contains(t, spanNames, "engine.start")
	assert.Contains(t, spanNames, "directory.start")
	assert.Contains(t, spanNames, "monitor.start")
	assert.Contains(t, spanNames, "replicators.start")

	// Verify parent-child relationship: all subsystems have root as parent.
	rootSpanID := spans[3].SpanContext.SpanID()
	for _, span := range spans[:3] {
		assert.Equal(t, rootSpanID, span.Parent.SpanID(),
			"child span %q should have root as parent", span.Name)
	}
}

func TestEndToEnd_MetricsExported(t *testing.T) {
	t.Parallel()
	// Set up an in-memory metric reader.
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter("sensoria")

	red, err := observability.NewREDMetrics(meter)
	require.NoError(t, err)

	ctx := context.Background()

	// Simulate a pair of tool calls and one failure.
	red.RecordRequest(ctx, "sensor_state", "ok", time.Millisecond*5)
	red.RecordRequest(ctx, "attention", "ok", time.Millisecond*2)
	red.RecordRequest(ctx, "sensor_state", "error", time.Millisecond*50)

	// Collect metrics.
	var rm metricdata.ResourceMetrics

	err = reader.Collect(ctx, &rm)
	require.NoError(t, err)

	// Verify request counter exists and has recordings.
	reqTotal := findMetric(rm, "sensoria.requests.total")
	require.NotNil(t, reqTotal, "sensoria.requests.total metric not found")

	// Verify duration histogram exists.
	reqDuration := findMetric(rm, "sensoria.request.duration.seconds")
	require.NotNil(t, reqDuration, "sensoria.request.duration.seconds metric not found")

	// Verify error counter exists.
	errTotal := findMetric(rm, "sensoria.errors.total")
	require.NotNil(t, errTotal, "sensoria.errors.total metric not found")
}

func TestEndToEnd_MiddlewareProducesSpans(t *testing.T) {
	t.Parallel()
	// Full integration: Init-like setup with in-memory exporter, HTTP
	// middleware creates spans, spans are captured.
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	tracer := tp.Tracer("sensoria")

	// Wire middleware around a handler that creates a child span.
	inner := http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		_, child := tracer.Start(hr.Context(), "store.snapshot")
		child.End()

		rw.WriteHeader(http.StatusOK)
	})

	mw := observability.HTTPMiddleware(tracer, discardLogger, inner)

	req := httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)
	rec := httptest.NewRecorder()

	mw.ServeHTTP(rec, req)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	// Verify parent-child: snapshot is child of the middleware span.
	middlewareSpan := spans[1] // middleware span ends last.
	snapshotSpan := spans[0]

	assert.Equal(t, "GET /readyz", middlewareSpan.Name)
	assert.Equal(t, "store.snapshot", snapshotSpan.Name)
	assert.Equal(t, middlewareSpan.SpanContext.SpanID(), snapshotSpan.Parent.SpanID())
}
