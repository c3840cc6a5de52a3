package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// filteringTracerProvider wraps a real TracerProvider and suppresses
// high-frequency span names to keep trace volume manageable. Suppressed
// spans become no-op spans; everything else passes through untouched.
type filteringTracerProvider struct {
	embedded.TracerProvider

	delegate        trace.TracerProvider
	noop            trace.TracerProvider
	suppressedSpans map[string]bool
}

// NewFilteringTracerProvider wraps delegate so that diagnostic scrape spans
// are replaced with no-op spans. Prometheus scrapes and liveness probes fire
// every few seconds and would otherwise dominate the exported trace stream.
func NewFilteringTracerProvider(delegate trace.TracerProvider) trace.TracerProvider {
	return &filteringTracerProvider{
		delegate: delegate,
		noop:     nooptrace.NewTracerProvider(),
		suppressedSpans: map[string]bool{
			"GET /healthz": true,
			"GET /readyz":  true,
			"GET /metrics": true,
		},
	}
}

// Tracer returns a tracer that replaces suppressed span names with noop spans.
func (f *filteringTracerProvider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return &filteringTracer{
		delegate: f.delegate.Tracer(name, opts...),
		noop:     f.noop.Tracer(name, opts...),
		suppress: f.suppressedSpans,
	}
}

// filteringTracer wraps a real Tracer and returns noop spans for
// suppressed span names while delegating everything else.
type filteringTracer struct {
	embedded.Tracer

	delegate trace.Tracer
	noop     trace.Tracer
	suppress map[string]bool
}

// Start creates a span, returning a noop span for suppressed names.
func (f *filteringTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if f.suppress[name] {
		return f.noop.Start(ctx, name, opts...)
	}

	return f.delegate.Start(ctx, name, opts...)
}
