// Package tracing carries an OpenTelemetry SpanContext across the
// wire formats devicehub already uses for propagation headers:
// blueprint.ExecContext.TraceHeaders and ports.BrokerEvent.Headers
// (spec.md §9 "Observability headers"). It speaks the standard W3C
// traceparent format so any otel-instrumented downstream consumer
// understands it without devicehub-specific decoding.
package tracing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

const traceparentKey = "traceparent"

// Inject encodes ctx's current span context (if it holds a valid one,
// sampled or not) as a traceparent header, for attaching to an
// ExecContext or BrokerEvent about to cross a component boundary.
func Inject(ctx context.Context) map[string]string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return map[string]string{
		traceparentKey: fmt.Sprintf("00-%s-%s-%02x", sc.TraceID(), sc.SpanID(), byte(sc.TraceFlags())),
	}
}

// Extract parses a traceparent header out of headers, if present, and
// returns ctx with that SpanContext attached so a handler's own spans
// are parented to the caller's.
func Extract(ctx context.Context, headers map[string]string) context.Context {
	raw, ok := headers[traceparentKey]
	if !ok {
		return ctx
	}

	sc, ok := parseTraceparent(raw)
	if !ok {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

func parseTraceparent(raw string) (trace.SpanContext, bool) {
	parts := strings.Split(raw, "-")
	if len(parts) != 4 {
		return trace.SpanContext{}, false
	}
	traceIDHex, spanIDHex, flagsHex := parts[1], parts[2], parts[3]

	traceID, err := trace.TraceIDFromHex(traceIDHex)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(spanIDHex)
	if err != nil {
		return trace.SpanContext{}, false
	}
	flags, err := strconv.ParseUint(flagsHex, 16, 8)
	if err != nil {
		return trace.SpanContext{}, false
	}

	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.TraceFlags(flags),
		Remote:     true,
	}), true
}
