// Package tracehdr builds the bespoke x-trace-* header set that every
// outbound executor/sync HTTP call carries, backed by real OTel span
// context rather than a hand-rolled header bag.
package tracehdr

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Apply sets x-trace-id, x-trace-session-id, x-trace-executor-id,
// x-trace-operation, x-trace-ts, and (when runID is non-empty)
// x-trace-run-id on h, and mirrors the same values as attributes on the
// active span in ctx, if any.
func Apply(ctx context.Context, h http.Header, sessionID, executorID, operation, runID string) {
	span := trace.SpanFromContext(ctx)
	sc := span.SpanContext()

	traceID := sc.TraceID().String()
	if !sc.HasTraceID() {
		traceID = uuid.NewString()
	}

	ts := time.Now().UTC().Format(time.RFC3339Nano)

	h.Set("x-trace-id", traceID)
	h.Set("x-trace-session-id", sessionID)
	h.Set("x-trace-executor-id", executorID)
	h.Set("x-trace-operation", operation)
	h.Set("x-trace-ts", ts)
	if runID != "" {
		h.Set("x-trace-run-id", runID)
	}

	span.SetAttributes(
		attribute.String("trace.session_id", sessionID),
		attribute.String("trace.executor_id", executorID),
		attribute.String("trace.operation", operation),
	)
	if runID != "" {
		span.SetAttributes(attribute.String("trace.run_id", runID))
	}
}
