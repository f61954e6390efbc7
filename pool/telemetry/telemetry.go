// Package telemetry adds optional OpenTelemetry tracing around pool
// operations, gated so it costs nothing when disabled. pool.DataSource opens
// a span around connection acquisition only; connection creation and
// keep-alive validation are not traced.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/quillsql/quill/pool"

var tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion("1.0.0"))

// Config controls whether tracing is active.
type Config struct {
	Enabled bool
}

// Tracer wraps pool operations in spans when enabled, and is otherwise a
// transparent passthrough.
type Tracer struct {
	enabled bool
}

// New builds a Tracer from cfg.
func New(cfg Config) *Tracer {
	return &Tracer{enabled: cfg.Enabled}
}

// StartSpan starts a span for operation if tracing is enabled; otherwise it
// returns ctx and a no-op span so callers can call FinishSpan unconditionally.
func (t *Tracer) StartSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := tracer.Start(ctx, operation)
	span.SetAttributes(
		attribute.String("db.system", "mysql"),
		attribute.String("pool.operation", operation),
	)
	return ctx, span
}

// FinishSpan records err on span, sets its status, and ends it.
func (t *Tracer) FinishSpan(span trace.Span, err error) {
	if !t.enabled {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
