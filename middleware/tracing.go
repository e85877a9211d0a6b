package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mikaelliljedahl/PRFactory-sub003/item"
)

// tracerName is the instrumentation scope name for step tracing.
const tracerName = "github.com/mikaelliljedahl/PRFactory-sub003"

// Tracing returns middleware that wraps step execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through with zero
// overhead.
//
// Span attributes include: prfactory.step, prfactory.work_item.id,
// prfactory.work_item.phase, prfactory.tenant_id, prfactory.retry_count.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, w *item.WorkItem, step string, next Handler) error {
		ctx, span := tracer.Start(ctx, "prfactory.step.execute",
			trace.WithAttributes(
				attribute.String("prfactory.step", step),
				attribute.String("prfactory.work_item.id", w.ID.String()),
				attribute.String("prfactory.work_item.phase", string(w.Phase)),
				attribute.String("prfactory.tenant_id", w.TenantID),
				attribute.Int("prfactory.retry_count", w.RetryCount),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
