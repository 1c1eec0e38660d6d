package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/tillpoint/api/internal/services")

func startSpan(ctx context.Context, name, stationID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("register.station_id", stationID)))
}

// endSpan records err on the span before ending it. Validation failures are cashier input, not
// server errors, so they do not mark the span as failed.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if _, ok := IsValidation(err); !ok {
			span.SetStatus(otelcodes.Error, err.Error())
		}
	}
	span.End()
}
