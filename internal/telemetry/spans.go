package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used by the core services.
const InstrumentationName = "github.com/breatheroute/airwatch"

// Attribute keys recorded on ingestion and query spans.
const (
	AttrBatchID  = attribute.Key("airwatch.batch.id")
	AttrRows     = attribute.Key("airwatch.batch.rows")
	AttrImputed  = attribute.Key("airwatch.batch.imputed_cells")
	AttrInserted = attribute.Key("airwatch.batch.inserted")
	AttrAlerts   = attribute.Key("airwatch.alerts")
	AttrCity     = attribute.Key("airwatch.city")
	AttrQuery    = attribute.Key("airwatch.query")
)

// StartSpan starts a span on the global tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer(InstrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks span as failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
