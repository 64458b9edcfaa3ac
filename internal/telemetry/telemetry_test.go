package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/breatheroute/airwatch/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "airwatch-test",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
	})

	require.NoError(t, err)
	assert.NotNil(t, provider)
	assert.NotNil(t, provider.Tracer)
	assert.NotNil(t, provider.Meter)

	// Noop provider should have nil TracerProvider and MeterProvider
	assert.Nil(t, provider.TracerProvider)
	assert.Nil(t, provider.MeterProvider)

	// Shutdown should not error
	err = provider.Shutdown(ctx)
	assert.NoError(t, err)
}

func TestProvider_Shutdown_NilProviders(t *testing.T) {
	provider := &telemetry.Provider{}
	err := provider.Shutdown(context.Background())
	assert.NoError(t, err)
}

func TestTracer_ReturnsGlobalTracer(t *testing.T) {
	tracer := telemetry.Tracer("test-tracer")
	assert.NotNil(t, tracer)
}

func TestMeter_ReturnsGlobalMeter(t *testing.T) {
	meter := telemetry.Meter("test-meter")
	assert.NotNil(t, meter)
}

func TestStartSpan_RecordsAttributesAndErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	_, span := telemetry.StartSpan(context.Background(), "ingest.batch", telemetry.AttrRows.Int(5))
	telemetry.RecordError(span, errors.New("duplicate report"))
	telemetry.RecordError(span, nil)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "ingest.batch", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), telemetry.AttrRows.Int(5))
	assert.Len(t, spans[0].Events(), 1)
}

func TestConfig_Sampler(t *testing.T) {
	tests := []struct {
		name    string
		ratio   float64
		sampled bool
	}{
		{"keep all", 1, true},
		{"above one keeps all", 2, true},
		{"drop all", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(telemetry.Config{SampleRatio: tt.ratio}.Sampler()))
			_, span := tp.Tracer("test").Start(context.Background(), "ingest.batch")
			defer span.End()

			assert.Equal(t, tt.sampled, span.SpanContext().IsSampled())
		})
	}
}

func TestConfig_Resource(t *testing.T) {
	res := telemetry.Config{ServiceName: "airwatch-api", ServiceVersion: "1.2.3", Environment: "test"}.Resource()

	ns, ok := res.Set().Value(semconv.ServiceNamespaceKey)
	require.True(t, ok)
	assert.Equal(t, telemetry.ServiceNamespace, ns.AsString())

	name, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "airwatch-api", name.AsString())
}
