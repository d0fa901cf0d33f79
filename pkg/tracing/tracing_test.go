package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return rec
}

func TestInitTracer_DisabledInstallsPropagatorOnly(t *testing.T) {
	prev := otel.GetTracerProvider()

	shutdown, err := InitTracer(context.Background(), Config{ServiceName: "wishlist-service"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	assert.Equal(t, prev, otel.GetTracerProvider())
	assert.ElementsMatch(t, []string{"traceparent", "tracestate", "baggage"}, otel.GetTextMapPropagator().Fields())
}

func TestInitTracer_EnabledInstallsSDKProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	for _, rate := range []float64{1, 0.5, 0} {
		// Export is batched, so an unreachable collector does not fail start-up.
		shutdown, err := InitTracer(context.Background(), Config{
			ServiceName:  "wishlist-service",
			Environment:  "test",
			OTLPEndpoint: "127.0.0.1:0",
			SampleRate:   rate,
		})
		require.NoError(t, err, "rate %v", rate)
		assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())
		_ = shutdown(context.Background())
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		parent  bool
		sampled bool
	}{
		{"always", 1, false, true},
		{"never", 0, false, false},
		{"never root but sampled parent", 0, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tracetest.NewSpanRecorder()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec), sdktrace.WithSampler(sampler(tt.rate)))
			t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

			ctx := context.Background()
			if tt.parent {
				ctx = trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
					TraceID:    trace.TraceID{1},
					SpanID:     trace.SpanID{1},
					TraceFlags: trace.FlagsSampled,
				}))
			}
			_, span := tp.Tracer("test").Start(ctx, "op")
			span.End()

			assert.Equal(t, tt.sampled, len(rec.Ended()) == 1)
		})
	}
}

func TestStartEnd(t *testing.T) {
	rec := recordSpans(t)

	_, ok := Start(context.Background(), "wishlist-service", "wishlist.add", attribute.String("wishlist.shop", "demo.myshopify.com"))
	End(ok, nil)
	_, failed := Start(context.Background(), "wishlist-service", "wishlist.remove")
	End(failed, errors.New("store down"))

	spans := rec.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "wishlist.add", spans[0].Name())
	assert.Equal(t, trace.SpanKindInternal, spans[0].SpanKind())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("wishlist.shop", "demo.myshopify.com"))

	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "store down", spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1)
	assert.Equal(t, "exception", spans[1].Events()[0].Name)
}
