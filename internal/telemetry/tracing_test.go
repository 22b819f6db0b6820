package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

func TestInitTracerProvider_TagsSpans(t *testing.T) {
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()

	tp, err := InitTracerProvider(ctx, "pitchfork-crawler", "run-123", sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, tp.Shutdown(ctx)) })
	require.Same(t, tp, otel.GetTracerProvider())

	_, span := Tracer("fetcher").Start(ctx, "fetch")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "fetch", ended[0].Name())
	require.Equal(t, "github.com/JakeFAU/pitchfork-crawler/fetcher", ended[0].InstrumentationScope().Name)

	attrs := ended[0].Resource().Attributes()
	require.Contains(t, attrs, semconv.ServiceName("pitchfork-crawler"))
	require.Contains(t, attrs, RunIDAttribute.String("run-123"))
}
