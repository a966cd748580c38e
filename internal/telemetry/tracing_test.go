package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpansAreRecorded(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), "releasewatch-test")
	require.NoError(t, err)
	defer func() { require.NoError(t, tp.Shutdown(context.Background())) }()

	rec := tracetest.NewSpanRecorder()
	tp.RegisterSpanProcessor(rec)

	_, ok := StartSpan(context.Background(), "cycle.ok", attribute.String("loop", "updates"))
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), "cycle.failed")
	EndSpan(failed, errors.New("feed broken"))
	_, canceled := StartSpan(context.Background(), "cycle.canceled")
	EndSpan(canceled, context.Canceled)

	spans := rec.Ended()
	require.Len(t, spans, 3)
	require.Equal(t, "cycle.ok", spans[0].Name())
	require.Contains(t, spans[0].Attributes(), attribute.String("loop", "updates"))
	require.Equal(t, codes.Unset, spans[0].Status().Code)
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Equal(t, "feed broken", spans[1].Status().Description)
	require.Equal(t, codes.Unset, spans[2].Status().Code)
}
