package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func TestNewProviderDisabled(t *testing.T) {
	tp, err := NewProvider(nil, Config{ServiceName: "fieldops", SamplingRatio: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := StartSpan(context.Background(), "payroll.recalculate")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestNewExporterRejectsUnknownProtocol(t *testing.T) {
	_, err := newExporter("carrier-pigeon", "")
	assert.Error(t, err)
}

func TestStartSettlementEndsSpan(t *testing.T) {
	tp, err := NewProvider(nil, Config{ServiceName: "fieldops", SamplingRatio: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, end := StartSettlement(context.Background(), "invoice_generate", "2025-W10")
	span := trace.SpanFromContext(ctx)
	assert.True(t, span.IsRecording())
	end(errors.New("no billable tasks"))
	assert.False(t, span.IsRecording())
}
