package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProviderDisabledStillTraces(t *testing.T) {
	provider, err := NewProvider(nil, Config{ServiceName: "aerocert", SamplingRatio: 1}, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	_, span := Start(context.Background(), "renew")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
}

func TestNewExporterRejectsUnknownProtocol(t *testing.T) {
	_, err := newExporter("carrier-pigeon", "")
	assert.Error(t, err)
}

func TestClampRatio(t *testing.T) {
	assert.Equal(t, 0.0, clampRatio(-1))
	assert.Equal(t, 1.0, clampRatio(3))
	assert.Equal(t, 0.25, clampRatio(0.25))
}
