package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestEnsureCorrelationID(t *testing.T) {
	ctx, id := EnsureCorrelationID(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, ExtractCorrelationID(ctx))

	again, same := EnsureCorrelationID(ctx)
	assert.Equal(t, id, same)
	assert.Equal(t, id, ExtractCorrelationID(again))
}

func TestActorFromContext(t *testing.T) {
	assert.Equal(t, Actor{Type: ActorTypeSystem}, ActorFromContext(context.Background()))

	ctx := ContextWithActor(context.Background(), ActorTypeUser, " u-1 ")
	assert.Equal(t, Actor{Type: ActorTypeUser, ID: "u-1"}, ActorFromContext(ctx))
}

func TestInjectTraceIntoMetadata(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "cid-1")
	ctx = ContextWithRemoteSpan(ctx, "0102030405060708090a0b0c0d0e0f10", "0102030405060708")

	md := InjectTraceIntoMetadata(ctx, nil)
	assert.Equal(t, "cid-1", md["correlation_id"])
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", md["trace_id"])
	assert.Equal(t, "0102030405060708", md["span_id"])

	kept := InjectTraceIntoMetadata(context.Background(), map[string]any{"correlation_id": "keep"})
	assert.Equal(t, "keep", kept["correlation_id"])
	assert.NotContains(t, kept, "trace_id")
}

func TestContextWithRemoteSpanRejectsGarbage(t *testing.T) {
	ctx := ContextWithRemoteSpan(context.Background(), "zz", "yy")
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}
