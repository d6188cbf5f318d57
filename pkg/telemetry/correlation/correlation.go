package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

type correlationKey struct{}

type actorKey struct{}

// Actor identifies who triggered an operation, e.g. a user or a scheduler job.
type Actor struct {
	Type string
	ID   string
}

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// ExtractCorrelationID fetches a correlation ID from the context if present.
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// ContextWithCorrelationID sets the correlation ID onto the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID guarantees a correlation ID on the context, generating one when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	return ContextWithCorrelationID(ctx, cid), cid
}

func ContextWithActor(ctx context.Context, actorType, actorID string) context.Context {
	actorType = strings.TrimSpace(actorType)
	if actorType == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, Actor{Type: actorType, ID: strings.TrimSpace(actorID)})
}

// ActorFromContext returns the acting principal, defaulting to the system actor.
func ActorFromContext(ctx context.Context) Actor {
	if ctx != nil {
		if actor, ok := ctx.Value(actorKey{}).(Actor); ok {
			return actor
		}
	}
	return Actor{Type: ActorTypeSystem}
}

// InjectTraceIntoMetadata stamps correlation and trace identifiers onto a
// metadata map, keeping any correlation id already present.
func InjectTraceIntoMetadata(ctx context.Context, metadata map[string]any) map[string]any {
	if metadata == nil {
		metadata = map[string]any{}
	}

	if current, ok := metadata["correlation_id"].(string); !ok || current == "" {
		cid := ExtractCorrelationID(ctx)
		if cid == "" {
			cid = ulid.Make().String()
		}
		metadata["correlation_id"] = cid
	}

	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
		metadata["span_id"] = sc.SpanID().String()
	}
	return metadata
}

// ContextWithRemoteSpan seeds the context with a remote span if valid identifiers are provided.
func ContextWithRemoteSpan(ctx context.Context, traceIDHex, spanIDHex string) context.Context {
	if traceIDHex == "" || spanIDHex == "" {
		return ctx
	}

	traceID, err := trace.TraceIDFromHex(traceIDHex)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(spanIDHex)
	if err != nil {
		return ctx
	}

	parent := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled, Remote: true})
	return trace.ContextWithSpanContext(ctx, parent)
}
