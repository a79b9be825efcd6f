package tracing

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/fieldops/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	httpTracerName       = "fieldops/http"
	settlementTracerName = "fieldops/settlement"
)

// GinMiddleware opens a server span per request, continuing any trace
// propagated by the caller.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(httpTracerName)
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName(c.Request.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		// The actor is attached by route middleware further down the chain.
		rctx := c.Request.Context()
		if requestID := obscontext.RequestIDFromContext(rctx); requestID != "" {
			span.SetAttributes(attribute.String("request_id", requestID))
		}
		if _, actorID := obscontext.ActorFromContext(rctx); actorID != "" {
			span.SetAttributes(attribute.String("actor_id", actorID))
		}

		lastErr := c.Errors.Last()
		switch {
		case status >= http.StatusInternalServerError:
			if lastErr != nil {
				span.RecordError(lastErr.Err)
			}
			span.SetStatus(codes.Error, http.StatusText(status))
		case lastErr != nil:
			span.AddEvent("request rejected", trace.WithAttributes(attribute.String("error", lastErr.Error())))
		}
	}
}

// StartSpan opens an internal span under the settlement tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(settlementTracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartSettlement opens a span for one settlement run over a period label
// such as "2025-W10". The returned func ends the span and records err.
func StartSettlement(ctx context.Context, operation, period string) (context.Context, func(err error)) {
	ctx, span := StartSpan(ctx, operation, attribute.String("settlement.period", period))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
