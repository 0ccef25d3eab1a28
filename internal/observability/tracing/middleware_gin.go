package tracing

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/rubenoroz/closeframe-sub002/internal/observability/context"
	"github.com/rubenoroz/closeframe-sub002/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "closeframe/http"

func skipTrace(path string) bool {
	return path == "/health" || path == "/metrics"
}

// GinMiddleware opens one server span per request, continuing any upstream
// trace found in the headers. The span is renamed to the matched route once
// the handler has run.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		if skipTrace(c.Request.URL.Path) {
			c.Next()
			return
		}

		parent := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(parent, c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		began := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		span.SetName(c.Request.Method + " " + route)

		status := c.Writer.Status()
		reqCtx := c.Request.Context()
		attrs := []attribute.KeyValue{
			attribute.String("http.request.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", status),
			attribute.Int64("http.server.duration_ms", time.Since(began).Milliseconds()),
			attribute.String("request_id", obscontext.RequestIDFromContext(reqCtx)),
			attribute.String("account.id", obscontext.AccountIDFromContext(reqCtx)),
			attribute.String("correlation_id", correlation.ExtractCorrelationID(reqCtx)),
			attribute.String("webhook.event_type", c.GetString("webhook_event_type")),
		}
		span.SetAttributes(SafeAttributes(nonEmpty(attrs)...)...)

		if status < http.StatusInternalServerError {
			return
		}
		if last := c.Errors.Last(); last != nil {
			span.RecordError(SafeError(last.Err))
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func nonEmpty(attrs []attribute.KeyValue) []attribute.KeyValue {
	kept := attrs[:0]
	for _, attr := range attrs {
		if attr.Value.Type() == attribute.STRING && attr.Value.AsString() == "" {
			continue
		}
		kept = append(kept, attr)
	}
	return kept
}
