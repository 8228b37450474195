package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware opens a server span per request, joined to the caller's
// W3C trace when one is propagated. The span is renamed to the matched route
// once the handler chain has run so generate and asset requests group cleanly.
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = "imagegate"
	}
	tracer := otel.Tracer(serviceName + "/http")

	return func(c *gin.Context) {
		req := c.Request
		parent := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
		ctx, span := tracer.Start(parent, spanName(req.Method, req.URL.Path),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.target", req.URL.Path),
				attribute.String("http.host", req.Host),
				attribute.String("http.user_agent", req.UserAgent()),
			),
		)
		defer span.End()
		c.Request = req.WithContext(ctx)

		c.Next()

		if route := c.FullPath(); route != "" {
			span.SetName(spanName(req.Method, route))
			span.SetAttributes(attribute.String("http.route", route))
		}
		status := c.Writer.Status()
		attrs := []attribute.KeyValue{attribute.Int("http.status_code", status)}
		if id := c.GetString("request_id"); id != "" {
			attrs = append(attrs, attribute.String("http.request_id", id))
		}
		if sub := c.GetString("subject"); sub != "" {
			attrs = append(attrs, attribute.String("enduser.id", sub))
		}
		if code := c.GetString("errorCode"); code != "" {
			attrs = append(attrs, attribute.String("imagegate.error_code", code))
		}
		span.SetAttributes(attrs...)

		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func spanName(method, path string) string {
	return "HTTP " + method + " " + path
}
