package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	appctx "txguard/internal/core/context"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

var tracer = otel.Tracer("txguard/http")

// Trace middleware adds request tracing context.
// Extracts or generates trace IDs and opens a server span, so transaction
// spans started by handlers nest under the request.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		tc := appctx.NewTraceContext()
		if requestID := c.GetHeader(HeaderRequestID); requestID != "" {
			tc.RequestID = requestID
		}
		if traceID := c.GetHeader(HeaderTraceID); traceID != "" {
			tc.TraceID = traceID
		}

		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+c.FullPath(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request_id", tc.RequestID),
				attribute.String("http.trace_id", tc.TraceID),
			))
		defer span.End()

		c.Request = c.Request.WithContext(appctx.WithTrace(ctx, tc))

		// Store in gin context for easy access
		c.Set("trace_id", tc.TraceID)
		c.Set("request_id", tc.RequestID)

		// Add to response headers
		c.Header(HeaderRequestID, tc.RequestID)
		c.Header(HeaderTraceID, tc.TraceID)

		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
	}
}
