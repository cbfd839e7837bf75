package observability

import (
	"errors"

	contextutils "triviaapp/internal/utils"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddlewareWithErrorHandling wraps otelgin and enriches the request span
// with error attributes for failed requests.
func GinMiddlewareWithErrorHandling(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		otelgin.Middleware(serviceName)(c)

		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if span == nil {
			return
		}
		statusCode := c.Writer.Status()
		if statusCode < 400 {
			return
		}

		errorMsg := "client error"
		if statusCode >= 500 {
			errorMsg = "server error"
		}
		severity := string(contextutils.SeverityWarn)
		if statusCode >= 500 {
			severity = string(contextutils.SeverityError)
		}
		for _, ginErr := range c.Errors {
			var appErr *contextutils.AppError
			if errors.As(ginErr.Err, &appErr) {
				errorMsg = appErr.Message
				severity = string(appErr.Severity)
				break
			}
			errorMsg = ginErr.Error()
		}

		span.RecordError(errors.New(errorMsg), trace.WithStackTrace(true))
		span.SetStatus(codes.Error, errorMsg)
		span.SetAttributes(
			attribute.Int("http.status_code", statusCode),
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.path", c.Request.URL.Path),
			attribute.String("error.handler", c.HandlerName()),
			attribute.String("error.severity", severity),
		)

		session := sessions.Default(c)
		if userID, ok := session.Get("user_id").(int); ok {
			span.SetAttributes(attribute.Int("error.user_id", userID))
		}
	}
}
