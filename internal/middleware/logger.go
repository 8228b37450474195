package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware stores a request-scoped logger (tagged with the request id)
// on the context and writes one access line when the handler chain returns.
// Server errors are logged at Warn so they stand out from routine traffic.
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		reqLogger := logger
		if id := c.GetString("request_id"); id != "" {
			reqLogger = logger.With("requestId", id)
		}
		c.Set("logger", reqLogger)
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"bytes", c.Writer.Size(),
			"durationMs", time.Since(start).Milliseconds(),
			"clientIp", c.ClientIP(),
		}
		if sub := c.GetString("subject"); sub != "" {
			attrs = append(attrs, "subject", sub)
		}
		reqLogger.Log(c.Request.Context(), level, "http request", attrs...)
	}
}
