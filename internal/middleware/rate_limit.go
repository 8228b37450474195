package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/imagegate/internal/metrics"
	"github.com/osvaldoandrade/imagegate/internal/ratelimit"
)

// throttle binds one limiter bucket to a metrics scope and operation.
type throttle struct {
	lim       ratelimit.Limiter
	bucket    ratelimit.Bucket
	scope     string
	operation string
}

// RateLimitGenerate throttles image generation per caller. Every generation
// holds a remote task slot, so this is the only throttled route.
func RateLimitGenerate(lim ratelimit.Limiter, bucket ratelimit.Bucket) gin.HandlerFunc {
	return throttle{lim: lim, bucket: bucket, scope: "generate", operation: "generate_image"}.handle
}

func (t throttle) handle(c *gin.Context) {
	if t.lim == nil || !t.bucket.Enabled() {
		c.Next()
		return
	}

	dec, err := t.lim.Allow(c.Request.Context(), t.scope, callerKey(c), t.bucket)
	if err != nil {
		// Fail open: a Redis outage must not stop generation.
		slog.Default().Warn("rate limit check failed", "scope", t.scope, "op", t.operation, "err", err)
		c.Next()
		return
	}

	h := c.Writer.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(t.bucket.BurstSize))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
	if dec.Allowed {
		c.Next()
		return
	}

	retryAfter := max(int(dec.RetryAfter.Seconds()), 1)
	h.Set("Retry-After", strconv.Itoa(retryAfter))
	metrics.RateLimitHitsTotal.WithLabelValues(t.scope, t.operation).Inc()
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"code":              "ERR_RATE_LIMITED",
		"message":           "rate limit exceeded",
		"scope":             t.scope,
		"operation":         t.operation,
		"retryAfterSeconds": retryAfter,
	})
}

// callerKey identifies the caller: the authenticated subject, then the bearer
// token, then the client IP.
func callerKey(c *gin.Context) string {
	if sub := c.GetString("subject"); sub != "" {
		return "sub:" + sub
	}
	if tok := bearerToken(c.GetHeader("Authorization")); tok != "" {
		return "tok:" + tok
	}
	return "ip:" + c.ClientIP()
}

// bearerToken extracts the credential from "Bearer <token>"; the scheme is
// case-insensitive.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
