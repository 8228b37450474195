package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireScope rejects authenticated callers whose token lacks scope. Requests
// that went through an open AuthMiddleware carry no claims and pass.
func RequireScope(scope string) gin.HandlerFunc {
	scope = strings.TrimSpace(scope)
	return func(c *gin.Context) {
		if scope == "" {
			c.Next()
			return
		}
		claims, ok := GetClaims(c)
		if !ok {
			c.Next()
			return
		}
		if !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "ERR_FORBIDDEN", "message": "missing scope " + scope})
			return
		}
		c.Next()
	}
}
