package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/osvaldoandrade/imagegate/pkg/auth"

	"github.com/gin-gonic/gin"
)

const claimsKey = "authClaims"

var (
	errMissingAuthHeader   = errors.New("missing Authorization header")
	errMalformedAuthHeader = errors.New("invalid Authorization format")
)

// AuthMiddleware requires a valid bearer token. A nil validator disables
// authentication so the service can run open in development.
func AuthMiddleware(validator auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validator == nil {
			c.Next()
			return
		}
		claims, err := validateBearer(validator, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "ERR_UNAUTHORIZED", "message": err.Error()})
			return
		}
		c.Set(claimsKey, claims)
		subject := strings.TrimSpace(claims.Subject)
		if subject == "" {
			subject = strings.TrimSpace(claims.Email)
		}
		c.Set("subject", subject)
		c.Next()
	}
}

func validateBearer(validator auth.Validator, authHeader string) (*auth.Claims, error) {
	if strings.TrimSpace(authHeader) == "" {
		return nil, errMissingAuthHeader
	}
	token := bearerToken(authHeader)
	if token == "" {
		return nil, errMalformedAuthHeader
	}
	return validator.Validate(token)
}

// GetClaims returns the claims stored by AuthMiddleware.
func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}
