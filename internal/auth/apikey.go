package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/shotlog/internal/models"
)

const (
	// HeaderAPIKey carries the device's pre-shared key.
	HeaderAPIKey = "X-API-Key"
	// QueryAPIKey is the fallback for clients that cannot set headers (websockets).
	QueryAPIKey = "key"
)

// KeyFromRequest returns the supplied key, header first.
func KeyFromRequest(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); k != "" {
		return k
	}
	return strings.TrimSpace(r.URL.Query().Get(QueryAPIKey))
}

// Valid compares a supplied key against the expected one in constant time.
func Valid(supplied, expected string) bool {
	if supplied == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(expected)) == 1
}

// APIKeyMiddleware rejects requests without the pre-shared key before the
// body is read.
func APIKeyMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !Valid(KeyFromRequest(c.Request), expected) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{OK: false, Error: models.CodeUnauthorized})
			return
		}
		c.Next()
	}
}
