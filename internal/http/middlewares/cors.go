package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowMethods = "GET,POST,PUT,DELETE,OPTIONS"
	corsAllowHeaders = "Authorization,Content-Type,X-Request-Id,If-None-Match"
	corsExposeHeader = "X-Request-Id,ETag,Retry-After,X-RateLimit-Limit,X-RateLimit-Remaining"
	corsMaxAge       = "600"
)

// CORSMiddleware echoes allowed origins. "*" admits any origin, in which case
// credentials are not advertised. Preflights are answered here.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	wildcard := false

	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(origin, "/")
		if origin == "*" {
			wildcard = true
			continue
		}
		allowed[origin] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		c.Header("Vary", "Origin")

		_, ok := allowed[origin]
		if ok || wildcard {
			c.Header("Access-Control-Allow-Origin", origin)
			if ok {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
			c.Header("Access-Control-Expose-Headers", corsExposeHeader)
		}

		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			if ok || wildcard {
				c.Header("Access-Control-Allow-Methods", corsAllowMethods)
				c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
				c.Header("Access-Control-Max-Age", corsMaxAge)
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
			abortError(c, http.StatusForbidden, "origin_not_allowed", "Origin is not allowed")
			return
		}

		c.Next()
	}
}
